package stage

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/updraft-dev/updraft/pkg/logger"
)

func writeZip(t *testing.T, fs afero.Fs, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %q: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing archive: %v", err)
	}
}

func newTestStager(fs afero.Fs) (*Stager, *logger.MockLogger) {
	log := logger.NewMockLogger()
	s := New(fs, log)
	s.ExtractAttempts = 2
	s.ExtractDelay = time.Millisecond
	s.ReadProbeBudget = 20 * time.Millisecond
	s.ReadProbeInterval = time.Millisecond
	return s, log
}

func TestStageExtractsArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/work/agent.zip", map[string]string{
		"app.exe":      "binary",
		"data.bin":     "payload",
		"sub/conf.ini": "key=value",
	})

	s, _ := newTestStager(fs)
	if err := s.Stage(context.Background(), "/work/agent.zip", "/work/staged"); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	for path, want := range map[string]string{
		"/work/staged/app.exe":      "binary",
		"/work/staged/data.bin":     "payload",
		"/work/staged/sub/conf.ini": "key=value",
	} {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", path, data, want)
		}
	}
}

func TestStageStartsFromEmptyDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/work/agent.zip", map[string]string{"app.exe": "v2"})

	// Leftovers from a previous aborted run.
	if err := afero.WriteFile(fs, "/work/staged/stale.dll", []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	s, _ := newTestStager(fs)
	if err := s.Stage(context.Background(), "/work/agent.zip", "/work/staged"); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if _, err := fs.Stat("/work/staged/stale.dll"); err == nil {
		t.Error("stale file survived staging")
	}
	if _, err := fs.Stat("/work/staged/app.exe"); err != nil {
		t.Errorf("expected extracted file missing: %v", err)
	}
}

// lockedFs fails Open on one path a fixed number of times, the way a
// scanner holding a file produces sharing violations. failures < 0 means
// the path never becomes readable.
type lockedFs struct {
	afero.Fs
	path     string
	failures int
	opens    int
}

func (l *lockedFs) Open(name string) (afero.File, error) {
	if name == l.path && l.failures != 0 {
		l.opens++
		if l.failures > 0 {
			l.failures--
		}
		return nil, errors.New("sharing violation")
	}
	return l.Fs.Open(name)
}

func TestStageMissingArchiveIsUnreadable(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, log := newTestStager(fs)

	err := s.Stage(context.Background(), "/work/missing.zip", "/work/staged")
	if !errors.Is(err, ErrUnreadableArtifact) {
		t.Fatalf("Stage = %v, want ErrUnreadableArtifact", err)
	}
	if len(log.WarningCalls) != 2 {
		t.Errorf("warning count = %d, want one per attempt (2): %v", len(log.WarningCalls), log.WarningCalls)
	}
}

func TestStageRetriesTransientlyLockedArchive(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeZip(t, mem, "/work/agent.zip", map[string]string{"app.exe": "binary"})
	fs := &lockedFs{Fs: mem, path: "/work/agent.zip", failures: 1}

	s, log := newTestStager(fs)
	if err := s.Stage(context.Background(), "/work/agent.zip", "/work/staged"); err != nil {
		t.Fatalf("Stage = %v, want success once the archive is released", err)
	}
	if fs.opens != 1 {
		t.Errorf("failed archive opens = %d, want 1", fs.opens)
	}
	if len(log.WarningCalls) != 1 {
		t.Errorf("warning count = %d, want 1: %v", len(log.WarningCalls), log.WarningCalls)
	}
	if _, err := fs.Stat("/work/staged/app.exe"); err != nil {
		t.Errorf("expected extracted file missing: %v", err)
	}
}

func TestStageToleratesUnreadableExtractedFile(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeZip(t, mem, "/work/agent.zip", map[string]string{
		"app.exe":  "binary",
		"data.bin": "payload",
	})
	// One extracted file never becomes readable within the probe budget.
	fs := &lockedFs{Fs: mem, path: "/work/staged/data.bin", failures: -1}

	s, log := newTestStager(fs)
	if err := s.Stage(context.Background(), "/work/agent.zip", "/work/staged"); err != nil {
		t.Fatalf("Stage = %v, want nil despite the held file", err)
	}

	var warned bool
	for _, w := range log.WarningCalls {
		if strings.Contains(w, "/work/staged/data.bin") && strings.Contains(w, "still unreadable") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("no warning about the held file: %v", log.WarningCalls)
	}
}

func TestStageCorruptArchiveRetriesThenFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/work/agent.zip", []byte("this is not a zip"), 0644); err != nil {
		t.Fatal(err)
	}

	s, log := newTestStager(fs)
	err := s.Stage(context.Background(), "/work/agent.zip", "/work/staged")
	if !errors.Is(err, ErrExtractFailed) {
		t.Fatalf("Stage = %v, want ErrExtractFailed", err)
	}
	if len(log.WarningCalls) != 2 {
		t.Errorf("warning count = %d, want one per attempt (2): %v", len(log.WarningCalls), log.WarningCalls)
	}
}

func TestStageRejectsEscapingEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/work/agent.zip", map[string]string{"../evil.txt": "pwned"})

	s, _ := newTestStager(fs)
	err := s.Stage(context.Background(), "/work/agent.zip", "/work/staged")
	if !errors.Is(err, ErrExtractFailed) {
		t.Fatalf("Stage = %v, want ErrExtractFailed", err)
	}
	if _, statErr := fs.Stat("/work/evil.txt"); statErr == nil {
		t.Error("escaping entry was written outside the staging dir")
	}
}
