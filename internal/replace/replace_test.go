package replace

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/updraft-dev/updraft/pkg/logger"
)

func newTestReplacer(fs afero.Fs) (*Replacer, *logger.MockLogger) {
	log := logger.NewMockLogger()
	r := New(fs, log)
	r.FileAttempts = 2
	r.FileDelay = time.Millisecond
	return r, log
}

func write(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestReplaceIsAdditiveMirror(t *testing.T) {
	fs := afero.NewMemMapFs()
	// Install dir has {A, B}; staged dir has {B (updated), C}.
	write(t, fs, "/install/a.dll", "a-v1")
	write(t, fs, "/install/b.dll", "b-v1")
	write(t, fs, "/staged/b.dll", "b-v2")
	write(t, fs, "/staged/c.dll", "c-v2")

	r, _ := newTestReplacer(fs)
	res, err := r.Replace(context.Background(), "/staged", "/install")
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if got := read(t, fs, "/install/a.dll"); got != "a-v1" {
		t.Errorf("extra file a.dll was touched: %q", got)
	}
	if got := read(t, fs, "/install/b.dll"); got != "b-v2" {
		t.Errorf("b.dll = %q, want b-v2", got)
	}
	if got := read(t, fs, "/install/c.dll"); got != "c-v2" {
		t.Errorf("c.dll = %q, want c-v2", got)
	}
	if res.Copied != 2 || res.Failed != 0 {
		t.Errorf("result = %+v, want 2 copied, 0 failed", res)
	}
}

func TestReplaceCopiesNestedDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/staged/plugins/ext.dll", "ext")

	r, _ := newTestReplacer(fs)
	if _, err := r.Replace(context.Background(), "/staged", "/install"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := read(t, fs, "/install/plugins/ext.dll"); got != "ext" {
		t.Errorf("nested file = %q, want ext", got)
	}
}

func TestReplaceSkipsUnchangedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/staged/same.dll", "same")
	write(t, fs, "/install/same.dll", "same")
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fs.Chtimes("/staged/same.dll", stamp, stamp)
	fs.Chtimes("/install/same.dll", stamp, stamp)

	r, _ := newTestReplacer(fs)
	res, err := r.Replace(context.Background(), "/staged", "/install")
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.Skipped != 1 || res.Copied != 0 {
		t.Errorf("result = %+v, want 1 skipped, 0 copied", res)
	}
}

// lockedFs simulates a destination file held by another process: every
// OpenFile on the locked path fails.
type lockedFs struct {
	afero.Fs
	locked string
}

func (l *lockedFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == l.locked && flag&os.O_WRONLY != 0 {
		return nil, errors.New("sharing violation")
	}
	return l.Fs.OpenFile(name, flag, perm)
}

func TestReplaceClassifiesLockedFileAsFailed(t *testing.T) {
	mem := afero.NewMemMapFs()
	write(t, mem, "/staged/locked.dll", "new")
	write(t, mem, "/staged/free.dll", "new")
	write(t, mem, "/install/locked.dll", "old")

	fs := &lockedFs{Fs: mem, locked: "/install/locked.dll"}
	r, log := newTestReplacer(fs)

	res, err := r.Replace(context.Background(), "/staged", "/install")
	if !errors.Is(err, ErrReplaceFailed) {
		t.Fatalf("Replace = %v, want ErrReplaceFailed", err)
	}
	if res.Failed != 1 || res.Copied != 1 {
		t.Errorf("result = %+v, want 1 failed, 1 copied", res)
	}

	// The free file must still have been mirrored despite the failure.
	if got := read(t, mem, "/install/free.dll"); got != "new" {
		t.Errorf("free.dll = %q, want new", got)
	}

	// Two warnings (one per attempt) plus the give-up error.
	if len(log.WarningCalls) != 2 {
		t.Errorf("warnings = %v, want 2 attempts logged", log.WarningCalls)
	}
	if len(log.ErrorCalls) != 1 || !strings.Contains(log.ErrorCalls[0], "locked.dll") {
		t.Errorf("errors = %v, want one give-up entry for locked.dll", log.ErrorCalls)
	}
}

func TestReplaceRecoversWhenLockClears(t *testing.T) {
	mem := afero.NewMemMapFs()
	write(t, mem, "/staged/app.exe", "v2")
	write(t, mem, "/install/app.exe", "v1")

	fs := &flakyFs{Fs: mem, path: "/install/app.exe", failures: 1}
	r, _ := newTestReplacer(fs)

	res, err := r.Replace(context.Background(), "/staged", "/install")
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.Copied != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 copied", res)
	}
	if got := read(t, mem, "/install/app.exe"); got != "v2" {
		t.Errorf("app.exe = %q, want v2", got)
	}
}

// flakyFs fails the first N writes to one path, then lets them through.
type flakyFs struct {
	afero.Fs
	path     string
	failures int
}

func (f *flakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == f.path && flag&os.O_WRONLY != 0 && f.failures > 0 {
		f.failures--
		return nil, errors.New("sharing violation")
	}
	return f.Fs.OpenFile(name, flag, perm)
}
