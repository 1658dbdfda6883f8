// Package stage extracts the downloaded archive into a clean staging
// directory and waits out transient external locks (typically antivirus
// scans) on the extracted files before they are trusted as ready.
package stage

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/updraft-dev/updraft/internal/retry"
	"github.com/updraft-dev/updraft/pkg/logger"
)

// Sentinel errors for staging.
var (
	// ErrExtractFailed is returned when extraction kept failing past the
	// retry budget.
	ErrExtractFailed = errors.New("archive extraction failed")

	// ErrUnreadableArtifact is returned when the downloaded archive itself
	// could not be opened for reading on any extraction attempt. Unlike a
	// slow-to-scan extracted file, an archive still locked after the retry
	// budget is fatal: extraction cannot even begin.
	ErrUnreadableArtifact = errors.New("downloaded archive is not readable")
)

// Default budgets for extraction retries and readability probing.
const (
	DefaultExtractAttempts   = 5
	DefaultExtractDelay      = 3 * time.Second
	DefaultReadProbeBudget   = 300 * time.Second
	DefaultReadProbeInterval = 5 * time.Second
)

// Stager extracts archives into staging directories.
type Stager struct {
	fs  afero.Fs
	log logger.Logger

	// ExtractAttempts is the total number of extraction attempts.
	ExtractAttempts uint64

	// ExtractDelay is the fixed pause between extraction attempts.
	ExtractDelay time.Duration

	// ReadProbeBudget bounds the total wait for one extracted file to
	// become readable.
	ReadProbeBudget time.Duration

	// ReadProbeInterval is the pause between readability probes.
	ReadProbeInterval time.Duration
}

// New creates a Stager over fs with the baseline budgets.
func New(fs afero.Fs, log logger.Logger) *Stager {
	return &Stager{
		fs:                fs,
		log:               log,
		ExtractAttempts:   DefaultExtractAttempts,
		ExtractDelay:      DefaultExtractDelay,
		ReadProbeBudget:   DefaultReadProbeBudget,
		ReadProbeInterval: DefaultReadProbeInterval,
	}
}

// Stage extracts archivePath into targetDir. The target directory is deleted
// and recreated first so stale content from an aborted previous run cannot
// leak forward. Extraction is retried because a concurrent scanner may hold
// the archive transiently; after extraction every file must pass a
// readability probe. A file still unreadable after the probe budget is
// logged as a warning but does not abort the run.
func (s *Stager) Stage(ctx context.Context, archivePath, targetDir string) error {
	var extracted []string

	attempt := 0
	// An archive the scanner still holds is retried like any other
	// extraction failure; it only becomes fatal once the budget is spent.
	err := retry.Do(ctx, retry.Policy{MaxAttempts: s.ExtractAttempts, Interval: s.ExtractDelay}, func() error {
		attempt++
		var err error
		extracted, err = s.extract(archivePath, targetDir)
		if err != nil {
			s.log.Warning("extraction attempt %d/%d failed: %v", attempt, s.ExtractAttempts, err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnreadableArtifact) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}

	s.log.Info("extracted %d files to %s", len(extracted), targetDir)
	s.probeReadable(ctx, extracted)
	return nil
}

// extract performs one full extraction attempt into a freshly recreated
// targetDir and returns the paths of all extracted files.
func (s *Stager) extract(archivePath, targetDir string) ([]string, error) {
	if err := s.fs.RemoveAll(targetDir); err != nil {
		return nil, fmt.Errorf("clearing staging dir %s: %w", targetDir, err)
	}
	if err := s.fs.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging dir %s: %w", targetDir, err)
	}

	f, err := s.fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableArtifact, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableArtifact, err)
	}

	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}

	var extracted []string
	for _, zf := range zr.File {
		path, err := s.extractOne(zf, targetDir)
		if err != nil {
			return nil, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}
	return extracted, nil
}

// extractOne writes a single archive entry under targetDir. Returns the
// written file path, or "" for directory entries.
func (s *Stager) extractOne(zf *zip.File, targetDir string) (string, error) {
	destPath := filepath.Join(targetDir, filepath.FromSlash(zf.Name))

	// Reject entries that would escape the staging directory.
	if !strings.HasPrefix(destPath, filepath.Clean(targetDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes staging dir", zf.Name)
	}

	if zf.FileInfo().IsDir() {
		if err := s.fs.MkdirAll(destPath, 0755); err != nil {
			return "", fmt.Errorf("creating dir %s: %w", destPath, err)
		}
		return "", nil
	}

	if err := s.fs.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("creating parent of %s: %w", destPath, err)
	}

	src, err := zf.Open()
	if err != nil {
		return "", fmt.Errorf("opening entry %q: %w", zf.Name, err)
	}
	defer src.Close()

	dst, err := s.fs.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, zf.Mode())
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", destPath, err)
	}

	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return "", fmt.Errorf("extracting %s: %w", destPath, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("closing %s: %w", destPath, closeErr)
	}
	return destPath, nil
}

// probeReadable waits for each extracted file to become openable for read.
// Files that a scanner still holds after the budget are logged and left to
// the copy step's own retries.
func (s *Stager) probeReadable(ctx context.Context, paths []string) {
	for _, path := range paths {
		err := retry.Do(ctx, retry.Policy{Interval: s.ReadProbeInterval, Deadline: s.ReadProbeBudget}, func() error {
			f, err := s.fs.Open(path)
			if err != nil {
				return err
			}
			return f.Close()
		})
		if err != nil {
			s.log.Warning("staged file %s is still unreadable after %s: %v", path, s.ReadProbeBudget, err)
		}
	}
}
