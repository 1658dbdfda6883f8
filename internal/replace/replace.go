// Package replace copies the staged tree over the live install directory.
// The copy is mirroring but additive: files are overwritten or added, never
// deleted, so operator-placed extras in the install directory survive. Each
// file is copied with its own retry budget because the target may still be
// held briefly by a scanner or a slow-exiting process.
package replace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/updraft-dev/updraft/internal/retry"
	"github.com/updraft-dev/updraft/pkg/logger"
)

// ErrReplaceFailed is returned when one or more files could not be copied
// within their retry budgets. It aborts the run before the service restart.
var ErrReplaceFailed = errors.New("install directory replacement failed")

// Default per-file retry budget.
const (
	DefaultFileAttempts = 5
	DefaultFileDelay    = 2 * time.Second
)

// Result classifies the outcome of one mirroring copy, mirroring the way
// copy tools discriminate "copied" from "skipped" from "failed".
type Result struct {
	Copied  int
	Skipped int
	Failed  int
}

func (r Result) String() string {
	return fmt.Sprintf("copied %d, skipped %d, failed %d", r.Copied, r.Skipped, r.Failed)
}

// Replacer mirrors staged trees into install directories.
type Replacer struct {
	fs  afero.Fs
	log logger.Logger

	// FileAttempts is the per-file copy attempt budget.
	FileAttempts uint64

	// FileDelay is the pause between attempts on one file.
	FileDelay time.Duration
}

// New creates a Replacer over fs with the baseline budgets.
func New(fs afero.Fs, log logger.Logger) *Replacer {
	return &Replacer{fs: fs, log: log, FileAttempts: DefaultFileAttempts, FileDelay: DefaultFileDelay}
}

// Replace mirrors stagedDir into installDir. Unchanged files (same size and
// modification time) are skipped; extra files already in installDir are left
// alone. A file that cannot be copied within its budget is counted as failed
// and the whole replacement reports ErrReplaceFailed.
func (r *Replacer) Replace(ctx context.Context, stagedDir, installDir string) (Result, error) {
	var res Result

	err := afero.Walk(r.fs, stagedDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(stagedDir, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(installDir, rel)

		if info.IsDir() {
			return r.fs.MkdirAll(destPath, 0755)
		}

		if r.unchanged(destPath, info) {
			res.Skipped++
			return nil
		}

		attempt := 0
		copyErr := retry.Do(ctx, retry.Policy{MaxAttempts: r.FileAttempts, Interval: r.FileDelay}, func() error {
			attempt++
			if err := r.copyFile(path, destPath, info); err != nil {
				r.log.Warning("copy of %s attempt %d/%d failed: %v", rel, attempt, r.FileAttempts, err)
				return err
			}
			return nil
		})
		if copyErr != nil {
			res.Failed++
			r.log.Error("giving up on %s: %v", rel, copyErr)
			// Keep mirroring the rest; a later run can fill the gap.
			return nil
		}
		res.Copied++
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("%w: walking staged dir: %v", ErrReplaceFailed, err)
	}

	r.log.Info("replacement finished: %s", res)
	if res.Failed > 0 {
		return res, fmt.Errorf("%w: %s", ErrReplaceFailed, res)
	}
	return res, nil
}

// unchanged reports whether the destination already matches the staged file
// by size and modification time, the same cheap test mirroring copy tools
// use to skip files.
func (r *Replacer) unchanged(destPath string, src os.FileInfo) bool {
	dst, err := r.fs.Stat(destPath)
	if err != nil {
		return false
	}
	return dst.Size() == src.Size() && dst.ModTime().Equal(src.ModTime())
}

func (r *Replacer) copyFile(srcPath, destPath string, info os.FileInfo) error {
	src, err := r.fs.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening staged file: %w", err)
	}
	defer src.Close()

	dst, err := r.fs.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return fmt.Errorf("opening destination: %w", err)
	}

	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return fmt.Errorf("copying: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing destination: %w", closeErr)
	}

	// Carry the staged mtime forward so the skip test stays stable across
	// runs.
	r.fs.Chtimes(destPath, time.Now(), info.ModTime())
	return nil
}
