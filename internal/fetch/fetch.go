package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/updraft-dev/updraft/internal/retry"
	"github.com/updraft-dev/updraft/pkg/logger"
)

// ErrDownloadFailed is returned when the archive could not be downloaded
// within the retry budget. The concrete error is a *DownloadError carrying
// transport diagnostics.
var ErrDownloadFailed = errors.New("archive download failed")

// maxCauseDepth bounds how many wrapped causes are unrolled into the
// diagnostic chain.
const maxCauseDepth = 10

// DownloadError carries the transport context of a failed download so an
// operator reading the run log can tell a TLS handshake problem from a
// proxy problem from a plain outage.
type DownloadError struct {
	URL    string
	Info   ClientInfo
	Causes []string
	cause  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s failed (min protocol %s, proxy %s): %s",
		e.URL, e.Info.TLSMinVersion, e.Info.Proxy, strings.Join(e.Causes, " <- "))
}

func (e *DownloadError) Unwrap() error { return e.cause }

// Is makes errors.Is(err, ErrDownloadFailed) hold for every DownloadError.
func (e *DownloadError) Is(target error) bool { return target == ErrDownloadFailed }

// causeChain unrolls err's wrap chain into human-readable descriptions,
// outermost first, capped at maxCauseDepth levels.
func causeChain(err error) []string {
	var causes []string
	for err != nil && len(causes) < maxCauseDepth {
		causes = append(causes, err.Error())
		err = errors.Unwrap(err)
	}
	return causes
}

// Fetcher downloads release archives to the working directory.
type Fetcher struct {
	fs        afero.Fs
	hc        *http.Client
	info      ClientInfo
	userAgent string
	attempts  uint64
	delay     time.Duration
	log       logger.Logger
}

// NewFetcher creates a Fetcher writing through fs with the given client.
// attempts is the total number of download attempts (3 in the baseline
// configuration) and delay is the fixed pause between them.
func NewFetcher(fs afero.Fs, hc *http.Client, info ClientInfo, userAgent string, attempts uint64, delay time.Duration, log logger.Logger) *Fetcher {
	return &Fetcher{fs: fs, hc: hc, info: info, userAgent: userAgent, attempts: attempts, delay: delay, log: log}
}

// Fetch downloads url to destPath, overwriting any previous file there.
// The download is retried with a fixed delay up to the attempt budget; the
// terminal failure is a *DownloadError. After a successful download the
// file's network-provenance marker is stripped (best effort) so extraction
// does not trip per-file security prompts.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) error {
	attempt := 0
	err := retry.Do(ctx, retry.Policy{MaxAttempts: f.attempts, Interval: f.delay}, func() error {
		attempt++
		if err := f.fetchOnce(ctx, url, destPath); err != nil {
			f.log.Warning("download attempt %d/%d failed: %v", attempt, f.attempts, err)
			return err
		}
		return nil
	})
	if err != nil {
		return &DownloadError{URL: url, Info: f.info, Causes: causeChain(err), cause: err}
	}

	if err := Unblock(destPath); err != nil {
		// Non-fatal: hosts without provenance markers have nothing to strip.
		f.log.Warning("could not strip provenance marker from %s: %v", destPath, err)
	}
	return nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.hc.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	out, err := f.fs.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}

	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		// A partial file must not survive to the next attempt.
		f.fs.Remove(destPath)
		return fmt.Errorf("writing %s: %w", destPath, copyErr)
	}
	if closeErr != nil {
		f.fs.Remove(destPath)
		return fmt.Errorf("closing %s: %w", destPath, closeErr)
	}
	return nil
}
