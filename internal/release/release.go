// Package release queries the release feed for the latest published version
// and selects the downloadable archive asset for this platform.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
)

// Sentinel errors for release resolution.
var (
	// ErrFeedUnreachable is returned when the release feed cannot be
	// queried (network error or non-200 response).
	ErrFeedUnreachable = errors.New("release feed unreachable")

	// ErrNoMatchingAsset is returned when the latest release has no asset
	// matching the archive name pattern.
	ErrNoMatchingAsset = errors.New("no release asset matches the archive pattern")
)

// ArchivePattern selects the downloadable archive among a release's assets.
const ArchivePattern = "*.zip"

// Asset is one downloadable attachment of a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

// Release describes one published version with its downloadable assets.
// Fetched fresh each run, never persisted.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// SelectAsset returns the first asset (in feed order) whose name matches
// pattern. If several assets match, whichever the feed lists first wins;
// publishing more than one archive per release is not supported.
func (r *Release) SelectAsset(pattern string) (*Asset, error) {
	for i := range r.Assets {
		ok, err := path.Match(pattern, r.Assets[i].Name)
		if err != nil {
			return nil, fmt.Errorf("bad asset pattern %q: %w", pattern, err)
		}
		if ok {
			return &r.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: pattern %q, %d assets", ErrNoMatchingAsset, pattern, len(r.Assets))
}

// Client resolves releases from a GitHub-style release feed.
type Client struct {
	hc        *http.Client
	baseURL   string
	userAgent string
}

// NewClient creates a release feed client. baseURL defaults to the public
// GitHub API when empty.
func NewClient(hc *http.Client, baseURL, userAgent string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{hc: hc, baseURL: baseURL, userAgent: userAgent}
}

// Latest fetches the latest published release for owner/repo.
func (c *Client) Latest(ctx context.Context, owner, repo string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d from %s: %s", ErrFeedUnreachable, resp.StatusCode, url, body)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("%w: decoding release record: %v", ErrFeedUnreachable, err)
	}
	return &rel, nil
}
