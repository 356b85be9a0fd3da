// Package media downloads activity attachments into the local archive
// directory.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/models"
)

const defaultTimeout = 2 * time.Minute

// Fetcher downloads attachments to files under Dir. Filenames derive
// from the attachment's remote id so re-downloads are idempotent.
type Fetcher struct {
	Dir    string
	client *http.Client
}

// NewFetcher creates a fetcher writing into dir, creating it if needed.
func NewFetcher(dir string) (*Fetcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
	}
	return &Fetcher{
		Dir:    dir,
		client: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Fetch downloads the attachment and returns the stored filename
// (relative to Dir). An already-present file is reused without a
// network round trip. The preview image, when available, is fetched
// best-effort alongside.
func (f *Fetcher) Fetch(ctx context.Context, att *models.MediaAttachment) (string, error) {
	name := att.RemoteID + extFromURL(att.URL)
	dest := filepath.Join(f.Dir, name)

	if _, err := os.Stat(dest); err == nil {
		logging.Debug("Media %s already present, skipping download.", name)
		return name, nil
	}

	if err := f.download(ctx, att.URL, dest); err != nil {
		return "", err
	}

	if att.PreviewURL.Valid && att.PreviewURL.String != "" {
		previewName := att.RemoteID + "_preview" + extFromURL(att.PreviewURL.String)
		previewDest := filepath.Join(f.Dir, previewName)
		if _, err := os.Stat(previewDest); err != nil {
			if err := f.download(ctx, att.PreviewURL.String, previewDest); err != nil {
				logging.Warn("Failed to download preview for %s: %v", att.RemoteID, err)
			}
		}
	}

	return name, nil
}

// download streams one URL into dest via a temp file so a partial
// download never leaves a truncated file behind.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(f.Dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move media into place: %w", err)
	}
	return nil
}

// extFromURL extracts the file extension from a media URL's path,
// defaulting to .jpg when the URL carries none.
func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	ext := path.Ext(u.Path)
	if ext == "" || len(ext) > 8 {
		return ".jpg"
	}
	return ext
}
