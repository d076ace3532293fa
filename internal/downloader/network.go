package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediascribe/api/internal/model"
)

// Network downloads a direct media URL over HTTP into the temp directory.
type Network struct {
	httpClient *http.Client
	url        string
	tempDir    string
	hooks      Hooks
}

// NewNetwork creates a direct-URL downloader
func NewNetwork(url, tempDir string, hooks Hooks) *Network {
	return &Network{
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		url:        url,
		tempDir:    tempDir,
		hooks:      hooks,
	}
}

// Fetch streams the URL to a temp file, reporting progress and honoring the
// cancel check between chunks. Partial files are removed on any failure.
func (d *Network) Fetch(ctx context.Context, jobID int64) (string, error) {
	if err := os.MkdirAll(d.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", &model.DownloadError{Source: d.url, Err: err}
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", &model.DownloadError{Source: d.url, Network: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &model.DownloadError{
			Source:  d.url,
			Network: resp.StatusCode >= 500,
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	dest := filepath.Join(d.tempDir, uuid.NewString()+extensionFor(resp, d.url))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 256*1024)

	for {
		if cerr := d.hooks.checkCancel(); cerr != nil {
			out.Close()
			os.Remove(dest)
			return "", cerr
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(dest)
				return "", fmt.Errorf("failed to write temp file: %w", werr)
			}
			written += int64(n)
			if total > 0 {
				d.hooks.progress(float64(written)/float64(total)*100, "downloading")
			} else {
				d.hooks.progress(-1, "downloading")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(dest)
			return "", &model.DownloadError{Source: d.url, Network: true, Err: rerr}
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to finalize temp file: %w", err)
	}
	return dest, nil
}

// extensionFor derives a file extension from the response content type,
// falling back to the URL path.
func extensionFor(resp *http.Response, rawURL string) string {
	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "video/mp4":
		return ".mp4"
	case "video/webm", "audio/webm":
		return ".webm"
	}
	if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if ext := filepath.Ext(strings.SplitN(rawURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".bin"
}
