package downloader

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/mediascribe/api/internal/model"
)

// DefaultRetryAttempts bounds the download retry loop.
const DefaultRetryAttempts = 3

// networkKeywords classify errors whose message suggests a transient
// network condition worth retrying.
var networkKeywords = []string{
	"timeout",
	"timed out",
	"connection",
	"network",
	"temporarily",
	"reset by peer",
	"eof",
}

// IsNetworkError reports whether err looks like a transient network failure.
// A DownloadError carries an explicit classification; anything else falls
// back to the keyword heuristic. Cancellation is never a network error.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, model.ErrJobCancelled) {
		return false
	}
	var dl *model.DownloadError
	if errors.As(err, &dl) {
		return dl.Network
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range networkKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// FetchWithRetry runs the downloader, retrying network-classified failures
// with exponential backoff up to attempts tries. Cancellation and
// non-network errors abort immediately.
func FetchWithRetry(ctx context.Context, d Downloader, jobID int64, attempts int) (string, error) {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := time.Duration(1<<(i-1)) * time.Second
			log.Printf("[job %d] retrying download in %s (attempt %d/%d): %v",
				jobID, backoff, i+1, attempts, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		path, err := d.Fetch(ctx, jobID)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, model.ErrJobCancelled) {
			return "", err
		}
		if !IsNetworkError(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
