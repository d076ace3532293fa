package downloader

import "context"

// ProgressFunc receives best-effort transfer progress. Percent is -1 when
// the total size is unknown.
type ProgressFunc func(percent float64, message string)

// CancelCheck is invoked periodically during a transfer; returning an error
// aborts the download with that error.
type CancelCheck func() error

// Downloader fetches the media for one job and returns a local file path.
// One implementation exists per source platform; the pipeline depends only
// on this interface.
type Downloader interface {
	Fetch(ctx context.Context, jobID int64) (string, error)
}

// Hooks carries the optional callbacks shared by all implementations.
type Hooks struct {
	Progress    ProgressFunc
	CancelCheck CancelCheck
}

func (h Hooks) progress(percent float64, message string) {
	if h.Progress != nil {
		h.Progress(percent, message)
	}
}

func (h Hooks) checkCancel() error {
	if h.CancelCheck != nil {
		return h.CancelCheck()
	}
	return nil
}
