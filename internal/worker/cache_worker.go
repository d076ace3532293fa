package worker

import (
	"context"
	"errors"
	"log"

	"github.com/mediascribe/api/internal/downloader"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/registry"
	"github.com/mediascribe/api/internal/websocket"
)

// CacheWorker runs cache-only jobs: download a source and store it without
// transcribing. These jobs carry synthetic negative ids from the registry.
type CacheWorker struct {
	registry *registry.Registry
	cache    MediaCache
	hub      *websocket.Hub
}

// NewCacheWorker creates a cache-only job worker
func NewCacheWorker(reg *registry.Registry, cache MediaCache, hub *websocket.Hub) *CacheWorker {
	return &CacheWorker{registry: reg, cache: cache, hub: hub}
}

// Run executes one cache-only job to a terminal state.
func (w *CacheWorker) Run(ctx context.Context, jobID int64, source, quality string, dl downloader.Downloader) {
	err := w.run(ctx, jobID, source, quality, dl)

	switch {
	case err == nil:
		w.registry.Complete(jobID)
		if w.hub != nil {
			w.hub.BroadcastComplete(jobID, model.JobStatusCompleted)
		}
	case errors.Is(err, model.ErrJobCancelled):
		log.Printf("[job %d] cache job cancelled", jobID)
		w.registry.MarkCancelled(jobID)
		if w.hub != nil {
			w.hub.BroadcastComplete(jobID, model.JobStatusCancelled)
		}
	default:
		log.Printf("[job %d] cache job failed: %v", jobID, err)
		w.registry.Fail(jobID, err.Error())
		if w.hub != nil {
			w.hub.BroadcastError(jobID, "JOB_FAILED", err.Error())
		}
	}

	w.registry.Finish(jobID)
}

func (w *CacheWorker) run(ctx context.Context, jobID int64, source, quality string, dl downloader.Downloader) error {
	if err := w.registry.CheckCancel(jobID); err != nil {
		return err
	}

	if _, ok := w.cache.FindExisting(source, quality, model.CacheModePlayback); ok {
		w.registry.UpdateProgress(jobID, 100, "already cached")
		return nil
	}

	w.registry.UpdateProgress(jobID, 10, "downloading media")
	path, err := downloader.FetchWithRetry(ctx, dl, jobID, downloader.DefaultRetryAttempts)
	if err != nil {
		return err
	}

	if err := w.registry.CheckCancel(jobID); err != nil {
		return err
	}

	w.registry.UpdateProgress(jobID, 90, "storing in cache")
	if _, err := w.cache.CacheFile(ctx, path, jobID, source, quality); err != nil {
		return err
	}
	return nil
}
