package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mediascribe/api/internal/downloader"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/registry"
	"github.com/mediascribe/api/internal/worker"
)

// QueueAnalysis is the asynq queue name for downstream analysis tasks.
const QueueAnalysis = "analysis"

// AnalysisQueue hands finished transcripts to the analysis queue.
type AnalysisQueue struct {
	client *asynq.Client
}

// NewAnalysisQueue creates the analysis handoff around an asynq client.
func NewAnalysisQueue(client *asynq.Client) *AnalysisQueue {
	return &AnalysisQueue{client: client}
}

// EnqueueAnalysis queues one analysis run. The task retries on failure
// independently of the job that produced it.
func (q *AnalysisQueue) EnqueueAnalysis(ctx context.Context, sourceID, text, prompt string) error {
	task, err := worker.NewAnalysisTask(worker.AnalysisPayload{
		SourceID: sourceID,
		Text:     text,
		Prompt:   prompt,
	})
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueAnalysis),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue analysis task: %w", err)
	}
	return nil
}

// Transcription is the job submission and introspection surface. It owns the
// mapping from API requests to registry jobs and pipeline goroutines.
type Transcription struct {
	registry    *registry.Registry
	pipeline    *worker.Pipeline
	cacheWorker *worker.CacheWorker
	tempDir     string
}

// NewTranscription creates the orchestration service.
func NewTranscription(reg *registry.Registry, pl *worker.Pipeline, cw *worker.CacheWorker, tempDir string) *Transcription {
	return &Transcription{
		registry:    reg,
		pipeline:    pl,
		cacheWorker: cw,
		tempDir:     tempDir,
	}
}

// buildDownloader picks the downloader implementation for a source and wires
// its progress and cancel hooks to the job's registry record. Download
// progress maps onto the 20-50% band of the job.
func (s *Transcription) buildDownloader(jobID int64, url, sourceType string) downloader.Downloader {
	hooks := downloader.Hooks{
		Progress: func(percent float64, message string) {
			if percent >= 0 {
				s.registry.UpdateProgress(jobID, 20+percent*0.3, message)
			} else {
				s.registry.UpdateProgress(jobID, -1, message)
			}
		},
		CancelCheck: func() error {
			return s.registry.CheckCancel(jobID)
		},
	}
	if sourceType == "local" {
		return downloader.NewLocalFile(url, hooks)
	}
	return downloader.NewNetwork(url, s.tempDir, hooks)
}

// Enqueue starts a transcription job and returns its id immediately; the
// pipeline runs in its own goroutine.
func (s *Transcription) Enqueue(req model.TranscribeRequest) model.EnqueueResponse {
	id := s.registry.Start(model.JobMeta{
		Type:   "transcription",
		Title:  req.Title,
		Source: req.URL,
	})

	// Stripping subtitle markup before analysis is the default; the request
	// can opt out explicitly.
	stripSubs := true
	if req.AnalyzeStripSubs != nil {
		stripSubs = *req.AnalyzeStripSubs
	}

	params := worker.JobParams{
		SourceID:         req.URL,
		SourceType:       req.SourceType,
		Title:            req.Title,
		Downloader:       s.buildDownloader(id, req.URL, req.SourceType),
		Language:         req.Language,
		Prompt:           req.Prompt,
		Engine:           req.Engine,
		OutputFormat:     req.OutputFormat,
		Quality:          req.Quality,
		IsolateVocals:    req.IsolateVocals,
		OnlySubtitles:    req.OnlySubtitles,
		ForceASR:         req.ForceASR,
		AnalyzePrompt:    req.AnalyzePrompt,
		AnalyzeStripSubs: stripSubs,
	}

	go s.pipeline.Run(context.Background(), id, params)

	log.Printf("[job %d] transcription enqueued for %s", id, req.URL)
	return model.EnqueueResponse{TaskID: id, Status: model.JobStatusProcessing}
}

// EnqueueFile starts a transcription job for an already-spooled local file,
// typically an HTTP upload.
func (s *Transcription) EnqueueFile(localPath string, req model.TranscribeRequest) model.EnqueueResponse {
	req.URL = localPath
	req.SourceType = "local"
	return s.Enqueue(req)
}

// EnqueueCacheOnly starts a cache-only job under a synthetic negative id.
func (s *Transcription) EnqueueCacheOnly(req model.CacheOnlyRequest) model.EnqueueResponse {
	id := s.registry.StartCacheJob(model.JobMeta{
		Type:   "cache",
		Source: req.URL,
	})

	dl := s.buildDownloader(id, req.URL, req.SourceType)
	go s.cacheWorker.Run(context.Background(), id, req.URL, req.Quality, dl)

	log.Printf("[job %d] cache-only job enqueued for %s", id, req.URL)
	return model.EnqueueResponse{TaskID: id, Status: model.JobStatusProcessing}
}

// Status returns the snapshot for one job.
func (s *Transcription) Status(id int64) (model.JobSnapshot, bool) {
	return s.registry.Get(id)
}

// List returns all tracked jobs, newest first.
func (s *Transcription) List() []model.JobSnapshot {
	return s.registry.List()
}

// Cancel requests cooperative cancellation of a job.
func (s *Transcription) Cancel(id int64) bool {
	return s.registry.RequestCancel(id)
}
