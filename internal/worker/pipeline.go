package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/mediascribe/api/internal/client"
	"github.com/mediascribe/api/internal/downloader"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/registry"
	"github.com/mediascribe/api/internal/store"
	"github.com/mediascribe/api/internal/websocket"
)

// MediaCache is the slice of the cache service the workers depend on.
type MediaCache interface {
	FindExisting(source, quality string, mode model.CacheMode) (model.CacheEntry, bool)
	AbsPath(rel string) string
	CacheFile(ctx context.Context, tempPath string, jobID int64, source, quality string) (model.CacheEntry, error)
	CleanupOrDelete(ctx context.Context, path string, jobID int64, source, quality string)
}

// AnalysisEnqueuer hands a finished transcript to the downstream analysis
// queue. It runs independently of the pipeline's own lifecycle.
type AnalysisEnqueuer interface {
	EnqueueAnalysis(ctx context.Context, sourceID, text, prompt string) error
}

// SubtitleFetcher retrieves a pre-existing subtitle track for platforms that
// publish one. A nil fetcher means the platform does not support subtitles.
type SubtitleFetcher interface {
	FetchSubtitles(ctx context.Context, sourceID string) (string, error)
}

// JobParams describes one transcription job.
type JobParams struct {
	SourceID     string
	SourceType   string
	Title        string
	Downloader   downloader.Downloader
	Language     string
	Prompt       string
	Engine       string
	OutputFormat string
	Quality      string

	IsolateVocals bool
	OnlySubtitles bool
	ForceASR      bool

	AnalyzePrompt    string
	AnalyzeStripSubs bool
}

// Pipeline sequences one job: cache lookup, optional subtitle short-circuit,
// download, optional vocal isolation, ASR, persistence, analysis handoff and
// cleanup. Every stage is a cancellation checkpoint.
type Pipeline struct {
	registry  *registry.Registry
	asr       *client.ASRClient
	cache     MediaCache
	store     *store.Store
	hub       *websocket.Hub
	analysis  AnalysisEnqueuer
	subtitles SubtitleFetcher

	isolationCmd string
	killGrace    time.Duration
}

// NewPipeline wires the pipeline's collaborators. hub, analysis and
// subtitles may be nil.
func NewPipeline(
	reg *registry.Registry,
	asr *client.ASRClient,
	cache MediaCache,
	st *store.Store,
	hub *websocket.Hub,
	analysis AnalysisEnqueuer,
	subtitles SubtitleFetcher,
	isolationCmd string,
	killGrace time.Duration,
) *Pipeline {
	if killGrace <= 0 {
		killGrace = 2 * time.Second
	}
	return &Pipeline{
		registry:     reg,
		asr:          asr,
		cache:        cache,
		store:        st,
		hub:          hub,
		analysis:     analysis,
		subtitles:    subtitles,
		isolationCmd: isolationCmd,
		killGrace:    killGrace,
	}
}

// WithIsolation returns a copy of the pipeline using the given isolation
// command and kill grace period.
func (pl *Pipeline) WithIsolation(cmd string, killGrace time.Duration) *Pipeline {
	cp := *pl
	cp.isolationCmd = cmd
	if killGrace > 0 {
		cp.killGrace = killGrace
	}
	return &cp
}

// Run executes the job to a terminal state. It is the single place where
// stage errors become a job status and a persisted, human-readable text.
func (pl *Pipeline) Run(ctx context.Context, jobID int64, p JobParams) {
	err := pl.run(ctx, jobID, p)

	switch {
	case err == nil:
		pl.registry.Complete(jobID)
		if pl.hub != nil {
			pl.hub.BroadcastComplete(jobID, model.JobStatusCompleted)
		}
	case errors.Is(err, model.ErrJobCancelled):
		log.Printf("[job %d] cancelled", jobID)
		pl.registry.MarkCancelled(jobID)
		pl.persistText(jobID, p, model.CancelledText, "")
		if pl.hub != nil {
			pl.hub.BroadcastComplete(jobID, model.JobStatusCancelled)
		}
	default:
		log.Printf("[job %d] failed: %v", jobID, err)
		pl.registry.Fail(jobID, err.Error())
		pl.persistText(jobID, p, "Error: "+err.Error(), "")
		if pl.hub != nil {
			pl.hub.BroadcastError(jobID, "JOB_FAILED", err.Error())
		}
	}

	pl.registry.Finish(jobID)
}

func (pl *Pipeline) run(ctx context.Context, jobID int64, p JobParams) (err error) {
	var (
		workPath      string
		freshDownload bool
		vocalPath     string
	)

	// Cleanup always runs: derived vocal tracks are deleted unconditionally,
	// a fresh download is handed to retention, a cache hit is never touched.
	defer func() {
		if vocalPath != "" {
			if rerr := os.Remove(vocalPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				log.Printf("[job %d] failed to delete vocal track: %v", jobID, rerr)
			}
		}
		if freshDownload && workPath != "" {
			pl.cache.CleanupOrDelete(context.Background(), workPath, jobID, p.SourceID, p.Quality)
		}
	}()

	// Stage 1: cache check
	pl.progress(jobID, 5, "checking media cache")
	if err := pl.registry.CheckCancel(jobID); err != nil {
		return err
	}
	if entry, ok := pl.cache.FindExisting(p.SourceID, p.Quality, model.CacheModeTranscription); ok {
		workPath = pl.cache.AbsPath(entry.Path)
		pl.progress(jobID, 15, fmt.Sprintf("reusing cached media (%s)", entry.Quality))
		log.Printf("[job %d] cache hit for %s, quality %s", jobID, p.SourceID, entry.Quality)
	}

	// Stage 2: native subtitle short-circuit
	if workPath == "" && !p.ForceASR {
		if text, ok, serr := pl.trySubtitles(ctx, jobID, p); serr != nil {
			return serr
		} else if ok {
			pl.progress(jobID, 90, "subtitles retrieved")
			if err := pl.persistText(jobID, p, text, "subtitle"); err != nil {
				return err
			}
			pl.enqueueAnalysis(ctx, jobID, p, text)
			return nil
		}
	}
	if p.OnlySubtitles {
		return errors.New("no subtitles available for source")
	}

	// Stage 3: download
	if workPath == "" {
		if err := pl.registry.CheckCancel(jobID); err != nil {
			return err
		}
		pl.progress(jobID, 20, "downloading media")
		path, err := downloader.FetchWithRetry(ctx, p.Downloader, jobID, downloader.DefaultRetryAttempts)
		if err != nil {
			return err
		}
		workPath = path
		freshDownload = true
		pl.progress(jobID, 50, "download complete")
	}

	asrInput := workPath

	// Stage 4: optional vocal isolation
	if p.IsolateVocals && pl.isolationCmd != "" {
		if err := pl.registry.CheckCancel(jobID); err != nil {
			return err
		}
		pl.progress(jobID, 55, "isolating vocals")
		isolated, err := pl.isolateVocals(ctx, jobID, workPath)
		if err != nil {
			return err
		}
		vocalPath = isolated
		asrInput = isolated
	}

	// Stage 5: ASR, raced against cancellation
	if err := pl.registry.CheckCancel(jobID); err != nil {
		return err
	}
	pl.progress(jobID, 60, "transcribing")
	text, engine, err := pl.transcribeCancellable(ctx, jobID, asrInput, p)
	if err != nil {
		return err
	}

	// Stage 6: persist
	pl.progress(jobID, 95, "saving transcript")
	if err := pl.persistText(jobID, p, text, engine); err != nil {
		return err
	}

	// Stage 7: analysis handoff
	pl.enqueueAnalysis(ctx, jobID, p, text)
	return nil
}

// trySubtitles attempts the subtitle short-circuit. The bool reports whether
// a subtitle track was obtained; a hard error is returned only for
// cancellation.
func (pl *Pipeline) trySubtitles(ctx context.Context, jobID int64, p JobParams) (string, bool, error) {
	if pl.subtitles == nil {
		return "", false, nil
	}
	if err := pl.registry.CheckCancel(jobID); err != nil {
		return "", false, err
	}
	pl.progress(jobID, 10, "checking for native subtitles")

	text, err := pl.subtitles.FetchSubtitles(ctx, p.SourceID)
	if err != nil {
		if errors.Is(err, model.ErrJobCancelled) {
			return "", false, err
		}
		log.Printf("[job %d] no subtitles: %v", jobID, err)
		return "", false, nil
	}
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}

// transcribeCancellable runs the remote ASR call while watching the job's
// cancel signal; a cancellation aborts the in-flight HTTP request.
func (pl *Pipeline) transcribeCancellable(ctx context.Context, jobID int64, path string, p JobParams) (string, string, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-pl.registry.Done(jobID):
			cancel()
		case <-callCtx.Done():
		}
	}()

	text, engine, err := pl.asr.Transcribe(callCtx, client.TranscribeParams{
		Path:         path,
		Engine:       p.Engine,
		Language:     p.Language,
		Prompt:       p.Prompt,
		OutputFormat: p.OutputFormat,
	})
	if err != nil {
		if pl.registry.IsCancelled(jobID) {
			return "", "", model.ErrJobCancelled
		}
		return "", "", err
	}
	return text, engine, nil
}

func (pl *Pipeline) persistText(jobID int64, p JobParams, text, engine string) error {
	format := p.OutputFormat
	if format == "" {
		format = "text"
	}
	err := pl.store.SaveTranscript(store.Transcript{
		SourceID: p.SourceID,
		Language: p.Language,
		Engine:   engine,
		Format:   format,
		Content:  text,
	})
	if err != nil {
		log.Printf("[job %d] failed to persist transcript: %v", jobID, err)
		return err
	}
	if p.Title != "" {
		if terr := pl.store.SetSourceTitle(p.SourceID, p.Title); terr != nil {
			log.Printf("[job %d] failed to record title: %v", jobID, terr)
		}
	}
	return nil
}

var subtitleMarkup = regexp.MustCompile(`<\|[^|>]*\|>`)

// StripSubtitleMarkup removes inline timestamp/control tokens of the form
// <|...|> that some ASR models embed in their output.
func StripSubtitleMarkup(text string) string {
	return subtitleMarkup.ReplaceAllString(text, "")
}

func (pl *Pipeline) enqueueAnalysis(ctx context.Context, jobID int64, p JobParams, text string) {
	if pl.analysis == nil || p.AnalyzePrompt == "" {
		return
	}
	if p.AnalyzeStripSubs {
		text = StripSubtitleMarkup(text)
	}
	if err := pl.analysis.EnqueueAnalysis(ctx, p.SourceID, text, p.AnalyzePrompt); err != nil {
		// Analysis runs downstream of the pipeline; a handoff failure does
		// not fail the job.
		log.Printf("[job %d] failed to enqueue analysis: %v", jobID, err)
	}
}

func (pl *Pipeline) progress(jobID int64, percent float64, message string) {
	pl.registry.UpdateProgress(jobID, percent, message)
	if pl.hub != nil {
		if snap, ok := pl.registry.Get(jobID); ok {
			pl.hub.BroadcastProgress(jobID, snap.Progress, snap.Status, message)
		}
	}
}
