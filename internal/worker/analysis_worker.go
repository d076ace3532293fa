package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/mediascribe/api/internal/store"
)

// TypeAnalysisProcess is the asynq task type for transcript analysis.
const TypeAnalysisProcess = "analysis:process"

// AnalysisPayload is the asynq task payload for one analysis run.
type AnalysisPayload struct {
	SourceID string `json:"sourceId"`
	Text     string `json:"text"`
	Prompt   string `json:"prompt"`
}

// NewAnalysisTask builds the asynq task for a transcript analysis run.
func NewAnalysisTask(p AnalysisPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis payload: %w", err)
	}
	return asynq.NewTask(TypeAnalysisProcess, data), nil
}

// Summarizer runs an analysis prompt against transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, prompt, text string) (string, error)
	IsConfigured() bool
}

// AnalysisWorker processes analysis tasks from the queue.
type AnalysisWorker struct {
	summarizer Summarizer
	store      *store.Store
}

// NewAnalysisWorker creates a new analysis worker
func NewAnalysisWorker(summarizer Summarizer, st *store.Store) *AnalysisWorker {
	return &AnalysisWorker{summarizer: summarizer, store: st}
}

// ProcessTask handles one analysis task.
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload AnalysisPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal analysis payload: %w", err)
	}

	if w.summarizer == nil || !w.summarizer.IsConfigured() {
		log.Printf("analysis for %s skipped: no summarizer configured", payload.SourceID)
		return nil
	}

	log.Printf("Starting analysis for source %s", payload.SourceID)

	content, err := w.summarizer.Summarize(ctx, payload.Prompt, payload.Text)
	if err != nil {
		return fmt.Errorf("analysis failed for %s: %w", payload.SourceID, err)
	}

	err = w.store.SaveSummary(store.Summary{
		SourceID: payload.SourceID,
		Prompt:   payload.Prompt,
		Content:  content,
	})
	if err != nil {
		return err
	}

	log.Printf("Analysis for source %s completed", payload.SourceID)
	return nil
}
