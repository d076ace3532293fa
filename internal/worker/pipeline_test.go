package worker_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mediascribe/api/internal/client"
	"github.com/mediascribe/api/internal/config"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/registry"
	"github.com/mediascribe/api/internal/service"
	"github.com/mediascribe/api/internal/store"
	"github.com/mediascribe/api/internal/worker"
)

// countingDownloader writes a fresh temp file per call and counts calls.
type countingDownloader struct {
	dir   string
	calls int32
}

func (d *countingDownloader) Fetch(ctx context.Context, jobID int64) (string, error) {
	atomic.AddInt32(&d.calls, 1)
	path := filepath.Join(d.dir, "dl.m4a")
	if err := os.WriteFile(path, []byte("media-bytes"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeAnalysis struct {
	sourceID string
	text     string
	prompt   string
	calls    int
}

func (f *fakeAnalysis) EnqueueAnalysis(ctx context.Context, sourceID, text, prompt string) error {
	f.calls++
	f.sourceID, f.text, f.prompt = sourceID, text, prompt
	return nil
}

type subtitleFunc func(ctx context.Context, sourceID string) (string, error)

func (f subtitleFunc) FetchSubtitles(ctx context.Context, sourceID string) (string, error) {
	return f(ctx, sourceID)
}

type fixture struct {
	pipeline *worker.Pipeline
	registry *registry.Registry
	store    *store.Store
	cache    *service.MediaCache
	settings *store.Settings
	analysis *fakeAnalysis
}

func newFixture(t *testing.T, asrHandler http.HandlerFunc, subs worker.SubtitleFetcher) *fixture {
	t.Helper()
	root := t.TempDir()

	st, err := store.Open(filepath.Join(root, "app.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	settings := store.NewSettings(rdb)

	cache := service.NewMediaCache(st, settings, filepath.Join(root, "media_cache"))
	reg := registry.New(0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Write([]byte(`{"status":"ok","shared_paths":[],"concurrency":{"max":1,"queue":0}}`))
			return
		}
		asrHandler(w, r)
	}))
	t.Cleanup(srv.Close)

	asr := client.NewASRClient(&config.ASRConfig{
		Workers:        map[string]string{"local": srv.URL},
		HealthInterval: 30,
		HealthTimeout:  2,
	}, settings)
	asr.CheckHealth(context.Background())

	analysis := &fakeAnalysis{}
	pl := worker.NewPipeline(reg, asr, cache, st, nil, analysis, subs, "", 0)

	return &fixture{
		pipeline: pl, registry: reg, store: st,
		cache: cache, settings: settings, analysis: analysis,
	}
}

func asrRespond(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"` + text + `"}`))
	}
}

func TestPipelineEndToEndWithCacheReuse(t *testing.T) {
	fx := newFixture(t, asrRespond("hello"), nil)
	ctx := context.Background()

	if err := fx.settings.SetString(ctx, store.KeyRetentionPolicy, "keep_days:3"); err != nil {
		t.Fatal(err)
	}

	dl := &countingDownloader{dir: t.TempDir()}
	params := worker.JobParams{
		SourceID:   "srcS",
		Downloader: dl,
		Quality:    model.QualityAudioOnly,
		Language:   "en",
	}

	id1 := fx.registry.Start(model.JobMeta{Type: "transcription", Source: "srcS"})
	fx.pipeline.Run(ctx, id1, params)

	snap, ok := fx.registry.Get(id1)
	if !ok || snap.Status != model.JobStatusCompleted {
		t.Fatalf("first job status = %+v", snap)
	}

	tr, err := fx.store.GetTranscript("srcS", "en", "text")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if tr.Content != "hello" {
		t.Errorf("transcript = %q", tr.Content)
	}

	// The downloaded file went into the cache under the requested quality
	if _, ok := fx.cache.FindExisting("srcS", model.QualityAudioOnly, model.CacheModeTranscription); !ok {
		t.Fatal("media not cached after first run")
	}

	// Second run hits the cache and never invokes the downloader
	id2 := fx.registry.Start(model.JobMeta{Type: "transcription", Source: "srcS"})
	fx.pipeline.Run(ctx, id2, params)

	snap, _ = fx.registry.Get(id2)
	if snap.Status != model.JobStatusCompleted {
		t.Fatalf("second job status = %s", snap.Status)
	}
	if got := atomic.LoadInt32(&dl.calls); got != 1 {
		t.Errorf("downloader calls = %d, want 1 across both runs", got)
	}
}

func TestPipelineFailureRecordsErrorText(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}, nil)
	ctx := context.Background()

	dl := &countingDownloader{dir: t.TempDir()}
	id := fx.registry.Start(model.JobMeta{})
	fx.pipeline.Run(ctx, id, worker.JobParams{SourceID: "srcF", Downloader: dl})

	snap, _ := fx.registry.Get(id)
	if snap.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}

	tr, err := fx.store.GetTranscript("srcF", "", "text")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if !strings.HasPrefix(tr.Content, "Error: ") {
		t.Errorf("transcript = %q, want Error: prefix", tr.Content)
	}
}

func TestPipelineCancelledBeforeWork(t *testing.T) {
	fx := newFixture(t, asrRespond("never"), nil)
	ctx := context.Background()

	dl := &countingDownloader{dir: t.TempDir()}
	id := fx.registry.Start(model.JobMeta{})
	fx.registry.RequestCancel(id)

	fx.pipeline.Run(ctx, id, worker.JobParams{SourceID: "srcC", Downloader: dl})

	snap, _ := fx.registry.Get(id)
	if snap.Status != model.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
	if atomic.LoadInt32(&dl.calls) != 0 {
		t.Error("downloader ran despite pre-cancelled job")
	}

	tr, err := fx.store.GetTranscript("srcC", "", "text")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if tr.Content != model.CancelledText {
		t.Errorf("transcript = %q, want sentinel", tr.Content)
	}
}

func TestPipelineCancelDuringASR(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		// Block until the pipeline aborts the call. The body must be
		// drained first or the server never notices the client is gone.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}, nil)
	ctx := context.Background()

	dl := &countingDownloader{dir: t.TempDir()}
	id := fx.registry.Start(model.JobMeta{})

	done := make(chan struct{})
	go func() {
		fx.pipeline.Run(ctx, id, worker.JobParams{SourceID: "srcR", Downloader: dl})
		close(done)
	}()

	// Wait for the job to reach the ASR stage, then cancel
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, ok := fx.registry.Get(id)
		if ok && snap.Progress >= 60 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached ASR stage")
		}
		time.Sleep(10 * time.Millisecond)
	}
	fx.registry.RequestCancel(id)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish after cancel")
	}

	snap, _ := fx.registry.Get(id)
	if snap.Status != model.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", snap.Status)
	}
}

func TestPipelineSubtitleShortCircuit(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("ASR should not be invoked when subtitles exist")
	}, subtitleFunc(func(ctx context.Context, sourceID string) (string, error) {
		return "native subtitle text", nil
	}))
	ctx := context.Background()

	dl := &countingDownloader{dir: t.TempDir()}
	id := fx.registry.Start(model.JobMeta{})
	fx.pipeline.Run(ctx, id, worker.JobParams{
		SourceID:      "srcSub",
		Downloader:    dl,
		AnalyzePrompt: "summarize this",
	})

	snap, _ := fx.registry.Get(id)
	if snap.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if atomic.LoadInt32(&dl.calls) != 0 {
		t.Error("download ran despite subtitle short-circuit")
	}

	tr, err := fx.store.GetTranscript("srcSub", "", "text")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if tr.Content != "native subtitle text" || tr.Engine != "subtitle" {
		t.Errorf("transcript = %+v", tr)
	}
	if fx.analysis.calls != 1 || fx.analysis.prompt != "summarize this" {
		t.Errorf("analysis handoff = %+v", fx.analysis)
	}
}

func TestPipelineOnlySubtitlesFailsWithoutTrack(t *testing.T) {
	fx := newFixture(t, asrRespond("never"), nil)
	ctx := context.Background()

	dl := &countingDownloader{dir: t.TempDir()}
	id := fx.registry.Start(model.JobMeta{})
	fx.pipeline.Run(ctx, id, worker.JobParams{
		SourceID:      "srcOnly",
		Downloader:    dl,
		OnlySubtitles: true,
	})

	snap, _ := fx.registry.Get(id)
	if snap.Status != model.JobStatusFailed {
		t.Errorf("status = %s, want failed", snap.Status)
	}
	if atomic.LoadInt32(&dl.calls) != 0 {
		t.Error("download ran in only-subtitles mode")
	}
}

func TestPipelineAnalysisHandoffStripsMarkup(t *testing.T) {
	fx := newFixture(t, asrRespond("<|0.00|>hello<|2.40|> world"), nil)
	ctx := context.Background()

	if err := fx.settings.SetString(ctx, store.KeyRetentionPolicy, "delete_after_asr"); err != nil {
		t.Fatal(err)
	}

	dl := &countingDownloader{dir: t.TempDir()}
	id := fx.registry.Start(model.JobMeta{})
	fx.pipeline.Run(ctx, id, worker.JobParams{
		SourceID:         "srcA",
		Downloader:       dl,
		AnalyzePrompt:    "summarize",
		AnalyzeStripSubs: true,
	})

	if fx.analysis.calls != 1 {
		t.Fatalf("analysis calls = %d", fx.analysis.calls)
	}
	if fx.analysis.text != "hello world" {
		t.Errorf("analysis text = %q, want markup stripped", fx.analysis.text)
	}

	// Ephemeral policy: the downloaded file must be gone after the run
	if _, ok := fx.cache.FindExisting("srcA", "", model.CacheModeTranscription); ok {
		t.Error("media cached under delete_after_asr policy")
	}
}

func TestStripSubtitleMarkup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<|0.00|>hello<|1.00|>", "hello"},
		{"plain text", "plain text"},
		{"<|startoftranscript|><|zh|>text", "text"},
	}
	for _, tt := range tests {
		if got := worker.StripSubtitleMarkup(tt.in); got != tt.want {
			t.Errorf("StripSubtitleMarkup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCacheWorkerRun(t *testing.T) {
	fx := newFixture(t, asrRespond("unused"), nil)
	ctx := context.Background()

	w := worker.NewCacheWorker(fx.registry, fx.cache, nil)
	dl := &countingDownloader{dir: t.TempDir()}

	id := fx.registry.StartCacheJob(model.JobMeta{Type: "cache", Source: "srcQ"})
	if id >= 0 {
		t.Fatalf("cache job id = %d, want negative", id)
	}

	w.Run(ctx, id, "srcQ", model.QualityBest, dl)

	snap, _ := fx.registry.Get(id)
	if snap.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if _, ok := fx.cache.FindExisting("srcQ", model.QualityBest, model.CacheModePlayback); !ok {
		t.Error("media not cached")
	}

	// A second run is a no-op cache hit
	id2 := fx.registry.StartCacheJob(model.JobMeta{})
	w.Run(ctx, id2, "srcQ", model.QualityBest, dl)
	if got := atomic.LoadInt32(&dl.calls); got != 1 {
		t.Errorf("downloader calls = %d, want 1", got)
	}
}
