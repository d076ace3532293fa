package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediascribe/api/internal/config"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/store"
)

// SharedPath is one shared-filesystem mapping advertised by a worker. The
// wire form is either a plain string (same path on both sides) or an object
// with distinct server and worker prefixes.
type SharedPath struct {
	Server string `json:"server"`
	Worker string `json:"worker"`
}

func (p *SharedPath) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Server = s
		p.Worker = s
		return nil
	}
	type alias SharedPath
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = SharedPath(a)
	return nil
}

// healthResponse is the ASR worker /health payload.
type healthResponse struct {
	Status      string       `json:"status"`
	SharedPaths []SharedPath `json:"shared_paths"`
	Concurrency struct {
		Max   int `json:"max"`
		Queue int `json:"queue"`
	} `json:"concurrency"`
}

// EngineStatus is the per-engine view exposed to the API.
type EngineStatus struct {
	Name        string       `json:"name"`
	Cloud       bool         `json:"cloud"`
	Available   bool         `json:"available"`
	LatencyMS   int64        `json:"latencyMs"`
	SharedPaths []SharedPath `json:"sharedPaths,omitempty"`
	MaxSlots    int          `json:"maxSlots,omitempty"`
	QueueDepth  int          `json:"queueDepth,omitempty"`
	LastChecked time.Time    `json:"lastChecked,omitempty"`
}

// engineState is the mutable health record for one self-hosted worker.
type engineState struct {
	available   bool
	latencyMS   int64
	sharedPaths []SharedPath
	maxSlots    int
	queueDepth  int
	lastChecked time.Time
}

// TranscribeParams describes one transcription call.
type TranscribeParams struct {
	Path         string
	Engine       string // optional caller override
	Language     string
	Prompt       string
	OutputFormat string // text | srt
}

// transcribeRequest is the path-mode JSON body of POST /transcribe.
type transcribeRequest struct {
	AudioPath    string `json:"audio_path"`
	Language     string `json:"language,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// transcribeResponse is the worker's success body.
type transcribeResponse struct {
	Text string `json:"text"`
}

// ASRClient routes transcription requests across self-hosted workers and an
// optional cloud engine, tracking worker health and transfer mode.
type ASRClient struct {
	healthClient *http.Client
	pathClient   *http.Client // path-mode calls, long timeout
	uploadClient *http.Client // multipart uploads, longer still

	workers   map[string]string // engine name -> base URL
	cloud     *CloudASRClient
	cloudName string

	settings       *store.Settings
	healthInterval time.Duration

	mu      sync.RWMutex
	engines map[string]*engineState

	routing atomic.Pointer[RoutingConfig]
}

// NewASRClient creates a routing client for the configured workers. The
// routing configuration starts at defaults; call LoadRoutingConfig to pick up
// persisted values.
func NewASRClient(cfg *config.ASRConfig, settings *store.Settings) *ASRClient {
	healthTimeout := time.Duration(cfg.HealthTimeout) * time.Second
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	healthInterval := time.Duration(cfg.HealthInterval) * time.Second
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}

	c := &ASRClient{
		healthClient: &http.Client{Timeout: healthTimeout},
		pathClient:   &http.Client{Timeout: 300 * time.Second},
		uploadClient: &http.Client{Timeout: 600 * time.Second},
		workers:      make(map[string]string),
		settings:     settings,
		engines:      make(map[string]*engineState),
		healthInterval: healthInterval,
	}
	for name, baseURL := range cfg.Workers {
		c.workers[name] = strings.TrimRight(baseURL, "/")
		c.engines[name] = &engineState{latencyMS: -1}
	}
	if cfg.Cloud.APIKey != "" {
		c.cloud = NewCloudASRClient(&cfg.Cloud)
		c.cloudName = cfg.Cloud.Name
	}
	c.routing.Store(&RoutingConfig{Priority: c.defaultPriority()})
	return c
}

// CheckHealth probes every worker's /health endpoint concurrently and
// records the result. Cloud engines are not probed.
func (c *ASRClient) CheckHealth(ctx context.Context) {
	var wg sync.WaitGroup
	for name, baseURL := range c.workers {
		wg.Add(1)
		go func(name, baseURL string) {
			defer wg.Done()
			c.probe(ctx, name, baseURL)
		}(name, baseURL)
	}
	wg.Wait()
}

func (c *ASRClient) probe(ctx context.Context, name, baseURL string) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		c.markDown(name)
		return
	}
	resp, err := c.healthClient.Do(req)
	if err != nil {
		c.markDown(name)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.markDown(name)
		return
	}

	var payload healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.markDown(name)
		return
	}

	latency := time.Since(start).Milliseconds()

	c.mu.Lock()
	st := c.engines[name]
	wasDown := !st.available
	st.available = true
	st.latencyMS = latency
	st.sharedPaths = payload.SharedPaths
	st.maxSlots = payload.Concurrency.Max
	st.queueDepth = payload.Concurrency.Queue
	st.lastChecked = time.Now()
	c.mu.Unlock()

	if wasDown {
		log.Printf("ASR engine %s is online (%dms)", name, latency)
	}
}

func (c *ASRClient) markDown(name string) {
	c.mu.Lock()
	st := c.engines[name]
	wasUp := st.available
	st.available = false
	st.latencyMS = -1
	st.lastChecked = time.Now()
	c.mu.Unlock()

	if wasUp {
		log.Printf("ASR engine %s went offline", name)
	}
}

// StartHealthLoop probes immediately, then on the configured interval until
// the context is cancelled.
func (c *ASRClient) StartHealthLoop(ctx context.Context) {
	c.CheckHealth(ctx)

	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckHealth(ctx)
		}
	}
}

// isAvailable reports whether the engine can accept work right now. Cloud
// engines are always considered available.
func (c *ASRClient) isAvailable(name string) bool {
	if c.cloud != nil && name == c.cloudName {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.engines[name]
	return ok && st.available
}

func (c *ASRClient) isKnown(name string) bool {
	if c.cloud != nil && name == c.cloudName {
		return true
	}
	_, ok := c.workers[name]
	return ok
}

// SelectEngine resolves which engine handles the next request:
//  1. an explicit caller override, availability-checked only;
//  2. strict mode with a pinned active engine uses it exclusively;
//  3. the priority list in order, skipping disabled engines (the pinned
//     active engine is never treated as disabled);
//  4. the pinned active engine as a fallback if it is available;
//  5. otherwise no engine is available.
func (c *ASRClient) SelectEngine(preferred string) (string, error) {
	if preferred != "" {
		if !c.isKnown(preferred) {
			return "", fmt.Errorf("unknown ASR engine %q", preferred)
		}
		if !c.isAvailable(preferred) {
			return "", &model.EngineOfflineError{Engine: preferred}
		}
		return preferred, nil
	}

	cfg := c.routing.Load()

	if cfg.StrictMode && cfg.ActiveEngine != "" {
		if c.isAvailable(cfg.ActiveEngine) {
			return cfg.ActiveEngine, nil
		}
		return "", &model.EngineOfflineError{Engine: cfg.ActiveEngine, Strict: true}
	}

	for _, name := range cfg.Priority {
		if cfg.Disabled(name) && name != cfg.ActiveEngine {
			continue
		}
		if c.isAvailable(name) {
			return name, nil
		}
	}

	if cfg.ActiveEngine != "" && c.isAvailable(cfg.ActiveEngine) {
		return cfg.ActiveEngine, nil
	}

	return "", model.ErrNoEngineAvailable
}

// ResolvePathMode decides whether localPath can be handed to the engine by
// reference. Localhost engines always use path mode unchanged. Remote engines
// use it only when the path falls under an advertised shared-path mapping; a
// distinct worker-side prefix rewrites the path with POSIX separators.
func (c *ASRClient) ResolvePathMode(engine, localPath string) (bool, string) {
	baseURL, ok := c.workers[engine]
	if !ok {
		return false, ""
	}

	if u, err := url.Parse(baseURL); err == nil {
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return true, localPath
		}
	}

	abs, err := filepath.Abs(localPath)
	if err != nil {
		return false, ""
	}
	posix := filepath.ToSlash(abs)

	c.mu.RLock()
	paths := c.engines[engine].sharedPaths
	c.mu.RUnlock()

	for _, sp := range paths {
		server := strings.TrimRight(filepath.ToSlash(sp.Server), "/")
		if server == "" {
			continue
		}
		if posix == server || strings.HasPrefix(posix, server+"/") {
			worker := strings.TrimRight(filepath.ToSlash(sp.Worker), "/")
			return true, worker + strings.TrimPrefix(posix, server)
		}
	}
	return false, ""
}

// Transcribe resolves an engine and performs the remote call, in path mode
// when possible and as a multipart upload otherwise. No retry happens here:
// ASR calls are expensive and selection failures will not change until the
// next health probe.
func (c *ASRClient) Transcribe(ctx context.Context, p TranscribeParams) (string, string, error) {
	engine, err := c.SelectEngine(p.Engine)
	if err != nil {
		return "", "", err
	}

	if c.cloud != nil && engine == c.cloudName {
		text, err := c.cloud.Transcribe(ctx, p.Path, p.Language, p.Prompt)
		if err != nil {
			return "", engine, err
		}
		return text, engine, nil
	}

	if usePath, remotePath := c.ResolvePathMode(engine, p.Path); usePath {
		text, err := c.transcribeByPath(ctx, engine, remotePath, p)
		return text, engine, err
	}

	text, err := c.transcribeByUpload(ctx, engine, p)
	return text, engine, err
}

func (c *ASRClient) transcribeByPath(ctx context.Context, engine, remotePath string, p TranscribeParams) (string, error) {
	body, err := json.Marshal(transcribeRequest{
		AudioPath:    remotePath,
		Language:     p.Language,
		Prompt:       p.Prompt,
		OutputFormat: p.OutputFormat,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.workers[engine]+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doTranscribe(engine, c.pathClient, req)
}

func (c *ASRClient) transcribeByUpload(ctx context.Context, engine string, p TranscribeParams) (string, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open media file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(p.Path))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read media file: %w", err)
	}
	if p.Language != "" {
		_ = w.WriteField("language", p.Language)
	}
	if p.Prompt != "" {
		_ = w.WriteField("prompt", p.Prompt)
	}
	if p.OutputFormat != "" {
		_ = w.WriteField("output_format", p.OutputFormat)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.workers[engine]+"/transcribe", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.doTranscribe(engine, c.uploadClient, req)
}

func (c *ASRClient) doTranscribe(engine string, httpClient *http.Client, req *http.Request) (string, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", &model.RemoteASRError{Engine: engine, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &model.RemoteASRError{Engine: engine, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &model.RemoteASRError{
			Engine:  engine,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	var result transcribeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &model.RemoteASRError{Engine: engine, Message: "invalid response body"}
	}
	return result.Text, nil
}

// Status returns the current per-engine health view, workers first.
func (c *ASRClient) Status() []EngineStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EngineStatus, 0, len(c.engines)+1)
	for _, name := range c.defaultPriority() {
		if c.cloud != nil && name == c.cloudName {
			out = append(out, EngineStatus{Name: name, Cloud: true, Available: true})
			continue
		}
		st := c.engines[name]
		out = append(out, EngineStatus{
			Name:        name,
			Available:   st.available,
			LatencyMS:   st.latencyMS,
			SharedPaths: st.sharedPaths,
			MaxSlots:    st.maxSlots,
			QueueDepth:  st.queueDepth,
			LastChecked: st.lastChecked,
		})
	}
	return out
}
