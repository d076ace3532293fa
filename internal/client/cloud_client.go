package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mediascribe/api/internal/config"
	"github.com/mediascribe/api/internal/model"
)

// CloudASRClient calls an OpenAI-compatible hosted transcription API.
type CloudASRClient struct {
	httpClient *http.Client
	name       string
	baseURL    string
	apiKey     string
	model      string
}

// cloudTranscriptionResponse is the /audio/transcriptions success body.
type cloudTranscriptionResponse struct {
	Text string `json:"text"`
}

// NewCloudASRClient creates a hosted transcription client
func NewCloudASRClient(cfg *config.CloudASRConfig) *CloudASRClient {
	return &CloudASRClient{
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Transcribe uploads the file to the hosted /audio/transcriptions endpoint
// and returns the transcript text.
func (c *CloudASRClient) Transcribe(ctx context.Context, path, language, prompt string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open media file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read media file: %w", err)
	}
	_ = w.WriteField("model", c.model)
	if language != "" {
		_ = w.WriteField("language", language)
	}
	if prompt != "" {
		_ = w.WriteField("prompt", prompt)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &model.RemoteASRError{Engine: c.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &model.RemoteASRError{Engine: c.name, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &model.RemoteASRError{
			Engine:  c.name,
			Status:  resp.StatusCode,
			Message: string(respBody),
		}
	}

	var result cloudTranscriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &model.RemoteASRError{Engine: c.name, Message: "invalid response body"}
	}
	return result.Text, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *CloudASRClient) IsConfigured() bool {
	return c.apiKey != ""
}
