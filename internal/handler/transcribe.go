package handler

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/mediascribe/api/internal/client"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/service"
	"github.com/mediascribe/api/pkg/response"
)

const maxUploadSize = 2 * 1024 * 1024 * 1024 // 2GB

type TranscribeHandler struct {
	service   *service.Transcription
	asr       *client.ASRClient
	tempDir   string
	validator *validator.Validate
}

func NewTranscribeHandler(svc *service.Transcription, asr *client.ASRClient, tempDir string, v *validator.Validate) *TranscribeHandler {
	return &TranscribeHandler{
		service:   svc,
		asr:       asr,
		tempDir:   tempDir,
		validator: v,
	}
}

// engineError maps a routing failure to an HTTP response. Submissions are
// rejected early when no engine could serve them; the pipeline reselects at
// ASR time regardless.
func engineError(c *fiber.Ctx, err error) error {
	var offline *model.EngineOfflineError
	if errors.As(err, &offline) || errors.Is(err, model.ErrNoEngineAvailable) {
		return response.EngineOffline(c, err.Error())
	}
	return response.ServiceError(c, err.Error())
}

// Start handles POST /api/transcribe
func (h *TranscribeHandler) Start(c *fiber.Ctx) error {
	var req model.TranscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if _, err := h.asr.SelectEngine(req.Engine); err != nil {
		return engineError(c, err)
	}

	result := h.service.Enqueue(req)
	return response.Accepted(c, result)
}

// StartFile handles POST /api/transcribe/file. The upload is spooled to the
// temp directory and processed as a local source.
func (h *TranscribeHandler) StartFile(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 2GB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	req := model.TranscribeRequest{
		Title:         c.FormValue("title"),
		Language:      c.FormValue("language"),
		Prompt:        c.FormValue("prompt"),
		Engine:        c.FormValue("engine"),
		OutputFormat:  c.FormValue("outputFormat"),
		Quality:       c.FormValue("quality"),
		IsolateVocals: c.FormValue("isolateVocals") == "true",
		ForceASR:      true,
		AnalyzePrompt: c.FormValue("analyzePrompt"),
	}

	if _, err := h.asr.SelectEngine(req.Engine); err != nil {
		return engineError(c, err)
	}

	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return response.ServiceError(c, "Failed to prepare upload directory")
	}
	localPath := filepath.Join(h.tempDir, uuid.NewString()+filepath.Ext(file.Filename))
	if err := c.SaveFile(file, localPath); err != nil {
		return response.ServiceError(c, "Failed to store uploaded file")
	}

	result := h.service.EnqueueFile(localPath, req)
	return response.Accepted(c, result)
}
