package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mediascribe/api/internal/store"
	"github.com/mediascribe/api/pkg/response"
)

type TranscriptsHandler struct {
	store *store.Store
}

func NewTranscriptsHandler(st *store.Store) *TranscriptsHandler {
	return &TranscriptsHandler{store: st}
}

// Get handles GET /api/transcripts?source=...&language=...&format=...
func (h *TranscriptsHandler) Get(c *fiber.Ctx) error {
	source := c.Query("source")
	if source == "" {
		return response.ValidationError(c, "source is required", nil)
	}
	format := c.Query("format", "text")

	t, err := h.store.GetTranscript(source, c.Query("language"), format)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Transcript not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, t)
}

// Exists handles GET /api/transcripts/exists?source=...
func (h *TranscriptsHandler) Exists(c *fiber.Ctx) error {
	source := c.Query("source")
	if source == "" {
		return response.ValidationError(c, "source is required", nil)
	}

	ok, err := h.store.HasTranscript(source)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"source": source, "exists": ok})
}

// List handles GET /api/transcripts/all?source=...
func (h *TranscriptsHandler) List(c *fiber.Ctx) error {
	source := c.Query("source")
	if source == "" {
		return response.ValidationError(c, "source is required", nil)
	}

	list, err := h.store.ListTranscripts(source)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, list)
}

// Summaries handles GET /api/summaries?source=...
func (h *TranscriptsHandler) Summaries(c *fiber.Ctx) error {
	source := c.Query("source")
	if source == "" {
		return response.ValidationError(c, "source is required", nil)
	}

	list, err := h.store.ListSummaries(source)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, list)
}
