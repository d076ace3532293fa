package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mediascribe/api/internal/client"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/pkg/response"
)

type ASRHandler struct {
	asr       *client.ASRClient
	validator *validator.Validate
}

func NewASRHandler(asr *client.ASRClient, v *validator.Validate) *ASRHandler {
	return &ASRHandler{asr: asr, validator: v}
}

// Engines handles GET /api/asr/engines
func (h *ASRHandler) Engines(c *fiber.Ctx) error {
	return response.OK(c, h.asr.Status())
}

// ConfigGet handles GET /api/asr/config
func (h *ASRHandler) ConfigGet(c *fiber.Ctx) error {
	return response.OK(c, h.asr.RoutingConfig())
}

// ConfigUpdate handles PUT /api/asr/config
func (h *ASRHandler) ConfigUpdate(c *fiber.Ctx) error {
	var req model.RoutingConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	cfg, err := h.asr.UpdateRoutingConfig(c.Context(), req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, cfg)
}
