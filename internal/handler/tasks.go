package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/service"
	"github.com/mediascribe/api/pkg/response"
)

type TasksHandler struct {
	service *service.Transcription
}

func NewTasksHandler(svc *service.Transcription) *TasksHandler {
	return &TasksHandler{service: svc}
}

// List handles GET /api/tasks
func (h *TasksHandler) List(c *fiber.Ctx) error {
	return response.OK(c, h.service.List())
}

// Get handles GET /api/tasks/:id
func (h *TasksHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.ValidationError(c, "Invalid task id", nil)
	}

	snap, ok := h.service.Status(id)
	if !ok {
		return response.NotFound(c, "Task not found")
	}
	return response.OK(c, snap)
}

// Cancel handles POST /api/tasks/:id/cancel
func (h *TasksHandler) Cancel(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.ValidationError(c, "Invalid task id", nil)
	}

	if _, ok := h.service.Status(id); !ok {
		return response.NotFound(c, "Task not found")
	}

	cancelled := h.service.Cancel(id)
	return response.OK(c, model.CancelResponse{TaskID: id, Cancelled: cancelled})
}
