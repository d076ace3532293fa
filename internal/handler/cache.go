package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/service"
	"github.com/mediascribe/api/internal/store"
	"github.com/mediascribe/api/pkg/response"
)

type CacheHandler struct {
	cache     *service.MediaCache
	jobs      *service.Transcription
	settings  *store.Settings
	store     *store.Store
	validator *validator.Validate
}

func NewCacheHandler(cache *service.MediaCache, jobs *service.Transcription, settings *store.Settings, st *store.Store, v *validator.Validate) *CacheHandler {
	return &CacheHandler{
		cache:     cache,
		jobs:      jobs,
		settings:  settings,
		store:     st,
		validator: v,
	}
}

// Enqueue handles POST /api/cache/jobs
func (h *CacheHandler) Enqueue(c *fiber.Ctx) error {
	var req model.CacheOnlyRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result := h.jobs.EnqueueCacheOnly(req)
	return response.Accepted(c, result)
}

// Entries handles GET /api/cache/entries
func (h *CacheHandler) Entries(c *fiber.Ctx) error {
	if source := c.Query("source"); source != "" {
		list, err := h.store.ListCacheEntriesBySource(source)
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		return response.OK(c, list)
	}

	list, err := h.store.ListCacheEntries()
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, list)
}

// Stats handles GET /api/cache/stats
func (h *CacheHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.cache.Stats(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, stats)
}

// Delete handles DELETE /api/cache/entries?source=...&quality=...
// An empty quality deletes every variant of the source.
func (h *CacheHandler) Delete(c *fiber.Ctx) error {
	source := c.Query("source")
	if source == "" {
		return response.ValidationError(c, "source is required", nil)
	}

	count, freed, err := h.cache.DeleteForSource(source, c.Query("quality"))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, model.GCRunResponse{DeletedCount: count, FreedBytes: freed})
}

// GCPreview handles GET /api/cache/gc
func (h *CacheHandler) GCPreview(c *fiber.Ctx) error {
	candidates, err := h.cache.GCCandidates(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, candidates)
}

// GCRun handles POST /api/cache/gc. An optional body narrows the sweep to
// specific sources.
func (h *CacheHandler) GCRun(c *fiber.Ctx) error {
	var req struct {
		Targets []string `json:"targets,omitempty"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	count, freed, err := h.cache.RunGC(c.Context(), req.Targets)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, model.GCRunResponse{DeletedCount: count, FreedBytes: freed})
}

// ExpiringSoon handles GET /api/cache/expiring?hours=24
func (h *CacheHandler) ExpiringSoon(c *fiber.Ctx) error {
	hours := c.QueryFloat("hours", 24)
	if hours <= 0 {
		return response.ValidationError(c, "hours must be positive", nil)
	}

	list, err := h.cache.ExpiringSoon(c.Context(), time.Duration(hours*float64(time.Hour)))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, list)
}

// IntegrityScan handles GET /api/cache/integrity
func (h *CacheHandler) IntegrityScan(c *fiber.Ctx) error {
	report, err := h.cache.ScanIntegrity()
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, report)
}

// IntegritySync handles POST /api/cache/integrity/sync?deleteFiles=true
func (h *CacheHandler) IntegritySync(c *fiber.Ctx) error {
	result, err := h.cache.SyncIntegrity(c.QueryBool("deleteFiles", false))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// RetentionGet handles GET /api/cache/retention
func (h *CacheHandler) RetentionGet(c *fiber.Ctx) error {
	ctx := c.Context()

	policy, err := h.settings.GetString(ctx, store.KeyRetentionPolicy, service.DefaultRetentionPolicy)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	interval, err := h.settings.GetFloat(ctx, store.KeyRetentionCronInterval, 1)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	capacity, err := h.settings.GetFloat(ctx, store.KeyCacheCapacityGB, 0)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{
		"policy":       policy,
		"cronInterval": interval,
		"capacityGb":   capacity,
	})
}

// RetentionSet handles PUT /api/cache/retention
func (h *CacheHandler) RetentionSet(c *fiber.Ctx) error {
	var req model.RetentionConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ctx := c.Context()
	if req.Policy != nil {
		if err := h.settings.SetString(ctx, store.KeyRetentionPolicy, *req.Policy); err != nil {
			return response.ServiceError(c, err.Error())
		}
	}
	if req.CronInterval != nil {
		if err := h.settings.SetFloat(ctx, store.KeyRetentionCronInterval, *req.CronInterval); err != nil {
			return response.ServiceError(c, err.Error())
		}
	}
	if req.CapacityGB != nil {
		if err := h.settings.SetFloat(ctx, store.KeyCacheCapacityGB, *req.CapacityGB); err != nil {
			return response.ServiceError(c, err.Error())
		}
	}

	return h.RetentionGet(c)
}

// SourcePolicySet handles PUT /api/cache/sources/policy?source=...
func (h *CacheHandler) SourcePolicySet(c *fiber.Ctx) error {
	source := c.Query("source")
	if source == "" {
		return response.ValidationError(c, "source is required", nil)
	}

	var req model.SourcePolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	policy := req.Policy
	var expiresAt *time.Time
	switch policy {
	case "inherit":
		policy = ""
	case model.PolicyCustom:
		if req.ExpiresAt == "" {
			return response.ValidationError(c, "expiresAt is required for custom policy", nil)
		}
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return response.ValidationError(c, "expiresAt must be RFC3339", nil)
		}
		expiresAt = &t
	}

	err := h.store.UpsertSourceMeta(model.SourceMeta{
		SourceID:  source,
		Title:     req.Title,
		Policy:    policy,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	meta, err := h.store.GetSourceMeta(source)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, meta)
}
