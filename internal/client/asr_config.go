package client

import (
	"context"
	"fmt"
	"sort"

	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/store"
)

// RoutingConfig is the runtime engine-selection configuration. Instances are
// immutable once published; updates build a new value and swap it in whole so
// readers never observe a partially updated config.
type RoutingConfig struct {
	Priority        []string `json:"priority"`
	StrictMode      bool     `json:"strictMode"`
	ActiveEngine    string   `json:"activeEngine"`
	DisabledEngines []string `json:"disabledEngines"`
}

// Disabled reports whether the engine is in the disabled set.
func (c *RoutingConfig) Disabled(name string) bool {
	for _, d := range c.DisabledEngines {
		if d == name {
			return true
		}
	}
	return false
}

// defaultPriority lists all known engines in a stable order, self-hosted
// workers first, the cloud engine last.
func (c *ASRClient) defaultPriority() []string {
	names := make([]string, 0, len(c.workers)+1)
	for name := range c.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	if c.cloudName != "" {
		names = append(names, c.cloudName)
	}
	return names
}

// LoadRoutingConfig reads the persisted routing configuration and publishes
// it. Missing keys fall back to defaults.
func (c *ASRClient) LoadRoutingConfig(ctx context.Context) error {
	priority, err := c.settings.GetStrings(ctx, store.KeyASRPriority, c.defaultPriority())
	if err != nil {
		return fmt.Errorf("failed to load routing config: %w", err)
	}
	strict, err := c.settings.GetBool(ctx, store.KeyASRStrictMode, false)
	if err != nil {
		return fmt.Errorf("failed to load routing config: %w", err)
	}
	active, err := c.settings.GetString(ctx, store.KeyASRActiveEngine, "")
	if err != nil {
		return fmt.Errorf("failed to load routing config: %w", err)
	}
	disabled, err := c.settings.GetStrings(ctx, store.KeyASRDisabledEngines, nil)
	if err != nil {
		return fmt.Errorf("failed to load routing config: %w", err)
	}

	c.routing.Store(&RoutingConfig{
		Priority:        priority,
		StrictMode:      strict,
		ActiveEngine:    active,
		DisabledEngines: disabled,
	})
	return nil
}

// RoutingConfig returns the currently published configuration.
func (c *ASRClient) RoutingConfig() RoutingConfig {
	return *c.routing.Load()
}

// UpdateRoutingConfig applies the non-nil fields of req, persists every
// changed key, and publishes the new configuration atomically.
func (c *ASRClient) UpdateRoutingConfig(ctx context.Context, req model.RoutingConfigRequest) (RoutingConfig, error) {
	cur := c.routing.Load()
	next := &RoutingConfig{
		Priority:        cur.Priority,
		StrictMode:      cur.StrictMode,
		ActiveEngine:    cur.ActiveEngine,
		DisabledEngines: cur.DisabledEngines,
	}

	if req.Priority != nil {
		next.Priority = req.Priority
		if err := c.settings.SetStrings(ctx, store.KeyASRPriority, req.Priority); err != nil {
			return RoutingConfig{}, err
		}
	}
	if req.StrictMode != nil {
		next.StrictMode = *req.StrictMode
		if err := c.settings.SetBool(ctx, store.KeyASRStrictMode, *req.StrictMode); err != nil {
			return RoutingConfig{}, err
		}
	}
	if req.ActiveEngine != nil {
		next.ActiveEngine = *req.ActiveEngine
		if err := c.settings.SetString(ctx, store.KeyASRActiveEngine, *req.ActiveEngine); err != nil {
			return RoutingConfig{}, err
		}
	}
	if req.DisabledEngines != nil {
		next.DisabledEngines = req.DisabledEngines
		if err := c.settings.SetStrings(ctx, store.KeyASRDisabledEngines, req.DisabledEngines); err != nil {
			return RoutingConfig{}, err
		}
	}

	c.routing.Store(next)
	return *next, nil
}
