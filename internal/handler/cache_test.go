package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mediascribe/api/internal/handler"
	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/service"
	"github.com/mediascribe/api/internal/store"
)

func newCacheApp(t *testing.T) (*fiber.App, *store.Store) {
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

	app := fiber.New()
	h := handler.NewCacheHandler(cache, nil, settings, st, validator.New())
	app.Get("/api/cache/retention", h.RetentionGet)
	app.Put("/api/cache/sources/policy", h.SourcePolicySet)
	return app, st
}

func doJSONRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestCacheRetentionDefaults(t *testing.T) {
	app, _ := newCacheApp(t)

	resp := doRequest(t, app, http.MethodGet, "/api/cache/retention")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Policy       string  `json:"policy"`
		CronInterval float64 `json:"cronInterval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Policy != "keep_days:3" {
		t.Errorf("default policy = %q, want keep_days:3", body.Policy)
	}
	if body.CronInterval != 1 {
		t.Errorf("default interval = %v, want 1", body.CronInterval)
	}
}

func TestCacheSourcePolicySet(t *testing.T) {
	app, st := newCacheApp(t)
	source := url.QueryEscape("http://example.com/v.mp4")

	expires := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	body := `{"policy":"custom","expiresAt":"` + expires.Format(time.RFC3339) + `","title":"My Video"}`
	resp := doJSONRequest(t, app, http.MethodPut, "/api/cache/sources/policy?source="+source, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	meta, err := st.GetSourceMeta("http://example.com/v.mp4")
	if err != nil {
		t.Fatalf("GetSourceMeta: %v", err)
	}
	if meta.Policy != model.PolicyCustom || meta.Title != "My Video" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.ExpiresAt == nil || !meta.ExpiresAt.Equal(expires) {
		t.Errorf("expiresAt = %v, want %v", meta.ExpiresAt, expires)
	}

	// Reverting to inherit clears the override but keeps the title
	resp = doJSONRequest(t, app, http.MethodPut, "/api/cache/sources/policy?source="+source, `{"policy":"inherit"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	meta, err = st.GetSourceMeta("http://example.com/v.mp4")
	if err != nil {
		t.Fatalf("GetSourceMeta: %v", err)
	}
	if meta.Policy != "" || meta.ExpiresAt != nil {
		t.Errorf("override not cleared: %+v", meta)
	}
	if meta.Title != "My Video" {
		t.Errorf("title lost on policy change: %q", meta.Title)
	}
}

func TestCacheSourcePolicyCustomRequiresExpiry(t *testing.T) {
	app, _ := newCacheApp(t)

	resp := doJSONRequest(t, app, http.MethodPut, "/api/cache/sources/policy?source=srcA", `{"policy":"custom"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
