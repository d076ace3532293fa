package handler_test

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/mediascribe/api/internal/handler"
	"github.com/mediascribe/api/internal/store"
)

func newTranscriptsApp(t *testing.T) (*fiber.App, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	app := fiber.New()
	h := handler.NewTranscriptsHandler(st)
	app.Get("/api/transcripts", h.Get)
	app.Get("/api/transcripts/exists", h.Exists)
	app.Get("/api/transcripts/all", h.List)
	return app, st
}

func TestTranscriptsGet(t *testing.T) {
	app, st := newTranscriptsApp(t)

	err := st.SaveTranscript(store.Transcript{
		SourceID: "srcA", Language: "en", Engine: "local", Format: "text", Content: "hello",
	})
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	resp := doRequest(t, app, http.MethodGet, "/api/transcripts?source=srcA&language=en")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var tr store.Transcript
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Content != "hello" {
		t.Errorf("content = %q", tr.Content)
	}

	resp = doRequest(t, app, http.MethodGet, "/api/transcripts?source=missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTranscriptsExists(t *testing.T) {
	app, st := newTranscriptsApp(t)

	err := st.SaveTranscript(store.Transcript{
		SourceID: "srcA", Format: "text", Content: "hello",
	})
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	for _, tt := range []struct {
		source string
		want   bool
	}{
		{"srcA", true},
		{"srcB", false},
	} {
		resp := doRequest(t, app, http.MethodGet, "/api/transcripts/exists?source="+tt.source)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body struct {
			Exists bool `json:"exists"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Exists != tt.want {
			t.Errorf("exists(%s) = %v, want %v", tt.source, body.Exists, tt.want)
		}
	}

	resp := doRequest(t, app, http.MethodGet, "/api/transcripts/exists")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing source: status = %d, want 400", resp.StatusCode)
	}
}
