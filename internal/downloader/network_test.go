package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mediascribe/api/internal/model"
)

func TestNetworkFetch(t *testing.T) {
	payload := strings.Repeat("abc", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)

	var sawProgress bool
	d := NewNetwork(srv.URL, t.TempDir(), Hooks{
		Progress: func(percent float64, message string) { sawProgress = true },
	})

	path, err := d.Fetch(context.Background(), 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Ext(path) != ".mp3" {
		t.Errorf("extension = %q, want .mp3", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(data) != payload {
		t.Errorf("content mismatch: %d bytes", len(data))
	}
	if !sawProgress {
		t.Error("no progress callbacks")
	}
}

func TestNetworkFetchCancelledRemovesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	t.Cleanup(srv.Close)

	tempDir := t.TempDir()
	d := NewNetwork(srv.URL, tempDir, Hooks{
		CancelCheck: func() error { return model.ErrJobCancelled },
	})

	_, err := d.Fetch(context.Background(), 1)
	if !errors.Is(err, model.ErrJobCancelled) {
		t.Fatalf("err = %v, want ErrJobCancelled", err)
	}

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Errorf("partial file left behind: %v", entries)
	}
}

func TestNetworkFetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	d := NewNetwork(srv.URL, t.TempDir(), Hooks{})
	_, err := d.Fetch(context.Background(), 1)

	var dl *model.DownloadError
	if !errors.As(err, &dl) {
		t.Fatalf("err = %v, want DownloadError", err)
	}
	if dl.Network {
		t.Error("404 should not be classified as a network error")
	}
}

func TestLocalFileFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.wav")
	if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewLocalFile(path, Hooks{})
	got, err := d.Fetch(context.Background(), 1)
	if err != nil || got != path {
		t.Errorf("Fetch = %q, %v", got, err)
	}

	missing := NewLocalFile(filepath.Join(t.TempDir(), "nope.wav"), Hooks{})
	if _, err := missing.Fetch(context.Background(), 1); err == nil {
		t.Error("expected error for missing file")
	}
}
