package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/store"
)

func newTestCache(t *testing.T) (*MediaCache, *store.Store, *store.Settings) {
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

	return NewMediaCache(st, settings, filepath.Join(root, "media_cache")), st, settings
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "download.m4a")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCacheFileIdempotent(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	first, err := cache.CacheFile(ctx, writeTemp(t, "original"), 1, "srcA", model.QualityAudioOnly)
	if err != nil {
		t.Fatalf("CacheFile: %v", err)
	}

	// A second fill for the same key discards its temp input
	secondTemp := writeTemp(t, "different bytes entirely")
	second, err := cache.CacheFile(ctx, secondTemp, 2, "srcA", model.QualityAudioOnly)
	if err != nil {
		t.Fatalf("CacheFile second: %v", err)
	}

	if second.Path != first.Path || second.Size != first.Size {
		t.Errorf("second fill changed entry: %+v vs %+v", second, first)
	}
	if _, err := os.Stat(secondTemp); !os.IsNotExist(err) {
		t.Error("second temp file was not discarded")
	}

	data, err := os.ReadFile(cache.AbsPath(first.Path))
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("cached content overwritten: %q", data)
	}
}

func TestCacheFileQualitySuffix(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	best, err := cache.CacheFile(ctx, writeTemp(t, "b"), 1, "srcA", model.QualityBest)
	if err != nil {
		t.Fatalf("CacheFile: %v", err)
	}
	audio, err := cache.CacheFile(ctx, writeTemp(t, "a"), 1, "srcA", model.QualityAudioOnly)
	if err != nil {
		t.Fatalf("CacheFile: %v", err)
	}

	if best.Path == audio.Path {
		t.Error("distinct qualities mapped to the same file")
	}
	if filepath.Ext(best.Path) != ".m4a" {
		t.Errorf("extension not preserved: %s", best.Path)
	}
}

func TestFindExistingModes(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.CacheFile(ctx, writeTemp(t, "a"), 1, "srcA", model.QualityAudioOnly); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.CacheFile(ctx, writeTemp(t, "b"), 1, "srcA", model.QualityBest); err != nil {
		t.Fatal(err)
	}

	e, ok := cache.FindExisting("srcA", "", model.CacheModeTranscription)
	if !ok || e.Quality != model.QualityAudioOnly {
		t.Errorf("transcription mode picked %q, want audio_only", e.Quality)
	}

	e, ok = cache.FindExisting("srcA", "", model.CacheModePlayback)
	if !ok || e.Quality != model.QualityBest {
		t.Errorf("playback mode picked %q, want best", e.Quality)
	}

	e, ok = cache.FindExisting("srcA", model.QualityBest, model.CacheModeTranscription)
	if !ok || e.Quality != model.QualityBest {
		t.Errorf("explicit quality lookup picked %q", e.Quality)
	}

	if _, ok := cache.FindExisting("srcA", model.QualityWorst, model.CacheModeTranscription); ok {
		t.Error("explicit lookup matched a missing variant")
	}
}

func TestFindExistingFallsBackToAnyQuality(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	// A dynamic quality label outside every priority list
	if _, err := cache.CacheFile(ctx, writeTemp(t, "x"), 1, "srcA", "720p"); err != nil {
		t.Fatal(err)
	}

	e, ok := cache.FindExisting("srcA", "", model.CacheModeTranscription)
	if !ok {
		t.Fatal("fallback lookup found nothing")
	}
	if e.Quality != "720p" {
		t.Errorf("fallback returned %q", e.Quality)
	}
}

func TestFindExistingIgnoresDeadRows(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	e, err := cache.CacheFile(ctx, writeTemp(t, "x"), 1, "srcA", model.QualityAudioOnly)
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(cache.AbsPath(e.Path))

	if _, ok := cache.FindExisting("srcA", "", model.CacheModeTranscription); ok {
		t.Error("lookup returned an entry whose file is gone")
	}
}

func TestParseRetentionPolicy(t *testing.T) {
	tests := []struct {
		raw      string
		wantName string
		wantDays int
	}{
		{"always_keep", model.PolicyAlwaysKeep, 0},
		{"delete_after_asr", model.PolicyDeleteAfterASR, 0},
		{"keep_days:7", model.PolicyKeepDays, 7},
		{"keep_days:3", model.PolicyKeepDays, 3},
		{"keep_days:0", model.PolicyKeepDays, 3},
		{"keep_days:junk", model.PolicyKeepDays, 3},
		{"bogus", model.PolicyKeepDays, 3},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := parseRetentionPolicy(tt.raw)
			if got.Name != tt.wantName || got.Days != tt.wantDays {
				t.Errorf("parseRetentionPolicy(%q) = %+v", tt.raw, got)
			}
		})
	}
}

func TestGCCandidatesRetentionRules(t *testing.T) {
	cache, st, settings := newTestCache(t)
	ctx := context.Background()

	if err := settings.SetString(ctx, store.KeyRetentionPolicy, "always_keep"); err != nil {
		t.Fatal(err)
	}

	for _, src := range []string{"expired", "future", "forever", "inherit"} {
		if _, err := cache.CacheFile(ctx, writeTemp(t, src), 1, src, model.QualityAudioOnly); err != nil {
			t.Fatal(err)
		}
	}

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(24 * time.Hour)
	if err := st.SetSourcePolicy("expired", model.PolicyCustom, &past); err != nil {
		t.Fatal(err)
	}
	if err := st.SetSourcePolicy("future", model.PolicyCustom, &future); err != nil {
		t.Fatal(err)
	}
	// keep_forever stays out of the candidate list even if expiry is set
	if err := st.SetSourcePolicy("forever", model.PolicyKeepForever, &past); err != nil {
		t.Fatal(err)
	}

	candidates, err := cache.GCCandidates(ctx)
	if err != nil {
		t.Fatalf("GCCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].SourceID != "expired" {
		t.Errorf("candidates = %+v, want only the expired source", candidates)
	}
}

func TestGCCandidatesKeepDays(t *testing.T) {
	cache, st, settings := newTestCache(t)
	ctx := context.Background()

	if err := settings.SetString(ctx, store.KeyRetentionPolicy, "keep_days:3"); err != nil {
		t.Fatal(err)
	}

	fresh, err := cache.CacheFile(ctx, writeTemp(t, "f"), 1, "fresh", model.QualityAudioOnly)
	if err != nil {
		t.Fatal(err)
	}
	stale, err := cache.CacheFile(ctx, writeTemp(t, "s"), 1, "stale", model.QualityAudioOnly)
	if err != nil {
		t.Fatal(err)
	}
	stale.CachedAt = time.Now().Add(-4 * 24 * time.Hour)
	if err := st.UpsertCacheEntry(stale); err != nil {
		t.Fatal(err)
	}
	_ = fresh

	candidates, err := cache.GCCandidates(ctx)
	if err != nil {
		t.Fatalf("GCCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].SourceID != "stale" {
		t.Errorf("candidates = %+v, want only the stale source", candidates)
	}
}

func TestGCCandidatesDefaultPolicyKeepsFreshFiles(t *testing.T) {
	cache, st, _ := newTestCache(t)
	ctx := context.Background()
	// No persisted settings at all; the default keep_days:3 applies

	fresh, err := cache.CacheFile(ctx, writeTemp(t, "f"), 1, "fresh", model.QualityAudioOnly)
	if err != nil {
		t.Fatal(err)
	}
	_ = fresh

	candidates, err := cache.GCCandidates(ctx)
	if err != nil {
		t.Fatalf("GCCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("fresh file collected under default policy: %+v", candidates)
	}

	stale, err := cache.CacheFile(ctx, writeTemp(t, "s"), 1, "stale", model.QualityAudioOnly)
	if err != nil {
		t.Fatal(err)
	}
	stale.CachedAt = time.Now().Add(-4 * 24 * time.Hour)
	if err := st.UpsertCacheEntry(stale); err != nil {
		t.Fatal(err)
	}

	candidates, err = cache.GCCandidates(ctx)
	if err != nil {
		t.Fatalf("GCCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].SourceID != "stale" {
		t.Errorf("candidates = %+v, want only the stale source", candidates)
	}
}

func TestGCCandidatesEphemeralGrace(t *testing.T) {
	cache, st, settings := newTestCache(t)
	ctx := context.Background()

	if err := settings.SetString(ctx, store.KeyRetentionPolicy, "delete_after_asr"); err != nil {
		t.Fatal(err)
	}

	// Cached seconds ago, e.g. by a cache-only job whose transcription has
	// not started; the sweep must leave it alone
	if _, err := cache.CacheFile(ctx, writeTemp(t, "f"), 1, "fresh", model.QualityAudioOnly); err != nil {
		t.Fatal(err)
	}

	candidates, err := cache.GCCandidates(ctx)
	if err != nil {
		t.Fatalf("GCCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("fresh file collected inside the grace window: %+v", candidates)
	}

	old, err := cache.CacheFile(ctx, writeTemp(t, "o"), 1, "old", model.QualityAudioOnly)
	if err != nil {
		t.Fatal(err)
	}
	old.CachedAt = time.Now().Add(-2 * time.Hour)
	if err := st.UpsertCacheEntry(old); err != nil {
		t.Fatal(err)
	}

	candidates, err = cache.GCCandidates(ctx)
	if err != nil {
		t.Fatalf("GCCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].SourceID != "old" {
		t.Errorf("candidates = %+v, want only the aged source", candidates)
	}
}

func TestRunGCCapacityEvictsOldestFirst(t *testing.T) {
	cache, st, settings := newTestCache(t)
	ctx := context.Background()

	if err := settings.SetString(ctx, store.KeyRetentionPolicy, "always_keep"); err != nil {
		t.Fatal(err)
	}
	// 1 GB budget; entries report synthetic sizes well beyond it
	if err := settings.SetFloat(ctx, store.KeyCacheCapacityGB, 1); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	sizes := map[string]int64{"oldest": 400 << 20, "middle": 500 << 20, "newest": 300 << 20}
	ages := map[string]time.Duration{"oldest": 3 * time.Hour, "middle": 2 * time.Hour, "newest": time.Hour}
	for src := range sizes {
		e, err := cache.CacheFile(ctx, writeTemp(t, src), 1, src, model.QualityAudioOnly)
		if err != nil {
			t.Fatal(err)
		}
		e.Size = sizes[src]
		e.CachedAt = now.Add(-ages[src])
		if err := st.UpsertCacheEntry(e); err != nil {
			t.Fatal(err)
		}
	}
	// Oldest entry is protected; eviction must skip it
	if err := st.SetSourcePolicy("oldest", model.PolicyKeepForever, nil); err != nil {
		t.Fatal(err)
	}

	deleted, _, err := cache.RunGC(ctx, nil)
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	// 1200 MB total, 1024 MB budget: dropping "middle" (500 MB) suffices
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := st.GetCacheEntry("oldest", model.QualityAudioOnly); err != nil {
		t.Error("keep_forever entry was evicted")
	}
	if _, err := st.GetCacheEntry("middle", model.QualityAudioOnly); err == nil {
		t.Error("oldest unprotected entry survived")
	}
	if _, err := st.GetCacheEntry("newest", model.QualityAudioOnly); err != nil {
		t.Error("newest entry was evicted prematurely")
	}
}

func TestRunGCTargetedSkipsFullSweep(t *testing.T) {
	cache, st, settings := newTestCache(t)
	ctx := context.Background()

	if err := settings.SetString(ctx, store.KeyRetentionPolicy, "always_keep"); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	for _, src := range []string{"a", "b"} {
		if _, err := cache.CacheFile(ctx, writeTemp(t, src), 1, src, model.QualityAudioOnly); err != nil {
			t.Fatal(err)
		}
		if err := st.SetSourcePolicy(src, model.PolicyCustom, &past); err != nil {
			t.Fatal(err)
		}
	}

	deleted, _, err := cache.RunGC(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("RunGC: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := st.GetCacheEntry("b", model.QualityAudioOnly); err != nil {
		t.Error("untargeted source was deleted")
	}
}

func TestIntegrityScanAndSync(t *testing.T) {
	cache, st, settings := newTestCache(t)
	ctx := context.Background()

	if err := settings.SetString(ctx, store.KeyRetentionPolicy, "always_keep"); err != nil {
		t.Fatal(err)
	}

	e, err := cache.CacheFile(ctx, writeTemp(t, "x"), 1, "srcA", model.QualityAudioOnly)
	if err != nil {
		t.Fatal(err)
	}

	// Delete the file behind the service's back
	if err := os.Remove(cache.AbsPath(e.Path)); err != nil {
		t.Fatal(err)
	}
	// And drop a stray file with no index row
	stray := filepath.Join(filepath.Dir(cache.AbsPath(e.Path)), "stray.bin")
	if err := os.WriteFile(stray, []byte("stray"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := cache.ScanIntegrity()
	if err != nil {
		t.Fatalf("ScanIntegrity: %v", err)
	}
	if len(report.DBOrphans) != 1 || report.DBOrphans[0].SourceID != "srcA" {
		t.Errorf("dbOrphans = %+v", report.DBOrphans)
	}
	if len(report.FSOrphans) != 1 || report.FSOrphans[0].Filename != "stray.bin" {
		t.Errorf("fsOrphans = %+v", report.FSOrphans)
	}

	result, err := cache.SyncIntegrity(false)
	if err != nil {
		t.Fatalf("SyncIntegrity: %v", err)
	}
	if result.DBCleaned != 1 || result.FSCleaned != 0 {
		t.Errorf("sync result = %+v", result)
	}
	if _, err := st.GetCacheEntry("srcA", model.QualityAudioOnly); err == nil {
		t.Error("db orphan row survived sync")
	}
	if _, ok := cache.FindExisting("srcA", model.QualityAudioOnly, model.CacheModeTranscription); ok {
		t.Error("FindExisting still matches after sync")
	}

	result, err = cache.SyncIntegrity(true)
	if err != nil {
		t.Fatalf("SyncIntegrity delete: %v", err)
	}
	if result.FSCleaned != 1 {
		t.Errorf("fsCleaned = %d, want 1", result.FSCleaned)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray file survived sync")
	}
}

func TestCleanupOrDelete(t *testing.T) {
	t.Run("ephemeral policy deletes", func(t *testing.T) {
		cache, st, settings := newTestCache(t)
		ctx := context.Background()
		if err := settings.SetString(ctx, store.KeyRetentionPolicy, "delete_after_asr"); err != nil {
			t.Fatal(err)
		}

		path := writeTemp(t, "x")
		cache.CleanupOrDelete(ctx, path, 1, "srcA", model.QualityAudioOnly)

		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("file survived ephemeral cleanup")
		}
		if _, err := st.GetCacheEntry("srcA", model.QualityAudioOnly); err == nil {
			t.Error("entry recorded under ephemeral policy")
		}
	})

	t.Run("keep policy caches", func(t *testing.T) {
		cache, st, settings := newTestCache(t)
		ctx := context.Background()
		if err := settings.SetString(ctx, store.KeyRetentionPolicy, "always_keep"); err != nil {
			t.Fatal(err)
		}

		path := writeTemp(t, "x")
		cache.CleanupOrDelete(ctx, path, 1, "srcA", model.QualityAudioOnly)

		e, err := st.GetCacheEntry("srcA", model.QualityAudioOnly)
		if err != nil {
			t.Fatalf("entry not recorded: %v", err)
		}
		if !cache.fileExists(e.Path) {
			t.Error("cached file missing")
		}
	})
}

func TestCacheFileResetsExpiredCustomPolicy(t *testing.T) {
	cache, st, _ := newTestCache(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	if err := st.SetSourcePolicy("srcA", model.PolicyCustom, &past); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.CacheFile(ctx, writeTemp(t, "x"), 1, "srcA", model.QualityAudioOnly); err != nil {
		t.Fatal(err)
	}

	meta, err := st.GetSourceMeta("srcA")
	if err != nil {
		t.Fatalf("GetSourceMeta: %v", err)
	}
	if meta.Policy != "" || meta.ExpiresAt != nil {
		t.Errorf("expired custom policy not reset: %+v", meta)
	}
}

func TestExpiringSoon(t *testing.T) {
	cache, st, _ := newTestCache(t)
	ctx := context.Background()

	soon := time.Now().Add(2 * time.Hour)
	later := time.Now().Add(100 * time.Hour)
	for src, exp := range map[string]time.Time{"soon": soon, "later": later} {
		if _, err := cache.CacheFile(ctx, writeTemp(t, src), 1, src, model.QualityAudioOnly); err != nil {
			t.Fatal(err)
		}
		e := exp
		if err := st.SetSourcePolicy(src, model.PolicyCustom, &e); err != nil {
			t.Fatal(err)
		}
	}

	list, err := cache.ExpiringSoon(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpiringSoon: %v", err)
	}
	if len(list) != 1 || list[0].SourceID != "soon" {
		t.Errorf("ExpiringSoon = %+v", list)
	}
}

func TestDeleteForSource(t *testing.T) {
	cache, st, _ := newTestCache(t)
	ctx := context.Background()

	for _, q := range []string{model.QualityBest, model.QualityAudioOnly} {
		if _, err := cache.CacheFile(ctx, writeTemp(t, q), 1, "srcA", q); err != nil {
			t.Fatal(err)
		}
	}

	count, freed, err := cache.DeleteForSource("srcA", model.QualityBest)
	if err != nil {
		t.Fatalf("DeleteForSource: %v", err)
	}
	if count != 1 || freed == 0 {
		t.Errorf("count=%d freed=%d", count, freed)
	}

	count, _, err = cache.DeleteForSource("srcA", "")
	if err != nil {
		t.Fatalf("DeleteForSource all: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 remaining variant", count)
	}
	if entries, _ := st.ListCacheEntriesBySource("srcA"); len(entries) != 0 {
		t.Errorf("entries remain: %+v", entries)
	}
}

func TestStats(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.CacheFile(ctx, writeTemp(t, "hello"), 1, "srcA", model.QualityAudioOnly); err != nil {
		t.Fatal(err)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.FileCount != 1 || stats.TotalSizeBytes != 5 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.FSFileCount != 1 || stats.OrphanCount != 0 {
		t.Errorf("fs stats = %+v", stats)
	}
	if stats.ByQuality[model.QualityAudioOnly] != 5 {
		t.Errorf("byQuality = %+v", stats.ByQuality)
	}
}
