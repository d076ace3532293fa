package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/store"
)

// Quality preference orders for cache lookups without an explicit quality.
var (
	transcriptionPriority = []string{
		model.QualityAudioOnly, model.QualityWorst, model.QualityMedium,
		model.QualityBest, model.QualityVideo,
	}
	playbackPriority = []string{
		model.QualityBest, model.QualityMedium, model.QualityVideo,
		model.QualityWorst, model.QualityAudioOnly,
	}
)

// DefaultRetentionPolicy applies when no policy has been persisted: cached
// media is kept for three days unless an operator chooses otherwise.
const (
	DefaultRetentionPolicy = model.PolicyKeepDays + ":3"
	defaultRetentionDays   = 3
)

// ephemeralGrace shields just-cached files under delete_after_asr from the
// next GC sweep; the job that cached them may still be running.
const ephemeralGrace = time.Hour

// MediaCache owns the mapping from (source, quality) to on-disk artifacts
// and the retention rules deciding when they disappear. File paths in cache
// entries are stored relative to the data root so the directory can move.
type MediaCache struct {
	store    *store.Store
	settings *store.Settings

	root    string // data root; cache entry paths are relative to it
	dirName string // cache directory name under root

	gcMu   sync.Mutex
	nextGC *time.Time
}

// NewMediaCache creates the cache service for the given cache directory.
func NewMediaCache(st *store.Store, settings *store.Settings, cacheDir string) *MediaCache {
	return &MediaCache{
		store:    st,
		settings: settings,
		root:     filepath.Dir(cacheDir),
		dirName:  filepath.Base(cacheDir),
	}
}

func (s *MediaCache) cacheDir() string {
	return filepath.Join(s.root, s.dirName)
}

// AbsPath resolves a stored relative path against the data root.
func (s *MediaCache) AbsPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *MediaCache) relPath(filename string) string {
	return s.dirName + "/" + filename
}

// cacheFilename derives the content-stable target name for (source, quality):
// md5 of the source id, a quality suffix for non-default qualities, and the
// extension of the incoming file. Repeated downloads converge on one path.
func cacheFilename(source, quality, ext string) string {
	sum := md5.Sum([]byte(source))
	name := hex.EncodeToString(sum[:])
	if quality != "" && quality != model.QualityBest {
		name += "_" + quality
	}
	return name + ext
}

// FindExisting returns a live cache entry for the source. With an explicit
// quality only that variant matches. Without one, a mode-appropriate priority
// list is tried, then the most recently cached variant of any quality. The
// returned entry's Quality may therefore differ from what the caller had in
// mind; callers must inspect it.
func (s *MediaCache) FindExisting(source, quality string, mode model.CacheMode) (model.CacheEntry, bool) {
	if quality != "" {
		e, err := s.store.GetCacheEntry(source, quality)
		if err == nil && s.fileExists(e.Path) {
			return e, true
		}
		return model.CacheEntry{}, false
	}

	priority := transcriptionPriority
	if mode == model.CacheModePlayback {
		priority = playbackPriority
	}
	for _, q := range priority {
		e, err := s.store.GetCacheEntry(source, q)
		if err == nil && s.fileExists(e.Path) {
			return e, true
		}
	}

	// No priority match with a live file; fall back to the most recently
	// cached variant of any quality.
	entries, err := s.store.ListCacheEntriesBySource(source)
	if err != nil {
		return model.CacheEntry{}, false
	}
	for _, e := range entries {
		if s.fileExists(e.Path) {
			return e, true
		}
	}
	return model.CacheEntry{}, false
}

func (s *MediaCache) fileExists(rel string) bool {
	info, err := os.Stat(s.AbsPath(rel))
	return err == nil && !info.IsDir()
}

// CacheFile moves tempPath into the cache under the content-stable name for
// (source, quality) and records the entry. If the target already exists the
// temp file is discarded rather than overwriting, making concurrent fills of
// the same key idempotent. An already-expired custom policy on the source is
// reset so the fresh file is not immediately collected again.
func (s *MediaCache) CacheFile(ctx context.Context, tempPath string, jobID int64, source, quality string) (model.CacheEntry, error) {
	if quality == "" {
		quality = model.QualityBest
	}

	filename := cacheFilename(source, quality, filepath.Ext(tempPath))
	rel := s.relPath(filename)
	target := s.AbsPath(rel)

	if err := os.MkdirAll(s.cacheDir(), 0o755); err != nil {
		return model.CacheEntry{}, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if _, err := os.Stat(target); err == nil {
		// Target already materialized; this fill loses the race and discards
		// its temp input.
		if tempPath != target {
			os.Remove(tempPath)
		}
		log.Printf("[job %d] cache target already exists for %s/%s", jobID, source, quality)
	} else {
		if err := moveFile(tempPath, target); err != nil {
			return model.CacheEntry{}, fmt.Errorf("failed to move file into cache: %w", err)
		}
	}

	info, err := os.Stat(target)
	if err != nil {
		return model.CacheEntry{}, fmt.Errorf("failed to stat cached file: %w", err)
	}

	entry := model.CacheEntry{
		SourceID: source,
		Quality:  quality,
		Path:     rel,
		Size:     info.Size(),
		CachedAt: time.Now(),
	}
	if err := s.store.UpsertCacheEntry(entry); err != nil {
		return model.CacheEntry{}, err
	}

	s.resetExpiredCustomPolicy(source)

	log.Printf("[job %d] cached %s/%s (%d bytes)", jobID, source, quality, entry.Size)
	return entry, nil
}

func (s *MediaCache) resetExpiredCustomPolicy(source string) {
	meta, err := s.store.GetSourceMeta(source)
	if err != nil {
		return
	}
	if meta.Policy == model.PolicyCustom && meta.ExpiresAt != nil && meta.ExpiresAt.Before(time.Now()) {
		if err := s.store.SetSourcePolicy(source, "", nil); err != nil {
			log.Printf("failed to reset expired policy for %s: %v", source, err)
		}
	}
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy and delete.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// GlobalPolicy parses the persisted global retention policy.
func (s *MediaCache) GlobalPolicy(ctx context.Context) model.RetentionPolicy {
	raw, err := s.settings.GetString(ctx, store.KeyRetentionPolicy, DefaultRetentionPolicy)
	if err != nil {
		log.Printf("failed to read retention policy, using default: %v", err)
		raw = DefaultRetentionPolicy
	}
	return parseRetentionPolicy(raw)
}

func parseRetentionPolicy(raw string) model.RetentionPolicy {
	if strings.HasPrefix(raw, model.PolicyKeepDays+":") {
		days, err := strconv.Atoi(strings.TrimPrefix(raw, model.PolicyKeepDays+":"))
		if err != nil || days <= 0 {
			return model.RetentionPolicy{Name: model.PolicyKeepDays, Days: defaultRetentionDays}
		}
		return model.RetentionPolicy{Name: model.PolicyKeepDays, Days: days}
	}
	switch raw {
	case model.PolicyAlwaysKeep, model.PolicyDeleteAfterASR:
		return model.RetentionPolicy{Name: raw}
	}
	return model.RetentionPolicy{Name: model.PolicyKeepDays, Days: defaultRetentionDays}
}

// ShouldKeep reports whether transcribed media should stay in the cache.
func (s *MediaCache) ShouldKeep(ctx context.Context) bool {
	return s.GlobalPolicy(ctx).Name != model.PolicyDeleteAfterASR
}

// CleanupOrDelete is the single exit point for a freshly downloaded file
// after transcription: cache it when retention says keep, delete it
// otherwise.
func (s *MediaCache) CleanupOrDelete(ctx context.Context, path string, jobID int64, source, quality string) {
	if s.ShouldKeep(ctx) {
		if _, err := s.CacheFile(ctx, path, jobID, source, quality); err != nil {
			log.Printf("[job %d] failed to cache %s: %v", jobID, path, err)
		}
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[job %d] failed to delete %s: %v", jobID, path, err)
	}
}

// GCCandidates evaluates every cache entry against the retention rules.
// Sources marked keep_forever never appear.
func (s *MediaCache) GCCandidates(ctx context.Context) ([]model.GCCandidate, error) {
	entries, err := s.store.ListCacheEntries()
	if err != nil {
		return nil, err
	}
	metas, err := s.store.ListSourceMeta()
	if err != nil {
		return nil, err
	}
	global := s.GlobalPolicy(ctx)
	now := time.Now()

	var out []model.GCCandidate
	for _, e := range entries {
		meta := metas[e.SourceID]
		switch meta.Policy {
		case model.PolicyKeepForever:
			continue
		case model.PolicyCustom:
			if meta.ExpiresAt != nil && meta.ExpiresAt.Before(now) {
				out = append(out, model.GCCandidate{
					SourceID: e.SourceID, Quality: e.Quality, Path: e.Path,
					Size: e.Size, Title: meta.Title,
					Reason: "custom expiry passed", Policy: model.PolicyCustom,
				})
			}
		default:
			switch global.Name {
			case model.PolicyAlwaysKeep:
				// retained
			case model.PolicyKeepDays:
				if now.Sub(e.CachedAt) > time.Duration(global.Days)*24*time.Hour {
					out = append(out, model.GCCandidate{
						SourceID: e.SourceID, Quality: e.Quality, Path: e.Path,
						Size: e.Size, Title: meta.Title,
						Reason: fmt.Sprintf("older than %d days", global.Days),
						Policy: model.PolicyKeepDays,
					})
				}
			default:
				// delete_after_asr: anything still cached an hour after
				// caching is residue; fresher files may belong to a job
				// that has not transcribed yet
				if now.Sub(e.CachedAt) > ephemeralGrace {
					out = append(out, model.GCCandidate{
						SourceID: e.SourceID, Quality: e.Quality, Path: e.Path,
						Size: e.Size, Title: meta.Title,
						Reason: "ephemeral retention policy", Policy: model.PolicyDeleteAfterASR,
					})
				}
			}
		}
	}
	return out, nil
}

// ExpiringSoon lists entries whose custom expiry falls inside the window.
func (s *MediaCache) ExpiringSoon(ctx context.Context, within time.Duration) ([]model.GCCandidate, error) {
	entries, err := s.store.ListCacheEntries()
	if err != nil {
		return nil, err
	}
	metas, err := s.store.ListSourceMeta()
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(within)

	var out []model.GCCandidate
	for _, e := range entries {
		meta := metas[e.SourceID]
		if meta.Policy != model.PolicyCustom || meta.ExpiresAt == nil {
			continue
		}
		if meta.ExpiresAt.Before(deadline) {
			out = append(out, model.GCCandidate{
				SourceID: e.SourceID, Quality: e.Quality, Path: e.Path,
				Size: e.Size, Title: meta.Title,
				Reason:  "expires " + meta.ExpiresAt.Format(time.RFC3339),
				Policy:  model.PolicyCustom,
			})
		}
	}
	return out, nil
}

// DeleteForSource removes cached variants of a source. With a quality, only
// that variant goes; otherwise every variant. Returns count and freed bytes.
func (s *MediaCache) DeleteForSource(source, quality string) (int, int64, error) {
	if quality != "" {
		e, err := s.store.GetCacheEntry(source, quality)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, 0, nil
			}
			return 0, 0, err
		}
		if err := s.deleteEntry(e); err != nil {
			return 0, 0, err
		}
		return 1, e.Size, nil
	}

	entries, err := s.store.ListCacheEntriesBySource(source)
	if err != nil {
		return 0, 0, err
	}
	var freed int64
	for _, e := range entries {
		if err := os.Remove(s.AbsPath(e.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("failed to delete cached file %s: %v", e.Path, err)
			continue
		}
		freed += e.Size
	}
	count, err := s.store.DeleteCacheEntriesBySource(source)
	if err != nil {
		return 0, freed, err
	}
	return count, freed, nil
}

func (s *MediaCache) deleteEntry(e model.CacheEntry) error {
	if err := os.Remove(s.AbsPath(e.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return s.store.DeleteCacheEntry(e.SourceID, e.Quality)
}

// Stats summarizes the cache index, the on-disk reality, and the next
// scheduled GC run.
func (s *MediaCache) Stats(ctx context.Context) (model.CacheStats, error) {
	count, total, byQuality, err := s.store.CacheTotals()
	if err != nil {
		return model.CacheStats{}, err
	}

	stats := model.CacheStats{
		FileCount:      count,
		TotalSizeBytes: total,
		TotalSizeMB:    float64(total) / (1 << 20),
		TotalSizeGB:    float64(total) / (1 << 30),
		ByQuality:      byQuality,
	}

	known := make(map[string]bool)
	entries, err := s.store.ListCacheEntries()
	if err != nil {
		return model.CacheStats{}, err
	}
	for _, e := range entries {
		known[filepath.Base(e.Path)] = true
	}

	files, err := os.ReadDir(s.cacheDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return model.CacheStats{}, fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		stats.FSFileCount++
		stats.FSSizeBytes += info.Size()
		if !known[f.Name()] {
			stats.OrphanCount++
		}
	}

	s.gcMu.Lock()
	stats.NextGCTime = s.nextGC
	s.gcMu.Unlock()

	return stats, nil
}
