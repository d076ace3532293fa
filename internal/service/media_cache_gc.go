package service

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/mediascribe/api/internal/model"
	"github.com/mediascribe/api/internal/store"
)

// GCStartupGrace delays the first scheduled sweep after process start so a
// restart storm cannot immediately delete files jobs may be re-requesting.
const GCStartupGrace = 5 * time.Minute

// RunGC performs a garbage collection sweep. With target source ids only
// retention candidates for those sources are deleted. A full sweep (no
// targets) additionally removes filesystem orphans and then evicts
// oldest-first down to the capacity budget.
func (s *MediaCache) RunGC(ctx context.Context, targets []string) (int, int64, error) {
	candidates, err := s.GCCandidates(ctx)
	if err != nil {
		return 0, 0, err
	}

	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	var deleted int
	var freed int64

	for _, c := range candidates {
		if len(targetSet) > 0 && !targetSet[c.SourceID] {
			continue
		}
		err := s.deleteEntry(model.CacheEntry{
			SourceID: c.SourceID, Quality: c.Quality, Path: c.Path, Size: c.Size,
		})
		if err != nil {
			log.Printf("gc: failed to delete %s/%s: %v", c.SourceID, c.Quality, err)
			continue
		}
		deleted++
		freed += c.Size
	}

	if len(targetSet) > 0 {
		return deleted, freed, nil
	}

	// Full sweep only: filesystem orphans, then capacity eviction.
	n, b := s.deleteFSOrphans()
	deleted += n
	freed += b

	n, b, err = s.evictOverCapacity(ctx)
	if err != nil {
		return deleted, freed, err
	}
	deleted += n
	freed += b

	if deleted > 0 {
		log.Printf("gc: removed %d files, freed %d bytes", deleted, freed)
	}
	return deleted, freed, nil
}

func (s *MediaCache) deleteFSOrphans() (int, int64) {
	report, err := s.ScanIntegrity()
	if err != nil {
		log.Printf("gc: integrity scan failed: %v", err)
		return 0, 0
	}

	var deleted int
	var freed int64
	for _, o := range report.FSOrphans {
		if err := os.Remove(s.AbsPath(o.Path)); err != nil {
			log.Printf("gc: failed to delete orphan %s: %v", o.Filename, err)
			continue
		}
		deleted++
		freed += o.Size
	}
	return deleted, freed
}

func (s *MediaCache) evictOverCapacity(ctx context.Context) (int, int64, error) {
	capacityGB, err := s.settings.GetFloat(ctx, store.KeyCacheCapacityGB, 0)
	if err != nil || capacityGB <= 0 {
		return 0, 0, nil
	}
	budget := int64(capacityGB * float64(1<<30))

	_, total, _, err := s.store.CacheTotals()
	if err != nil {
		return 0, 0, err
	}
	if total <= budget {
		return 0, 0, nil
	}

	entries, err := s.store.ListCacheEntries() // oldest first
	if err != nil {
		return 0, 0, err
	}
	metas, err := s.store.ListSourceMeta()
	if err != nil {
		return 0, 0, err
	}

	var deleted int
	var freed int64
	for _, e := range entries {
		if total-freed <= budget {
			break
		}
		if metas[e.SourceID].Policy == model.PolicyKeepForever {
			continue
		}
		if err := s.deleteEntry(e); err != nil {
			log.Printf("gc: capacity eviction failed for %s/%s: %v", e.SourceID, e.Quality, err)
			continue
		}
		deleted++
		freed += e.Size
	}
	return deleted, freed, nil
}

// ScanIntegrity reconciles the cache index against the filesystem without
// changing anything: rows whose file is gone, and files with no row.
func (s *MediaCache) ScanIntegrity() (model.IntegrityReport, error) {
	var report model.IntegrityReport

	entries, err := s.store.ListCacheEntries()
	if err != nil {
		return report, err
	}

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[filepath.Base(e.Path)] = true
		if !s.fileExists(e.Path) {
			report.DBOrphans = append(report.DBOrphans, model.DBOrphan{
				ID: e.ID, SourceID: e.SourceID, Quality: e.Quality, Path: e.Path,
			})
		}
	}

	files, err := os.ReadDir(s.cacheDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, err
	}
	for _, f := range files {
		if f.IsDir() || known[f.Name()] {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		report.FSOrphans = append(report.FSOrphans, model.FSOrphan{
			Filename: f.Name(),
			Path:     s.relPath(f.Name()),
			Size:     info.Size(),
		})
	}
	return report, nil
}

// SyncIntegrity removes index rows whose file is missing and, when
// deleteFiles is set, deletes unindexed files as well.
func (s *MediaCache) SyncIntegrity(deleteFiles bool) (model.IntegritySyncResponse, error) {
	report, err := s.ScanIntegrity()
	if err != nil {
		return model.IntegritySyncResponse{}, err
	}

	var result model.IntegritySyncResponse
	result.FSOrphansFound = len(report.FSOrphans)

	for _, o := range report.DBOrphans {
		if err := s.store.DeleteCacheEntry(o.SourceID, o.Quality); err != nil {
			log.Printf("sync: failed to drop row %s/%s: %v", o.SourceID, o.Quality, err)
			continue
		}
		result.DBCleaned++
	}

	if deleteFiles {
		for _, o := range report.FSOrphans {
			if err := os.Remove(s.AbsPath(o.Path)); err != nil {
				log.Printf("sync: failed to delete %s: %v", o.Filename, err)
				continue
			}
			result.FSCleaned++
			result.FSFreedBytes += o.Size
		}
	}
	return result, nil
}

// NextGCTime returns the next scheduled sweep, if the scheduler is running.
func (s *MediaCache) NextGCTime() *time.Time {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	return s.nextGC
}

func (s *MediaCache) setNextGC(t time.Time) {
	s.gcMu.Lock()
	s.nextGC = &t
	s.gcMu.Unlock()
}

// StartGCLoop runs full sweeps on the persisted interval until the context
// is cancelled. The interval is re-read each cycle so operators can retune
// it without a restart.
func (s *MediaCache) StartGCLoop(ctx context.Context) {
	s.setNextGC(time.Now().Add(GCStartupGrace))
	select {
	case <-ctx.Done():
		return
	case <-time.After(GCStartupGrace):
	}

	for {
		if _, _, err := s.RunGC(ctx, nil); err != nil {
			log.Printf("gc: sweep failed: %v", err)
		}

		hours, err := s.settings.GetFloat(ctx, store.KeyRetentionCronInterval, 1)
		if err != nil || hours <= 0 {
			hours = 1
		}
		interval := time.Duration(hours * float64(time.Hour))
		s.setNextGC(time.Now().Add(interval))

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
