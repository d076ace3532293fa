package model

import "time"

// Quality tags for cached media variants. Dynamic tags (e.g. "1080p") are
// also accepted; these are the ones the priority lists know about.
const (
	QualityBest      = "best"
	QualityMedium    = "medium"
	QualityWorst     = "worst"
	QualityAudioOnly = "audio_only"
	QualityVideo     = "video"
)

// CacheMode selects the quality priority order for cache lookups.
type CacheMode string

const (
	// CacheModePlayback prefers video variants.
	CacheModePlayback CacheMode = "playback"
	// CacheModeTranscription prefers audio_only for faster ASR.
	CacheModeTranscription CacheMode = "transcription"
)

// CacheEntry is one durable row mapping (source, quality) to a file on disk.
type CacheEntry struct {
	ID       int64     `json:"id"`
	SourceID string    `json:"sourceId"`
	Quality  string    `json:"quality"`
	Path     string    `json:"path"` // relative to the data root
	Size     int64     `json:"size"`
	CachedAt time.Time `json:"cachedAt"`
}

// Per-source retention policy overrides stored on source metadata.
const (
	PolicyKeepForever = "keep_forever"
	PolicyCustom      = "custom"
)

// Global retention policy names.
const (
	PolicyDeleteAfterASR = "delete_after_asr"
	PolicyAlwaysKeep     = "always_keep"
	PolicyKeepDays       = "keep_days"
)

// RetentionPolicy is the parsed global policy.
type RetentionPolicy struct {
	Name string
	Days int // only meaningful for keep_days
}

// SourceMeta is the per-source metadata record carrying the policy override.
type SourceMeta struct {
	SourceID  string     `json:"sourceId"`
	Title     string     `json:"title,omitempty"`
	Policy    string     `json:"policy,omitempty"` // keep_forever | custom | "" (inherit global)
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// GCCandidate describes one cache entry eligible for deletion.
type GCCandidate struct {
	SourceID string `json:"sourceId"`
	Quality  string `json:"quality"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
	Policy   string `json:"policy"`
}

// DBOrphan is a cache row whose file is missing from disk.
type DBOrphan struct {
	ID       int64  `json:"id"`
	SourceID string `json:"sourceId"`
	Quality  string `json:"quality"`
	Path     string `json:"path"`
}

// FSOrphan is a file in the cache directory with no matching row.
type FSOrphan struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// IntegrityReport is the result of a cache integrity scan.
type IntegrityReport struct {
	DBOrphans []DBOrphan `json:"dbOrphans"`
	FSOrphans []FSOrphan `json:"fsOrphans"`
}

// CacheStats summarizes cache usage for the admin API.
type CacheStats struct {
	FileCount      int              `json:"fileCount"`
	TotalSizeBytes int64            `json:"totalSizeBytes"`
	TotalSizeMB    float64          `json:"totalSizeMb"`
	TotalSizeGB    float64          `json:"totalSizeGb"`
	ByQuality      map[string]int64 `json:"byQuality"`
	FSFileCount    int              `json:"fsFileCount"`
	FSSizeBytes    int64            `json:"fsSizeBytes"`
	OrphanCount    int              `json:"orphanCount"`
	NextGCTime     *time.Time       `json:"nextGcTime,omitempty"`
}
