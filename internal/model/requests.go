package model

// TranscribeRequest starts a transcription job for a remote or local source.
type TranscribeRequest struct {
	URL              string `json:"url" validate:"required"`
	SourceType       string `json:"sourceType,omitempty"`
	Title            string `json:"title,omitempty"`
	Language         string `json:"language,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	Engine           string `json:"engine,omitempty"`
	OutputFormat     string `json:"outputFormat,omitempty" validate:"omitempty,oneof=text srt"`
	Quality          string `json:"quality,omitempty"`
	IsolateVocals    bool   `json:"isolateVocals,omitempty"`
	OnlySubtitles    bool   `json:"onlySubtitles,omitempty"`
	ForceASR         bool   `json:"forceAsr,omitempty"`
	AnalyzePrompt    string `json:"analyzePrompt,omitempty"`
	AnalyzeStripSubs *bool  `json:"analyzeStripSubs,omitempty"`
}

// CacheOnlyRequest downloads and caches a source without transcribing it.
type CacheOnlyRequest struct {
	URL        string `json:"url" validate:"required"`
	SourceType string `json:"sourceType,omitempty"`
	Quality    string `json:"quality,omitempty"`
}

// EnqueueResponse acknowledges an accepted background job.
type EnqueueResponse struct {
	TaskID int64     `json:"taskId"`
	Status JobStatus `json:"status"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	TaskID    int64 `json:"taskId"`
	Cancelled bool  `json:"cancelled"`
}

// RoutingConfigRequest updates the persisted ASR routing configuration.
// Nil fields are left unchanged.
type RoutingConfigRequest struct {
	Priority        []string `json:"priority,omitempty"`
	StrictMode      *bool    `json:"strictMode,omitempty"`
	ActiveEngine    *string  `json:"activeEngine,omitempty"`
	DisabledEngines []string `json:"disabledEngines,omitempty"`
}

// RetentionConfigRequest updates cache retention settings. Nil fields are
// left unchanged.
type RetentionConfigRequest struct {
	Policy       *string  `json:"policy,omitempty"`
	CronInterval *float64 `json:"cronInterval,omitempty" validate:"omitempty,gt=0"`
	CapacityGB   *float64 `json:"capacityGb,omitempty" validate:"omitempty,gte=0"`
}

// SourcePolicyRequest sets the per-source retention override. A non-empty
// title updates the source's display title in the same write.
type SourcePolicyRequest struct {
	Policy    string `json:"policy" validate:"required,oneof=keep_forever custom inherit"`
	ExpiresAt string `json:"expiresAt,omitempty"` // RFC3339, required for custom
	Title     string `json:"title,omitempty"`
}

// GCRunResponse reports a garbage collection sweep.
type GCRunResponse struct {
	DeletedCount int   `json:"deletedCount"`
	FreedBytes   int64 `json:"freedBytes"`
}

// IntegritySyncResponse reports an integrity reconciliation.
type IntegritySyncResponse struct {
	DBCleaned      int   `json:"dbCleaned"`
	FSOrphansFound int   `json:"fsOrphansFound"`
	FSCleaned      int   `json:"fsCleaned"`
	FSFreedBytes   int64 `json:"fsFreedBytes"`
}
