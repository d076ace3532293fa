package model

import "time"

// JobStatus tracks a transcription job through its lifecycle.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCancelled, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobMeta carries display metadata attached at job start.
type JobMeta struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
}

// JobSnapshot is a point-in-time copy of an in-memory job record.
// The registry hands out snapshots, never live references.
type JobSnapshot struct {
	ID        int64      `json:"id"`
	Status    JobStatus  `json:"status"`
	Progress  float64    `json:"progress"`
	Message   string     `json:"message"`
	Meta      JobMeta    `json:"meta"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// CancelledText is the sentinel transcript text persisted for cancelled jobs.
// Callers distinguish outcomes via job status, not by parsing this text.
const CancelledText = "Task Cancelled"
