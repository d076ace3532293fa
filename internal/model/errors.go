package model

import (
	"errors"
	"fmt"
)

// ErrJobCancelled is the cooperative cancellation signal. It always takes
// priority over other error classes and is never retried.
var ErrJobCancelled = errors.New("job cancelled")

// ErrNoEngineAvailable is returned when routing exhausts the priority list.
var ErrNoEngineAvailable = errors.New("no available ASR engine")

// EngineOfflineError reports a specific engine that was requested or pinned
// but is not currently available.
type EngineOfflineError struct {
	Engine string
	Strict bool
}

func (e *EngineOfflineError) Error() string {
	if e.Strict {
		return fmt.Sprintf("strict mode: active engine %q is offline", e.Engine)
	}
	return fmt.Sprintf("engine %q is offline", e.Engine)
}

// DownloadError wraps a downloader failure. Network reports whether the
// failure was classified as network-related and is therefore retryable.
type DownloadError struct {
	Source  string
	Network bool
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed for %s: %v", e.Source, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// RemoteASRError is a non-200 response or transport failure from an ASR
// worker or cloud engine, carrying the engine name for diagnostics.
type RemoteASRError struct {
	Engine  string
	Status  int
	Message string
}

func (e *RemoteASRError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("asr engine %s: status %d: %s", e.Engine, e.Status, e.Message)
	}
	return fmt.Sprintf("asr engine %s: %s", e.Engine, e.Message)
}
