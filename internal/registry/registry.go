package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/mediascribe/api/internal/model"
)

// job is the live in-memory record. Only snapshots ever leave the registry.
type job struct {
	snap            model.JobSnapshot
	cancel          chan struct{}
	cancelRequested bool
}

// Registry tracks in-flight and recently finished jobs. All state is held in
// memory under a single mutex; finished jobs are kept as a FIFO history so
// clients can still poll a task that completed moments ago.
type Registry struct {
	mu         sync.Mutex
	jobs       map[int64]*job
	finished   []int64 // terminal job ids, oldest first
	historyCap int

	nextID      int64
	nextCacheID int64
}

// DefaultHistoryCap bounds the finished-job history when no cap is configured.
const DefaultHistoryCap = 20

func New(historyCap int) *Registry {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Registry{
		jobs:       make(map[int64]*job),
		historyCap: historyCap,
	}
}

// Start registers a new job in processing state and returns its id.
func (r *Registry) Start(meta model.JobMeta) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.add(id, meta)
	return id
}

// StartCacheJob registers a cache-only job. Cache jobs use negative ids so
// they can never collide with transcription job ids.
func (r *Registry) StartCacheJob(meta model.JobMeta) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextCacheID--
	id := r.nextCacheID
	r.add(id, meta)
	return id
}

func (r *Registry) add(id int64, meta model.JobMeta) {
	r.jobs[id] = &job{
		snap: model.JobSnapshot{
			ID:        id,
			Status:    model.JobStatusProcessing,
			Meta:      meta,
			StartedAt: time.Now(),
		},
		cancel: make(chan struct{}),
	}
}

// UpdateProgress records progress and a human-readable stage message.
// Updates against terminal jobs are dropped.
func (r *Registry) UpdateProgress(id int64, progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.snap.Status.Terminal() {
		return
	}
	if progress >= 0 {
		j.snap.Progress = progress
	}
	if message != "" {
		j.snap.Message = message
	}
}

// RequestCancel asks a running job to stop. It reports whether the request
// was accepted; terminal and unknown jobs reject it. The first accepted
// request closes the job's cancel channel.
func (r *Registry) RequestCancel(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.snap.Status.Terminal() {
		return false
	}
	if !j.cancelRequested {
		j.cancelRequested = true
		j.snap.Status = model.JobStatusCancelling
		close(j.cancel)
	}
	return true
}

// IsCancelled reports whether cancellation has been requested for the job.
func (r *Registry) IsCancelled(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	return ok && j.cancelRequested
}

// CheckCancel is the cooperative checkpoint used between pipeline stages.
func (r *Registry) CheckCancel(id int64) error {
	if r.IsCancelled(id) {
		return model.ErrJobCancelled
	}
	return nil
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when cancellation is requested. For unknown
// jobs it returns an already-closed channel so selects never block forever.
func (r *Registry) Done(id int64) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return closedChan
	}
	return j.cancel
}

// Complete marks the job completed at 100% progress.
func (r *Registry) Complete(id int64) {
	r.finalize(id, model.JobStatusCompleted, "")
}

// Fail marks the job failed with the given message.
func (r *Registry) Fail(id int64, message string) {
	r.finalize(id, model.JobStatusFailed, message)
}

// MarkCancelled moves the job to its terminal cancelled state.
func (r *Registry) MarkCancelled(id int64) {
	r.finalize(id, model.JobStatusCancelled, model.CancelledText)
}

// Finish is the pipeline's deferred cleanup hook. Jobs already in a terminal
// state keep it; anything still running is treated as completed.
func (r *Registry) Finish(id int64) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	terminal := ok && j.snap.Status.Terminal()
	r.mu.Unlock()
	if !ok || terminal {
		return
	}
	r.Complete(id)
}

func (r *Registry) finalize(id int64, status model.JobStatus, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.snap.Status.Terminal() {
		return
	}
	j.snap.Status = status
	if message != "" {
		j.snap.Message = message
	}
	if status == model.JobStatusCompleted {
		j.snap.Progress = 100
	}
	now := time.Now()
	j.snap.EndedAt = &now

	r.finished = append(r.finished, id)
	for len(r.finished) > r.historyCap {
		evict := r.finished[0]
		r.finished = r.finished[1:]
		delete(r.jobs, evict)
	}
}

// Get returns a snapshot of the job, if it is still tracked.
func (r *Registry) Get(id int64) (model.JobSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return model.JobSnapshot{}, false
	}
	return j.snap, true
}

// List returns snapshots of all tracked jobs, newest first.
func (r *Registry) List() []model.JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.JobSnapshot, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.snap)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].StartedAt.After(out[k].StartedAt)
	})
	return out
}

// Remove drops a job from the registry regardless of state.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, id)
	for i, fid := range r.finished {
		if fid == id {
			r.finished = append(r.finished[:i], r.finished[i+1:]...)
			break
		}
	}
}
