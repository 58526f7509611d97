package progress

import (
	"sync"
	"time"
)

const defaultEvictDelay = 30 * time.Second

// Registry is the in-memory table of job snapshots. It is the source of
// truth for job status; stream subscribers and HTTP handlers read from it,
// runners and bridges write through Update. Safe for concurrent use;
// updates are linearized per job ID under a single mutex.
type Registry struct {
	mu         sync.Mutex
	jobs       map[string]Snapshot
	evictDelay time.Duration
}

// NewRegistry creates a Registry. Terminal snapshots are evicted evictDelay
// after their final update so a reconnecting client can still observe them;
// pass 0 to use the default of 30s.
func NewRegistry(evictDelay time.Duration) *Registry {
	if evictDelay <= 0 {
		evictDelay = defaultEvictDelay
	}
	return &Registry{
		jobs:       make(map[string]Snapshot),
		evictDelay: evictDelay,
	}
}

// Update upserts the snapshot for jobID and returns the stored value.
// Updates to a job already in a terminal state are rejected (no-op, returns
// the existing snapshot and false). Percent never decreases for a live job:
// a lower value is clamped to the current one.
func (r *Registry) Update(jobID string, snap Snapshot) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[jobID]
	if ok && cur.Terminal() {
		return cur, false
	}
	if ok && snap.Stage != StageError && snap.Percent < cur.Percent {
		snap.Percent = cur.Percent
	}
	r.jobs[jobID] = snap

	if snap.Terminal() {
		go r.scheduleEvict(jobID)
	}
	return snap, true
}

// Get returns the snapshot for jobID, if present.
func (r *Registry) Get(jobID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.jobs[jobID]
	return snap, ok
}

// Evict removes the snapshot for jobID immediately. Called by the result
// endpoint once the payload has been handed out.
func (r *Registry) Evict(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

func (r *Registry) scheduleEvict(jobID string) {
	timer := time.NewTimer(r.evictDelay)
	defer timer.Stop()
	<-timer.C
	r.Evict(jobID)
}
