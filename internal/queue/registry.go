package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrJobExists = errors.New("job_exists")

type registryEntry struct {
	status JobStatus
	cancel context.CancelFunc
	sealed bool
}

// Registry holds the live status of every running job. It is volatile and
// starts empty on every process start.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string]*registryEntry{}}
}

// Register inserts a new live record. cancel is the job's cancellation
// token and may be nil.
func (r *Registry) Register(id string, st JobStatus, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		return ErrJobExists
	}
	st.ID = id
	r.jobs[id] = &registryEntry{status: st, cancel: cancel}
	return nil
}

// Update applies fn to the record of a running job. It is a no-op for
// unknown ids and for jobs already in a terminal state.
func (r *Registry) Update(id string, fn func(*JobStatus)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || IsTerminal(e.status.Status) {
		return false
	}
	// status transitions go through MarkCancelled and Finish only
	status := e.status.Status
	fn(&e.status)
	e.status.ID = id
	e.status.Status = status
	return true
}

// MarkCancelled flags a running job as cancelled and fires its token.
// Repeated calls are harmless. It returns false when the job is unknown,
// already terminal, or sealed for finalization.
func (r *Registry) MarkCancelled(id string) bool {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok || e.sealed || IsTerminal(e.status.Status) {
		r.mu.Unlock()
		return false
	}
	e.status.Status = StatusCancelled
	cancel := e.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Seal claims the success path for a job. After sealing, cancellation
// requests are ignored. It fails if the job was cancelled already.
func (r *Registry) Seal(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || IsTerminal(e.status.Status) {
		return false
	}
	e.sealed = true
	return true
}

// Finish moves a job into a terminal status. Only the first terminal
// transition wins; a job already cancelled stays cancelled.
func (r *Registry) Finish(id, status string, fn func(*JobStatus)) bool {
	if !IsTerminal(status) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || IsTerminal(e.status.Status) {
		return false
	}
	if fn != nil {
		fn(&e.status)
	}
	e.status.ID = id
	e.status.Status = status
	return true
}

func (r *Registry) Get(id string) (JobStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return e.status, true
}

// SnapshotAll copies every live record, ordered by id (submission order).
func (r *Registry) SnapshotAll() []JobStatus {
	r.mu.RLock()
	out := make([]JobStatus, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.status)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// cancelAll fires every live token, used on shutdown.
func (r *Registry) cancelAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.MarkCancelled(id)
	}
}
