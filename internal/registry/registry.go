// Package registry tracks the set of live worker children the supervisor
// has spawned: their worker type, PID, and the handle used to address them.
package registry

import (
	"sync"
	"time"
)

// Worker is anything the registry can hold: a handle onto a single spawned
// child. Implemented by *spawn.Handle in production.
type Worker interface {
	PID() int32
	WorkerType() string
	Exited() bool
	Killed() bool
}

// Registry is the supervisor's single source of truth for which children
// currently exist. It owns no IPC state of its own; it only indexes
// Worker handles the spawn engine creates.
type Registry struct {
	mu       sync.Mutex
	byPID    map[int32]Worker
	lastBeat map[int32]time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byPID:    make(map[int32]Worker),
		lastBeat: make(map[int32]time.Time),
	}
}

// Add registers a newly spawned worker.
func (r *Registry) Add(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPID[w.PID()] = w
	r.lastBeat[w.PID()] = time.Now()
}

// Remove deregisters a worker by PID, e.g. after it exits.
func (r *Registry) Remove(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPID, pid)
	delete(r.lastBeat, pid)
}

// ByPID looks up a worker by PID.
func (r *Registry) ByPID(pid int32) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byPID[pid]
	return w, ok
}

// ByType returns every currently registered worker of the given type, in no
// particular order; callers that need a deterministic choice should sort or
// otherwise stabilize the result themselves (the router sorts by PID).
func (r *Registry) ByType(workerType string) []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Worker
	for _, w := range r.byPID {
		if w.WorkerType() == workerType {
			out = append(out, w)
		}
	}
	return out
}

// Heartbeat records that pid emitted a health beat at the current time.
func (r *Registry) Heartbeat(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPID[pid]; ok {
		r.lastBeat[pid] = time.Now()
	}
}

// LastHeartbeat returns when pid last beat, and whether it is known at all.
func (r *Registry) LastHeartbeat(pid int32) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastBeat[pid]
	return t, ok
}

// All returns every registered worker, for the health watchdog sweep.
func (r *Registry) All() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Worker, 0, len(r.byPID))
	for _, w := range r.byPID {
		out = append(out, w)
	}
	return out
}

// Count reports how many workers of workerType are currently registered,
// live or not.
func (r *Registry) Count(workerType string) int {
	return len(r.ByType(workerType))
}
