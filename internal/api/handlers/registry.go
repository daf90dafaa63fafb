package handlers

import (
	"sync"

	"github.com/graphport/graphport/internal/domain/job"
)

// Registry tracks jobs that are executing in this process. Handlers read
// live progress from it; jobs that are only in the persistent store report
// their last saved snapshot instead.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*job.Job)}
}

// Register adds a running job. The caller removes it when the run finishes.
func (r *Registry) Register(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

// Unregister removes a job from the live set.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Get returns the live job for an ID, or nil if it is not running here.
func (r *Registry) Get(id string) *job.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}
