package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"hlsgrab/internal/pipeline"
)

// maxEventsKept bounds the per-job progress event history.
const maxEventsKept = 256

// Registry defines the concurrency-safe contract for accessing and mutating
// job state.
type Registry interface {
	// Create records a new queued job for the given input and returns its
	// snapshot.
	Create(input string) Job

	// Snapshot returns a copy of the job's current state. ok is false if
	// the job does not exist.
	Snapshot(id uuid.UUID) (job Job, ok bool)

	// Events returns a copy of the job's recent ordered progress events.
	// ok is false if the job does not exist.
	Events(id uuid.UUID) (events []pipeline.Event, ok bool)

	// Update applies fn to the job's state under the registry lock.
	// Returns false if the job does not exist.
	Update(id uuid.UUID, fn func(*JobState)) bool

	// AppendEvent records a progress event and mirrors phase, percent and
	// message onto the job snapshot.
	AppendEvent(id uuid.UUID, ev pipeline.Event)

	// RunningCount returns the number of jobs that are not finished.
	// Used for metrics.
	RunningCount() int
}

// InMemoryRegistry is a concurrency-safe in-memory implementation of
// Registry backed by a Store.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRegistry constructs a registry with a default in-memory store.
func NewInMemoryRegistry() *InMemoryRegistry {
	return NewInMemoryRegistryWithStore(NewInMemoryStore())
}

// NewInMemoryRegistryWithStore constructs a registry using the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRegistryWithStore(store Store) *InMemoryRegistry {
	return &InMemoryRegistry{store: store}
}

// Create implements Registry.Create.
func (r *InMemoryRegistry) Create(input string) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := Job{
		ID:        uuid.New(),
		Input:     input,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	r.store.SetJob(&JobState{Job: job})
	return job
}

// Snapshot implements Registry.Snapshot.
func (r *InMemoryRegistry) Snapshot(id uuid.UUID) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.store.GetJob(id)
	if !ok {
		return Job{}, false
	}
	job := st.Job
	job.Artifacts = append([]pipeline.Artifact(nil), st.Job.Artifacts...)
	return job, true
}

// Events implements Registry.Events.
func (r *InMemoryRegistry) Events(id uuid.UUID) ([]pipeline.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.store.GetJob(id)
	if !ok {
		return nil, false
	}
	return append([]pipeline.Event(nil), st.Events...), true
}

// Update implements Registry.Update.
func (r *InMemoryRegistry) Update(id uuid.UUID, fn func(*JobState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.store.GetJob(id)
	if !ok {
		return false
	}
	fn(st)
	return true
}

// AppendEvent implements Registry.AppendEvent.
func (r *InMemoryRegistry) AppendEvent(id uuid.UUID, ev pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.store.GetJob(id)
	if !ok {
		return
	}
	st.Events = append(st.Events, ev)
	if len(st.Events) > maxEventsKept {
		st.Events = st.Events[len(st.Events)-maxEventsKept:]
	}
	st.Job.Phase = ev.Phase
	st.Job.Percent = ev.Percent
	st.Job.Message = ev.Message
}

// RunningCount implements Registry.RunningCount.
func (r *InMemoryRegistry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListJobIDs() {
		if st, ok := r.store.GetJob(id); ok && !st.Job.Status.Finished() {
			n++
		}
	}
	return n
}
