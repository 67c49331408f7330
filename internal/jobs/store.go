package jobs

import "github.com/google/uuid"

// Store is the persistence abstraction for job state. Implementations can
// be in-memory or backed by something durable; the Registry uses Store for
// all reads and writes and provides the locking discipline on top.
type Store interface {
	GetJob(id uuid.UUID) (*JobState, bool)
	SetJob(s *JobState)
	ListJobIDs() []uuid.UUID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	jobs map[uuid.UUID]*JobState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs: make(map[uuid.UUID]*JobState),
	}
}

// GetJob implements Store.GetJob.
func (s *InMemoryStore) GetJob(id uuid.UUID) (*JobState, bool) {
	st, ok := s.jobs[id]
	return st, ok
}

// SetJob implements Store.SetJob.
func (s *InMemoryStore) SetJob(st *JobState) {
	s.jobs[st.Job.ID] = st
}

// ListJobIDs implements Store.ListJobIDs.
func (s *InMemoryStore) ListJobIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
