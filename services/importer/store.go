package importer

import (
	"sort"
	"sync"
)

// Store is the in-memory job registry: concurrent insert by the
// orchestrator, concurrent reads by observers. Jobs are never evicted
// here; retention is the boundary layer's problem.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewStore creates an empty job registry.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

func (s *Store) put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns the job with the given id.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// ByOwner returns snapshots of the owner's jobs, newest first. With
// includeAll set, every job is returned regardless of owner.
func (s *Store) ByOwner(ownerID string, includeAll bool) []Snapshot {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if includeAll || job.OwnerID == ownerID {
			jobs = append(jobs, job)
		}
	}
	s.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, job.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Len reports how many jobs the registry holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
