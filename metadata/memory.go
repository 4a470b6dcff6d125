package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/poiesic/indexit/core"
)

// MemoryStore is an in-process JobStore for tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]core.IngestionJob
	alternates map[string]string
	sources    map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]core.IngestionJob),
		alternates: make(map[string]string),
		sources:    make(map[string]map[string]string),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *core.IngestionJob) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	if job.ID == "" {
		return fmt.Errorf("%w: empty id", core.ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%q: %w", job.ID, ErrJobExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*core.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrJobNotFound)
	}
	out := cloneJob(&job)
	return &out, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job *core.IngestionJob) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%q: %w", job.ID, ErrJobNotFound)
	}
	if current.State != job.State && !current.State.CanTransitionTo(job.State) {
		return fmt.Errorf("%s -> %s: %w", current.State, job.State, core.ErrInvalidTransition)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) ListJobsBySource(_ context.Context, sourceID string) ([]*core.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*core.IngestionJob
	for id := range s.jobs {
		job := s.jobs[id]
		if job.SourceID == sourceID {
			out := cloneJob(&job)
			jobs = append(jobs, &out)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs, nil
}

func (s *MemoryStore) LookupAlternateID(_ context.Context, alternateID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alternates[alternateID], nil
}

func (s *MemoryStore) PutAlternateID(_ context.Context, alternateID, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alternates[alternateID] = sourceID
	return nil
}

func (s *MemoryStore) SourceMetadata(_ context.Context, sourceID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.sources[sourceID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) PutSourceMetadata(_ context.Context, sourceID string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make(map[string]string, len(meta))
	for k, v := range meta {
		stored[k] = v
	}
	s.sources[sourceID] = stored
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneJob(job *core.IngestionJob) core.IngestionJob {
	out := *job
	if job.Metadata != nil {
		out.Metadata = make(map[string]string, len(job.Metadata))
		for k, v := range job.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
