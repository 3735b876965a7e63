package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("job not found")

type Store interface {
	Put(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// List returns all jobs, newest first.
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]Job{}}
}

func (s *MemoryStore) Put(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = clone(j)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, clone(j))
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func clone(j Job) Job {
	j.Warnings = append([]string(nil), j.Warnings...)
	return j
}

func sortNewestFirst(js []Job) {
	sort.Slice(js, func(a, b int) bool {
		if js[a].CreatedAt.Equal(js[b].CreatedAt) {
			return js[a].ID < js[b].ID
		}
		return js[a].CreatedAt.After(js[b].CreatedAt)
	})
}
