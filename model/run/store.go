package run

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrRunNotFound is returned by Store.Get for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// ListOptions filters and bounds Store.List output.
type ListOptions struct {
	PipelineName string
	Limit        int
}

// Store persists run records. Implementations must be safe for
// concurrent use; the runner saves the record as each job finishes.
type Store interface {
	// Put saves the full record, replacing any existing record with
	// the same ID.
	Put(context.Context, *Run) error
	// Get returns the record with the given ID, or ErrRunNotFound.
	Get(context.Context, string) (*Run, error)
	// List returns records newest first.
	List(context.Context, ListOptions) ([]Run, error)
	// Prune deletes finished records older than the given time and
	// returns how many were removed.
	Prune(context.Context, time.Time) (int, error)
}

// memoryStore keeps run records in memory, for local runs and tests.
type memoryStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

// NewMemoryStore returns an in-memory run store.
func NewMemoryStore() Store {
	return &memoryStore{runs: map[string]Run{}}
}

func (s *memoryStore) Put(_ context.Context, r *Run) error {
	if r.ID == "" {
		return errors.New("run must have an ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = *r
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, errors.Wrapf(ErrRunNotFound, "run '%s'", id)
	}
	return &r, nil
}

func (s *memoryStore) List(_ context.Context, opts ListOptions) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Run{}
	for _, r := range s.runs {
		if opts.PipelineName != "" && r.PipelineName != opts.PipelineName {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memoryStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, r := range s.runs {
		if r.IsFinished() && !r.FinishedAt.IsZero() && r.FinishedAt.Before(olderThan) {
			delete(s.runs, id)
			count++
		}
	}
	return count, nil
}
