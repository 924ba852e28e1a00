package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/zoning-cli/internal/model"
)

// MemoryStore keeps everything in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	prompts map[string][]byte
	runs    map[string]*model.Run
	order   []string
	lookups map[string][]model.AllLookupOutput
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		prompts: make(map[string][]byte),
		runs:    make(map[string]*model.Run),
		lookups: make(map[string][]model.AllLookupOutput),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetPrompt(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.prompts[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (s *MemoryStore) SetPrompt(_ context.Context, key, _ string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[key] = slices.Clone(value)
	return nil
}

func (s *MemoryStore) CreateRun(_ context.Context, method model.ExtractionMethod, terms []string, topK int) (*model.Run, error) {
	now := time.Now().UTC()
	r := &model.Run{
		ID:        uuid.New().String(),
		Method:    method,
		Terms:     slices.Clone(terms),
		TopK:      topK,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	s.order = append(s.order, r.ID)
	out := *r
	return &out, nil
}

func (s *MemoryStore) FinishRun(_ context.Context, runID string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: run %s", runID)
	}
	r.Status, r.Error = finishState(runErr)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: run %s", runID)
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Run
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.runs[s.order[i]]
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if limit := pageLimit(filter); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveLookups(_ context.Context, runID string, outs []model.AllLookupOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return eris.Wrapf(ErrNotFound, "memory: run %s", runID)
	}
	s.lookups[runID] = append(s.lookups[runID], outs...)
	return nil
}

func (s *MemoryStore) ListLookups(_ context.Context, runID string) ([]model.AllLookupOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.lookups[runID]), nil
}
