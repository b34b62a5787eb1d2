package flowstore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps flows in process memory. Flows are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]Flow
	order []string // ids in creation order
}

// NewMemoryStore returns an empty in-memory flow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Flow)}
}

func (s *MemoryStore) Create(_ context.Context, req *CreateFlowRequest) (*Flow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byID[id]; taken {
		return nil, ErrFlowExists
	}
	flow := newFlow(id, req)
	s.byID[id] = *flow
	s.order = append(s.order, id)
	return flow, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Flow, error) {
	s.mu.RLock()
	flow, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrFlowNotFound
	}
	return &flow, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, req *UpdateFlowRequest) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.byID[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	req.apply(&flow)
	s.byID[id] = flow
	return &flow, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrFlowNotFound
	}
	delete(s.byID, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return nil
}

// List walks flows in creation order, so no sorting is needed.
func (s *MemoryStore) List(_ context.Context, opts *ListOptions) ([]*Flow, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Flow, 0, len(s.order))
	for _, id := range s.order {
		flow := s.byID[id]
		if opts.matches(&flow) {
			out = append(out, &flow)
		}
	}
	return page(out, opts), nil
}

func (s *MemoryStore) Close() error { return nil }

var _ FlowStore = (*MemoryStore)(nil)
