package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

type memoryEntry struct {
	summary  *types.RunSummary
	storedAt time.Time
}

// MemoryArchive is an in-memory Archive.
// Suitable for development and testing. Data is lost on restart.
type MemoryArchive struct {
	mu      sync.RWMutex
	runs    map[string]*memoryEntry
	ttl     time.Duration
	maxRuns int
}

// NewMemoryArchive creates an in-memory archive. Entries older than ttl are
// dropped on access (0 = keep forever); at most maxRuns are kept (0 = unlimited).
func NewMemoryArchive(ttl time.Duration, maxRuns int) *MemoryArchive {
	return &MemoryArchive{
		runs:    make(map[string]*memoryEntry),
		ttl:     ttl,
		maxRuns: maxRuns,
	}
}

// Save stores a copy of the summary.
func (a *MemoryArchive) Save(ctx context.Context, summary *types.RunSummary) error {
	cp := *summary
	cp.Events = append([]types.Event(nil), summary.Events...)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.runs[summary.ID] = &memoryEntry{summary: &cp, storedAt: time.Now()}
	a.evictLocked()
	return nil
}

// evictLocked drops expired entries and then the oldest beyond maxRuns.
func (a *MemoryArchive) evictLocked() {
	if a.ttl > 0 {
		cutoff := time.Now().Add(-a.ttl)
		for id, e := range a.runs {
			if e.storedAt.Before(cutoff) {
				delete(a.runs, id)
			}
		}
	}
	if a.maxRuns <= 0 || len(a.runs) <= a.maxRuns {
		return
	}

	ids := make([]string, 0, len(a.runs))
	for id := range a.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return a.runs[ids[i]].storedAt.Before(a.runs[ids[j]].storedAt) })
	for _, id := range ids[:len(ids)-a.maxRuns] {
		delete(a.runs, id)
	}
}

// Get returns a copy of an archived summary.
func (a *MemoryArchive) Get(ctx context.Context, runID string) (*types.RunSummary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.runs[runID]
	if !ok || (a.ttl > 0 && time.Since(e.storedAt) > a.ttl) {
		return nil, ErrRunNotFound
	}
	cp := *e.summary
	cp.Events = append([]types.Event(nil), e.summary.Events...)
	return &cp, nil
}

// List returns archived run IDs, oldest first.
func (a *MemoryArchive) List(ctx context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.runs))
	for id, e := range a.runs {
		if a.ttl > 0 && time.Since(e.storedAt) > a.ttl {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return a.runs[ids[i]].storedAt.Before(a.runs[ids[j]].storedAt) })
	return ids, nil
}

// AdapterInfo returns diagnostic information.
func (a *MemoryArchive) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return map[string]interface{}{
		"adapter": "memory",
		"healthy": true,
		"details": map[string]interface{}{
			"runs":      len(a.runs),
			"max_runs":  a.maxRuns,
			"ttl_hours": a.ttl.Hours(),
		},
	}, nil
}

// Close is a no-op.
func (a *MemoryArchive) Close() error {
	return nil
}

// Ensure MemoryArchive implements Archive
var _ Archive = (*MemoryArchive)(nil)
