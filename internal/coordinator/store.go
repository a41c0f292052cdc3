package coordinator

import (
	"sync/atomic"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// ResultStore holds the latest committed result.
// Readers never block and never see a partially written result.
type ResultStore struct {
	current atomic.Pointer[detection.Result]
}

// NewResultStore creates an empty store
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// Commit replaces the visible result
func (s *ResultStore) Commit(r *detection.Result) {
	s.current.Store(r)
}

// CommitIfEmpty stores r only when nothing has been committed yet
func (s *ResultStore) CommitIfEmpty(r *detection.Result) bool {
	return s.current.CompareAndSwap(nil, r)
}

// Current returns the latest result, or nil before the first commit
func (s *ResultStore) Current() *detection.Result {
	return s.current.Load()
}
