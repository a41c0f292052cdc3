package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// ErrUnknownSource is returned when a source ID has no registered source
var ErrUnknownSource = errors.New("unknown image source")

// ImageSource fetches the current still for a source ID
type ImageSource interface {
	Fetch(ctx context.Context, sourceID string) ([]byte, error)
}

// Source produces encoded stills for a single camera or file
type Source interface {
	Kind() string
	Snapshot(ctx context.Context) ([]byte, error)
}

// ReachabilityChecker is implemented by sources that can check reachability without a full capture
type ReachabilityChecker interface {
	CheckReachable(ctx context.Context) error
}

// Registry maps source IDs to sources
type Registry struct {
	logger  *logger.Logger
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		logger:  log,
		sources: make(map[string]Source),
	}
}

// Register adds a source under id
func (r *Registry) Register(id string, src Source) error {
	if id == "" {
		return fmt.Errorf("source id is required")
	}
	if src == nil {
		return fmt.Errorf("source %s is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[id]; exists {
		return fmt.Errorf("source %s already registered", id)
	}
	r.sources[id] = src
	r.logger.Debug("Registered image source", "source_id", id, "kind", src.Kind())
	return nil
}

// Get returns the source registered under id
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// IDs returns the registered source IDs in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fetch captures a still from the named source
func (r *Registry) Fetch(ctx context.Context, sourceID string) ([]byte, error) {
	src, ok := r.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	data, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("source %s returned an empty image", sourceID)
	}
	return data, nil
}

// Unreachable checks every source that supports it and returns failures by source ID
func (r *Registry) Unreachable(ctx context.Context) map[string]error {
	r.mu.RLock()
	checkers := make(map[string]ReachabilityChecker)
	for id, src := range r.sources {
		if p, ok := src.(ReachabilityChecker); ok {
			checkers[id] = p
		}
	}
	r.mu.RUnlock()

	failures := make(map[string]error)
	for id, p := range checkers {
		if err := p.CheckReachable(ctx); err != nil {
			failures[id] = err
		}
	}
	return failures
}
