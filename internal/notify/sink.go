package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// Sink observes committed results and failed requests.
// Callers treat both methods as fire-and-forget.
type Sink interface {
	Notify(ctx context.Context, r *detection.Result) error
	NotifyError(ctx context.Context, kind detection.ErrorKind, ec detection.ErrorContext) error
}

// Fanout delivers to every registered sink concurrently and waits for all of them
type Fanout struct {
	mu    sync.RWMutex
	sinks []namedSink
}

type namedSink struct {
	name string
	sink Sink
}

// NewFanout creates an empty fanout
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a sink under a name used in error messages
func (f *Fanout) Add(name string, s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
}

// Len returns the number of registered sinks
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Notify delivers r to every sink
func (f *Fanout) Notify(ctx context.Context, r *detection.Result) error {
	return f.each(func(s Sink) error { return s.Notify(ctx, r) })
}

// NotifyError delivers a failure to every sink
func (f *Fanout) NotifyError(ctx context.Context, kind detection.ErrorKind, ec detection.ErrorContext) error {
	return f.each(func(s Sink) error { return s.NotifyError(ctx, kind, ec) })
}

func (f *Fanout) each(deliver func(Sink) error) error {
	f.mu.RLock()
	sinks := make([]namedSink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	errs := make([]error, len(sinks))
	var wg sync.WaitGroup
	for i, ns := range sinks {
		wg.Add(1)
		go func(i int, ns namedSink) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s: panic: %v", ns.name, r)
				}
			}()
			if err := deliver(ns.sink); err != nil {
				errs[i] = fmt.Errorf("%s: %w", ns.name, err)
			}
		}(i, ns)
	}
	wg.Wait()

	return multierr.Combine(errs...)
}
