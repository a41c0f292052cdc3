package notify

import (
	"context"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/service"
)

// BusSink republishes results and failures on the in-process event bus
type BusSink struct {
	bus    *service.EventBus
	source string
}

// NewBusSink creates a sink publishing as source
func NewBusSink(bus *service.EventBus, source string) *BusSink {
	return &BusSink{bus: bus, source: source}
}

// Notify publishes a detection.complete event
func (s *BusSink) Notify(ctx context.Context, r *detection.Result) error {
	evt := NewDetectionCompleteEvent(r)
	s.bus.Publish(service.Event{
		Type:      service.EventTypeDetectionComplete,
		Source:    s.source,
		Timestamp: evt.Timestamp,
		Data: map[string]interface{}{
			"id":        evt.ID,
			"event":     evt.Event,
			"count":     evt.Count,
			"source_id": evt.SourceID,
			"timestamp": evt.Timestamp.Format(time.RFC3339Nano),
		},
	})
	return nil
}

// NotifyError publishes a detection.failed event
func (s *BusSink) NotifyError(ctx context.Context, kind detection.ErrorKind, ec detection.ErrorContext) error {
	s.bus.Publish(service.Event{
		Type:   service.EventTypeDetectionFailed,
		Source: s.source,
		Data: map[string]interface{}{
			"kind":      string(kind),
			"source_id": ec.SourceID,
			"message":   ec.Message,
			"state":     ec.State,
		},
	})
	return nil
}
