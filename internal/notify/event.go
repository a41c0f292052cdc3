package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// EventDetectionComplete is the domain event name emitted on every commit
const EventDetectionComplete = "detection_complete"

// DetectionCompleteEvent is the payload published after a result is committed
type DetectionCompleteEvent struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Count     int       `json:"count"`
	SourceID  string    `json:"source_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDetectionCompleteEvent builds the domain event for r
func NewDetectionCompleteEvent(r *detection.Result) DetectionCompleteEvent {
	return DetectionCompleteEvent{
		ID:        uuid.New().String(),
		Event:     EventDetectionComplete,
		Count:     r.Count(),
		SourceID:  r.SourceID(),
		Timestamp: r.ObservedAt(),
	}
}

// ErrorEvent is the payload published when a request fails
type ErrorEvent struct {
	ID        string              `json:"id"`
	Kind      detection.ErrorKind `json:"kind"`
	SourceID  string              `json:"source_id,omitempty"`
	Message   string              `json:"message"`
	State     string              `json:"state,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewErrorEvent builds the payload for a failed request
func NewErrorEvent(kind detection.ErrorKind, ec detection.ErrorContext, at time.Time) ErrorEvent {
	return ErrorEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		SourceID:  ec.SourceID,
		Message:   ec.Message,
		State:     ec.State,
		Timestamp: at.UTC(),
	}
}
