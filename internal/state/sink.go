package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// ResultSink persists every committed result for one instance
type ResultSink struct {
	mgr        *Manager
	instanceID string
}

// NewResultSink creates a sink writing to mgr
func NewResultSink(mgr *Manager, instanceID string) *ResultSink {
	return &ResultSink{mgr: mgr, instanceID: instanceID}
}

// Notify stores r as the latest result
func (s *ResultSink) Notify(ctx context.Context, r *detection.Result) error {
	return s.mgr.SaveResult(ctx, s.instanceID, r)
}

// NotifyError records the last failure for the instance
func (s *ResultSink) NotifyError(ctx context.Context, kind detection.ErrorKind, ec detection.ErrorContext) error {
	value, err := json.Marshal(struct {
		Kind detection.ErrorKind `json:"kind"`
		detection.ErrorContext
		At time.Time `json:"at"`
	}{kind, ec, time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal error: %w", err)
	}
	return s.mgr.SaveSystemState(ctx, LastErrorKey(s.instanceID), string(value))
}

// LastErrorKey is the system_state key holding an instance's last failure
func LastErrorKey(instanceID string) string {
	return instanceID + ".last_error"
}

// ModelStateKey is the system_state key holding an instance's model load outcome
func ModelStateKey(instanceID string) string {
	return instanceID + ".model_state"
}
