package coordinator

import (
	"context"
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
)

// notifyResult hands the committed result to the sink without waiting for it
func (c *Coordinator) notifyResult(r *detection.Result) {
	c.dispatch(r.SourceID(), func(ctx context.Context) error {
		return c.sink.Notify(ctx, r)
	})
}

// reportError tells the sink about a failed request without waiting for it
func (c *Coordinator) reportError(sourceID string, err error) {
	kind, ok := detection.KindOf(err)
	if !ok {
		kind = detection.KindInference
	}
	ec := detection.ErrorContext{
		SourceID: sourceID,
		Message:  err.Error(),
		State:    string(c.State()),
	}
	c.dispatch(sourceID, func(ctx context.Context) error {
		return c.sink.NotifyError(ctx, kind, ec)
	})
}

func (c *Coordinator) dispatch(sourceID string, deliver func(ctx context.Context) error) {
	if c.sink == nil {
		return
	}

	// Close waits on notifyWG after setting closed under the same lock
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		c.logger.Debug("Notification dropped, coordinator closed", "source_id", sourceID)
		return
	}
	c.notifyWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.notifyWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.NotifyTimeout)
		defer cancel()

		if err := safeDeliver(ctx, deliver); err != nil {
			c.logger.Warn("Notification failed",
				"source_id", sourceID,
				"error", detection.NewError(detection.KindSinkNotification, sourceID, err),
			)
		}
	}()
}

func safeDeliver(ctx context.Context, deliver func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return deliver(ctx)
}
