package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/model"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/notify"
)

// ErrSourceIDRequired is returned when Count is called without a source ID
var ErrSourceIDRequired = errors.New("source_id is required")

var (
	errNotStarted   = errors.New("coordinator not started")
	errLoading      = errors.New("model is still loading")
	errClosed       = errors.New("coordinator closed")
	errInFlight     = errors.New("an inference is already in flight")
	errWorkerBusy   = errors.New("inference worker unavailable")
	errStartedTwice = errors.New("coordinator already started")
	errWorkerStuck  = errors.New("inference worker did not stop, model left open")
)

// Options tunes timeouts and encoding
type Options struct {
	FetchTimeout     time.Duration
	InferenceTimeout time.Duration
	LoadTimeout      time.Duration
	NotifyTimeout    time.Duration
	JPEGQuality      int
}

// DefaultOptions returns the defaults used when a field is left zero
func DefaultOptions() Options {
	return Options{
		FetchTimeout:     10 * time.Second,
		InferenceTimeout: 30 * time.Second,
		LoadTimeout:      2 * time.Minute,
		NotifyTimeout:    5 * time.Second,
		JPEGQuality:      85,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.InferenceTimeout <= 0 {
		o.InferenceTimeout = d.InferenceTimeout
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = d.LoadTimeout
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = d.NotifyTimeout
	}
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		o.JPEGQuality = d.JPEGQuality
	}
	return o
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces the wall clock used to timestamp results
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithStateListener registers a state transition observer
func WithStateListener(l StateListener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, l) }
}

// WithStore shares an existing result store
func WithStore(s *ResultStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// Coordinator drives model loading and single-flight inference for one instance.
// A request arriving while another is in flight is rejected, never queued.
type Coordinator struct {
	manager   *model.Manager
	source    camera.ImageSource
	sink      notify.Sink
	store     *ResultStore
	annotator *model.Annotator
	clock     clock.Clock
	opts      Options
	logger    *logger.Logger
	stats     stats

	mu        sync.Mutex
	state     State
	model     model.DetectionModel
	listeners []StateListener
	pending   []stateChange

	fireMu sync.Mutex

	jobs       chan job
	closed     chan struct{}
	closeOnce  sync.Once
	workerDone chan struct{}
	notifyWG   sync.WaitGroup
}

// New creates a coordinator in the Uninitialized state. sink may be nil.
func New(manager *model.Manager, source camera.ImageSource, sink notify.Sink, opts Options, log *logger.Logger, options ...Option) *Coordinator {
	c := &Coordinator{
		manager:    manager,
		source:     source,
		sink:       sink,
		annotator:  model.NewAnnotator(),
		clock:      clock.New(),
		opts:       opts.withDefaults(),
		logger:     log,
		state:      StateUninitialized,
		jobs:       make(chan job),
		closed:     make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	for _, o := range options {
		o(c)
	}
	if c.store == nil {
		c.store = NewResultStore()
	}
	return c
}

// AddStateListener registers a state transition observer after construction
func (c *Coordinator) AddStateListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start loads the model and starts the inference worker. A load failure is
// returned here once and leaves the coordinator permanently Failed.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return errStartedTwice
	}
	c.setStateLocked(StateLoading)
	c.mu.Unlock()
	c.deliverTransitions()

	loadCtx, cancel := context.WithTimeout(ctx, c.opts.LoadTimeout)
	defer cancel()

	m, err := c.manager.Load(loadCtx)
	if err != nil {
		c.transition(StateLoading, StateFailed)
		c.logger.Error("Coordinator failed to start", "error", err)
		return err
	}

	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return detection.NewError(detection.KindNotReady, "", errClosed)
	}
	c.model = m
	go c.worker()
	c.setStateLocked(StateReady)
	c.mu.Unlock()
	c.deliverTransitions()

	c.logger.Info("Coordinator ready", "threshold", c.manager.Config().ConfidenceThreshold)
	return nil
}

// Count captures an image from sourceID, runs detection and commits the result.
func (c *Coordinator) Count(ctx context.Context, sourceID string) (*detection.Result, error) {
	if sourceID == "" {
		return nil, ErrSourceIDRequired
	}

	c.stats.request()
	m, err := c.acquire(sourceID)
	if err != nil {
		c.stats.rejected()
		c.logger.Debug("Count request rejected", "source_id", sourceID, "error", err)
		return nil, err
	}

	start := c.clock.Now()
	result, err := c.run(ctx, m, sourceID)
	if err == nil {
		err = c.commit(sourceID, result)
	}
	if err != nil {
		c.release()
		c.stats.failed(err, c.clock.Now())
		c.logger.Warn("Count request failed", "source_id", sourceID, "error", err)
		c.reportError(sourceID, err)
		return nil, err
	}

	c.release()
	c.stats.succeeded()
	c.logger.Info("Count committed",
		"source_id", sourceID,
		"count", result.Count(),
		"duration_ms", c.clock.Since(start).Milliseconds(),
	)

	c.notifyResult(result)
	return result, nil
}

// acquire moves Ready to Busy or explains why it cannot
func (c *Coordinator) acquire(sourceID string) (model.DetectionModel, error) {
	c.mu.Lock()
	from := c.state
	switch from {
	case StateReady:
		c.setStateLocked(StateBusy)
		m := c.model
		c.mu.Unlock()
		c.deliverTransitions()
		return m, nil
	case StateBusy:
		c.mu.Unlock()
		return nil, detection.NewError(detection.KindConcurrentRequest, sourceID, errInFlight)
	}
	c.mu.Unlock()

	var cause error
	switch from {
	case StateUninitialized:
		cause = errNotStarted
	case StateLoading:
		cause = errLoading
	default:
		cause = c.manager.Err()
		if cause == nil {
			cause = errClosed
		}
	}
	return nil, detection.NewError(detection.KindNotReady, sourceID, cause)
}

// release moves Busy back to Ready unless the coordinator failed meanwhile
func (c *Coordinator) release() {
	c.transition(StateBusy, StateReady)
}

// commit publishes r unless the coordinator was closed while it ran
func (c *Coordinator) commit(sourceID string, r *detection.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return detection.NewError(detection.KindNotReady, sourceID, errClosed)
	}
	c.store.Commit(r)
	return nil
}

// closedLocked reports whether Close has begun; c.mu must be held
func (c *Coordinator) closedLocked() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// run performs fetch, decode and inference for one accepted request
func (c *Coordinator) run(ctx context.Context, m model.DetectionModel, sourceID string) (*detection.Result, error) {
	fetchCtx, cancelFetch := context.WithTimeout(ctx, c.opts.FetchTimeout)
	data, err := c.source.Fetch(fetchCtx, sourceID)
	cancelFetch()
	if err != nil {
		return nil, detection.NewError(detection.KindImageAcquisition, sourceID, err)
	}

	inferCtx, cancelInfer := context.WithTimeout(ctx, c.opts.InferenceTimeout)
	defer cancelInfer()

	j := job{
		ctx:       inferCtx,
		sourceID:  sourceID,
		data:      data,
		model:     m,
		threshold: c.manager.Config().ConfidenceThreshold,
		reply:     make(chan jobResult, 1),
	}

	select {
	case c.jobs <- j:
	case <-inferCtx.Done():
		return nil, detection.NewError(detection.KindInference, sourceID, fmt.Errorf("%w: %v", errWorkerBusy, inferCtx.Err()))
	case <-c.closed:
		return nil, detection.NewError(detection.KindNotReady, sourceID, errClosed)
	}

	var out jobResult
	select {
	case out = <-j.reply:
	case <-inferCtx.Done():
		return nil, detection.NewError(detection.KindInference, sourceID, fmt.Errorf("inference timed out: %w", inferCtx.Err()))
	case <-c.closed:
		return nil, detection.NewError(detection.KindNotReady, sourceID, errClosed)
	}
	if out.err != nil {
		return nil, out.err
	}

	result, err := detection.NewResult(detection.ResultParams{
		Detections:     out.detections,
		AnnotatedImage: out.annotated,
		ObservedAt:     c.clock.Now(),
		SourceID:       sourceID,
		Width:          out.width,
		Height:         out.height,
	})
	if err != nil {
		return nil, detection.NewError(detection.KindInference, sourceID, err)
	}
	return result, nil
}

// Seed stores a previously persisted result if nothing has been committed yet.
// Seeding is not an inference and notifies no one.
func (c *Coordinator) Seed(r *detection.Result) bool {
	if r == nil {
		return false
	}
	return c.store.CommitIfEmpty(r)
}

// Current returns the latest committed result, or nil
func (c *Coordinator) Current() *detection.Result {
	return c.store.Current()
}

// CurrentCount returns the latest count, zero before the first commit
func (c *Coordinator) CurrentCount() int {
	if r := c.store.Current(); r != nil {
		return r.Count()
	}
	return 0
}

// CurrentImage returns the latest annotated JPEG
func (c *Coordinator) CurrentImage() ([]byte, bool) {
	if r := c.store.Current(); r != nil {
		return r.AnnotatedImage(), true
	}
	return nil, false
}

// LastDetectionTime returns when the latest result was observed
func (c *Coordinator) LastDetectionTime() (time.Time, bool) {
	if r := c.store.Current(); r != nil {
		return r.ObservedAt(), true
	}
	return time.Time{}, false
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns request counters
func (c *Coordinator) Stats() Stats {
	return c.stats.snapshot()
}

// ModelConfig returns the immutable model configuration
func (c *Coordinator) ModelConfig() detection.ModelConfig {
	return c.manager.Config()
}

// Close stops the worker, waits for pending notifications and releases the model.
// The coordinator is Failed afterwards. Waiting is bounded by ctx and the
// inference timeout; a worker still inside the model is abandoned and the
// model is left open.
func (c *Coordinator) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		started := c.model != nil
		if c.state != StateFailed {
			c.setStateLocked(StateFailed)
		}
		close(c.closed)
		c.mu.Unlock()
		c.deliverTransitions()

		stopped := !started || await(ctx, c.workerDone, c.opts.InferenceTimeout)

		// dispatch adds no work once closed is set
		notified := make(chan struct{})
		go func() {
			c.notifyWG.Wait()
			close(notified)
		}()
		if !await(ctx, notified, c.opts.NotifyTimeout) {
			c.logger.Warn("Pending notifications still running at close")
		}

		if !stopped {
			c.logger.Warn("Inference worker did not stop, leaving the model open",
				"timeout", c.opts.InferenceTimeout,
			)
			err = errWorkerStuck
			return
		}
		err = c.manager.Close()
	})
	return err
}

// await waits for done until ctx ends or limit passes
func await(ctx context.Context, done <-chan struct{}, limit time.Duration) bool {
	select {
	case <-done:
		return true
	default:
	}

	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
