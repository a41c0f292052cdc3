package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// LoadState is the lifecycle state of the managed model
type LoadState string

const (
	LoadStateIdle    LoadState = "idle"
	LoadStateLoading LoadState = "loading"
	LoadStateLoaded  LoadState = "loaded"
	LoadStateFailed  LoadState = "failed"
	LoadStateClosed  LoadState = "closed"
)

var errManagerClosed = errors.New("model manager closed")

// Manager loads the detection model exactly once.
// A failed load is terminal: later calls return the same error without retrying.
type Manager struct {
	cfg    detection.ModelConfig
	loader Loader
	logger *logger.Logger

	mu       sync.Mutex
	state    LoadState
	model    DetectionModel
	err      error
	done     chan struct{}
	loadedAt time.Time
}

// NewManager creates a model manager
func NewManager(cfg detection.ModelConfig, loader Loader, log *logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		loader: loader,
		logger: log,
		state:  LoadStateIdle,
		done:   make(chan struct{}),
	}
}

// Config returns the model configuration
func (m *Manager) Config() detection.ModelConfig {
	return m.cfg
}

// Load loads the model on a dedicated goroutine and waits for it.
// The first caller's ctx bounds the load; if it ends first the load fails.
func (m *Manager) Load(ctx context.Context) (DetectionModel, error) {
	m.mu.Lock()
	switch m.state {
	case LoadStateLoaded:
		model := m.model
		m.mu.Unlock()
		return model, nil
	case LoadStateFailed, LoadStateClosed:
		err := m.err
		m.mu.Unlock()
		return nil, err
	case LoadStateLoading:
		done := m.done
		m.mu.Unlock()
		select {
		case <-done:
			return m.result()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := m.cfg.Validate(); err != nil {
		m.failLocked(err)
		m.mu.Unlock()
		return nil, m.err
	}

	m.state = LoadStateLoading
	done := m.done
	m.mu.Unlock()

	m.logger.Info("Loading detection model",
		"path", m.cfg.ModelPath,
		"backend", m.cfg.Backend,
		"device", m.cfg.Device,
	)
	start := time.Now()

	go func() {
		model, err := m.runLoader(ctx)
		m.finish(model, err, time.Since(start))
	}()

	select {
	case <-done:
		return m.result()
	case <-ctx.Done():
		m.mu.Lock()
		if m.state == LoadStateLoading {
			m.failLocked(fmt.Errorf("load aborted: %w", ctx.Err()))
		}
		m.mu.Unlock()
		return m.result()
	}
}

func (m *Manager) runLoader(ctx context.Context) (model DetectionModel, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panic: %v", r)
		}
	}()
	return m.loader(ctx, m.cfg)
}

func (m *Manager) finish(model DetectionModel, err error, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != LoadStateLoading {
		// The load was abandoned; release whatever arrived late.
		if model != nil {
			if cerr := model.Close(); cerr != nil {
				m.logger.Warn("Failed to close abandoned model", "error", cerr)
			}
		}
		return
	}

	if err != nil {
		m.failLocked(err)
		m.logger.Error("Detection model failed to load", "path", m.cfg.ModelPath, "error", err)
		return
	}
	if model == nil {
		m.failLocked(errors.New("loader returned no model"))
		return
	}

	m.model = model
	m.state = LoadStateLoaded
	m.loadedAt = time.Now()
	close(m.done)
	m.logger.Info("Detection model loaded", "path", m.cfg.ModelPath, "duration_ms", took.Milliseconds())
}

// failLocked records a terminal failure. m.mu must be held.
func (m *Manager) failLocked(err error) {
	if _, ok := detection.KindOf(err); !ok {
		err = detection.NewError(detection.KindModelLoad, "", err)
	}
	m.err = err
	m.state = LoadStateFailed
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *Manager) result() (DetectionModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == LoadStateLoaded {
		return m.model, nil
	}
	return nil, m.err
}

// State returns the current load state
func (m *Manager) State() LoadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the terminal load error, if any
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// LoadedAt returns when the model finished loading
func (m *Manager) LoadedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedAt
}

// Close releases the model. The manager cannot load again afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.model != nil {
		err = m.model.Close()
		m.model = nil
	}
	if m.state != LoadStateFailed {
		m.state = LoadStateClosed
		m.err = detection.NewError(detection.KindNotReady, "", errManagerClosed)
	}
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return err
}
