package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// Manager manages the lifecycle of all services
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	eventBus    *EventBus
	stopTimeout time.Duration
	mu          sync.RWMutex
	startOrder  []Service // started services, for reverse-order shutdown
}

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager with an event bus of the given size
func NewManager(log *logger.Logger, eventBusSize int) *Manager {
	return &Manager{
		logger:      log,
		services:    make([]Service, 0),
		statuses:    make(map[string]*ServiceStatus),
		eventBus:    NewEventBus(eventBusSize),
		stopTimeout: 10 * time.Second,
		startOrder:  make([]Service, 0),
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)

	// Initialize status tracking
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())

	// Set event bus if service supports it
	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts all registered services in registration order.
// A failing service is recorded and logged; the others still start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))

	var failed []string
	for _, svc := range m.services {
		status := m.statuses[svc.Name()]
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			failed = append(failed, svc.Name())
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data:   map[string]interface{}{"error": err.Error()},
			})
			continue
		}

		status.SetStatus(StatusRunning)
		m.startOrder = append(m.startOrder, svc)
		m.logger.Info("Service started", "service", svc.Name())

		// Publish service started event
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}

	if len(failed) > 0 {
		m.logger.Warn("Some services failed to start", "services", failed)
	}
	return nil
}

// Shutdown stops started services in reverse start order, then closes the event bus
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.eventBus.Close()

	m.logger.Info("Shutting down services", "count", len(m.startOrder))

	// Create a channel to signal when all services are stopped
	done := make(chan struct{})
	go func() {
		defer close(done)

		// Stop services in reverse order of start
		for i := len(m.startOrder) - 1; i >= 0; i-- {
			svc := m.startOrder[i]
			status := m.statuses[svc.Name()]

			status.SetStatus(StatusStopping)
			m.logger.Info("Stopping service", "service", svc.Name())

			stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
			if err := svc.Stop(stopCtx); err != nil {
				status.SetError(err)
				m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
			} else {
				status.SetStatus(StatusStopped)
				m.logger.Info("Service stopped", "service", svc.Name())
			}
			cancel()

			// Publish service stopped event
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceStopped,
				Source: "manager",
				Data:   map[string]interface{}{"service": svc.Name()},
			})
		}
		m.startOrder = m.startOrder[:0]
	}()

	// Wait for shutdown to complete or context timeout
	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// Snapshots returns the status of every service sorted by name
func (m *Manager) Snapshots() []StatusSnapshot {
	m.mu.RLock()
	statuses := make([]*ServiceStatus, 0, len(m.statuses))
	for _, status := range m.statuses {
		statuses = append(statuses, status)
	}
	m.mu.RUnlock()

	snaps := make([]StatusSnapshot, 0, len(statuses))
	for _, status := range statuses {
		snaps = append(snaps, status.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
