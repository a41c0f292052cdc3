package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

// Manager persists the latest result and small bits of system state
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens (or creates) the state database at dbPath
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	// Create database
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	log.Info("State database opened", "path", dbPath)
	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping checks the database is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	if _, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}
	return nil
}

// GetSystemState retrieves a system state value, "" when absent
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	err := m.db.GetDB().QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}
	return value, nil
}

// SaveResult replaces the stored result for instanceID
func (m *Manager) SaveResult(ctx context.Context, instanceID string, r *detection.Result) error {
	detections, err := json.Marshal(r.Detections())
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}
	width, height := r.Dimensions()

	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO latest_result (instance_id, source_id, count, detections, annotated_image, width, height, observed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			source_id = excluded.source_id,
			count = excluded.count,
			detections = excluded.detections,
			annotated_image = excluded.annotated_image,
			width = excluded.width,
			height = excluded.height,
			observed_at = excluded.observed_at,
			updated_at = excluded.updated_at
	`

	_, err = m.db.GetDB().ExecContext(ctx, query,
		instanceID, r.SourceID(), r.Count(), string(detections), r.AnnotatedImage(),
		width, height, r.ObservedAt().UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// LoadResult returns the stored result for instanceID, or nil when there is none
func (m *Manager) LoadResult(ctx context.Context, instanceID string) (*detection.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT source_id, detections, annotated_image, width, height, observed_at
		FROM latest_result
		WHERE instance_id = ?
	`

	var (
		sourceID       string
		detectionsJSON string
		image          []byte
		width, height  int
		observedAt     time.Time
	)
	err := m.db.GetDB().QueryRowContext(ctx, query, instanceID).Scan(
		&sourceID, &detectionsJSON, &image, &width, &height, &observedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	var detections []detection.Detection
	if err := json.Unmarshal([]byte(detectionsJSON), &detections); err != nil {
		return nil, fmt.Errorf("failed to parse stored detections: %w", err)
	}

	return detection.NewResult(detection.ResultParams{
		Detections:     detections,
		AnnotatedImage: image,
		ObservedAt:     observedAt,
		SourceID:       sourceID,
		Width:          width,
		Height:         height,
	})
}

// DeleteResult removes the stored result for instanceID
func (m *Manager) DeleteResult(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM latest_result WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}
