package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/coordinator"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// CoordinatorState is the part of the coordinator the checker reads
type CoordinatorState interface {
	State() coordinator.State
	Stats() coordinator.Stats
}

// CoordinatorChecker reports whether the model is loaded and serving
type CoordinatorChecker struct {
	coord CoordinatorState
}

func NewCoordinatorChecker(coord CoordinatorState) *CoordinatorChecker {
	return &CoordinatorChecker{coord: coord}
}

func (c *CoordinatorChecker) Name() string {
	return "coordinator"
}

func (c *CoordinatorChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	state := c.coord.State()
	stats := c.coord.Stats()

	check.Details["state"] = string(state)
	check.Details["requests"] = stats.Requests
	check.Details["failed"] = stats.Failed
	check.Details["rejected"] = stats.Rejected

	switch state {
	case coordinator.StateReady, coordinator.StateBusy:
		check.Status = StatusHealthy
		check.Message = "Model loaded"
	case coordinator.StateUninitialized, coordinator.StateLoading:
		check.Status = StatusDegraded
		check.Message = "Model not loaded yet"
	default:
		check.Status = StatusUnhealthy
		check.Message = "Model failed to load"
		if stats.LastError != "" {
			check.Details["last_error"] = stats.LastError
		}
	}
	return check
}

// Pinger is implemented by the state database
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// ConnectionReporter is implemented by the MQTT sink
type ConnectionReporter interface {
	IsConnected() bool
}

// MQTTChecker reports broker connectivity
type MQTTChecker struct {
	conn ConnectionReporter
}

func NewMQTTChecker(conn ConnectionReporter) *MQTTChecker {
	return &MQTTChecker{conn: conn}
}

func (c *MQTTChecker) Name() string {
	return "mqtt"
}

func (c *MQTTChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	if c.conn.IsConnected() {
		check.Status = StatusHealthy
		check.Message = "Broker connected"
	} else {
		// Counting still works without the broker
		check.Status = StatusDegraded
		check.Message = "Broker disconnected"
	}
	return check
}

// SourceReachability is implemented by the camera registry
type SourceReachability interface {
	IDs() []string
	Unreachable(ctx context.Context) map[string]error
}

// SourcesChecker checks every configured image source
type SourcesChecker struct {
	sources SourceReachability
	timeout time.Duration
}

func NewSourcesChecker(sources SourceReachability, timeout time.Duration) *SourcesChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SourcesChecker{sources: sources, timeout: timeout}
}

func (c *SourcesChecker) Name() string {
	return "sources"
}

func (c *SourcesChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ids := c.sources.IDs()
	failures := c.sources.Unreachable(ctx)
	check.Details["configured"] = len(ids)

	if len(failures) == 0 {
		check.Status = StatusHealthy
		check.Message = "Image sources reachable"
		return check
	}

	failed := make([]string, 0, len(failures))
	for id, err := range failures {
		failed = append(failed, id)
		check.Details[id] = err.Error()
	}
	sort.Strings(failed)

	check.Status = StatusDegraded
	check.Message = fmt.Sprintf("Unreachable sources: %s", strings.Join(failed, ", "))
	return check
}

// InferenceServiceChecker checks the remote inference service
type InferenceServiceChecker struct {
	serviceURL string
	client     *http.Client
}

func NewInferenceServiceChecker(serviceURL string) *InferenceServiceChecker {
	return &InferenceServiceChecker{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (c *InferenceServiceChecker) Name() string {
	return "inference_service"
}

func (c *InferenceServiceChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.serviceURL

	// Try to reach inference service health endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health/ready", nil)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to create request: %v", err)
		return check
	}

	resp, err := c.client.Do(req)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Inference service unreachable: %v", err)
		return check
	}
	defer resp.Body.Close()

	check.Details["status_code"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Inference service returned status %d", resp.StatusCode)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Inference service is ready"
	return check
}

// DefaultMaxDiskUsagePercent is the usage above which storage reports degraded
const DefaultMaxDiskUsagePercent = 90.0

// StorageChecker checks the data directory is writable and its disk is not full
type StorageChecker struct {
	dataDir         string
	maxUsagePercent float64
}

func NewStorageChecker(dataDir string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir, maxUsagePercent: DefaultMaxDiskUsagePercent}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["data_dir"] = c.dataDir

	// Check data directory
	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	tmp, err := os.CreateTemp(c.dataDir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(filepath.Clean(name))

	// Check disk space
	usage, err := GetDiskUsage(c.dataDir)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}
	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes

	if usage.UsagePercent >= c.maxUsagePercent {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% exceeds %.0f%%", usage.UsagePercent, c.maxUsagePercent)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
