// Package grpcserver exposes the standard gRPC health service for the counter.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/coordinator"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/service"
)

// ServiceName is the health service name reported for the counter
const ServiceName = "viewguard.counter.Counter"

// Server serves grpc.health.v1 backed by the coordinator state
type Server struct {
	*service.ServiceBase
	config   *config.GRPCConfig
	health   *health.Server
	server   *grpc.Server
	mu       sync.RWMutex
	addr     string
	serveErr chan error
}

// NewServer creates the gRPC health server. Both the overall ("") and the
// counter service report NOT_SERVING until the first state change says otherwise.
func NewServer(cfg *config.GRPCConfig, log *logger.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		ServiceBase: service.NewServiceBase("grpc-server", log),
		config:      cfg,
		health:      hs,
	}
}

// Name returns the service name
func (s *Server) Name() string {
	return "grpc-server"
}

// SetServing updates both health entries
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// OnStateChange is a coordinator.StateListener
func (s *Server) OnStateChange(from, to coordinator.State) {
	s.SetServing(to.Serving())
	s.LogDebug("Health status updated", "from", from, "to", to, "serving", to.Serving())
}

// Start listens on the configured port (0 picks a free port) and serves in the background
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("gRPC health server is disabled")
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStarting)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to listen on gRPC port %d: %w", s.config.Port, err)
	}

	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	healthpb.RegisterHealthServer(srv, s.health)

	s.mu.Lock()
	s.server = srv
	s.addr = listener.Addr().String()
	s.serveErr = make(chan error, 1)
	serveErr := s.serveErr
	s.mu.Unlock()

	go func() {
		serveErr <- srv.Serve(listener)
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("gRPC health server started", "address", listener.Addr().String())
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop marks everything NOT_SERVING and stops gracefully, forcing once ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	serveErr := s.serveErr
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.LogInfo("Stopping gRPC health server")
	s.GetStatus().SetStatus(service.StatusStopping)
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		srv.Stop()
		<-stopped
	}

	err := <-serveErr
	s.GetStatus().SetStatus(service.StatusStopped)
	if err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC server: %w", err)
	}
	return nil
}
