package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/coordinator"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
)

func startTestServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	s := NewServer(&config.GRPCConfig{Enabled: true, Port: 0}, logger.NewNopLogger())
	require.NoError(t, s.Start(context.Background()))

	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	conn, err := grpc.NewClient(net.JoinHostPort("127.0.0.1", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, svc string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_NotServingUntilReady(t *testing.T) {
	_, client := startTestServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))
}

func TestServer_FollowsCoordinatorState(t *testing.T) {
	s, client := startTestServer(t)

	tests := []struct {
		from, to coordinator.State
		want     healthpb.HealthCheckResponse_ServingStatus
	}{
		{coordinator.StateUninitialized, coordinator.StateLoading, healthpb.HealthCheckResponse_NOT_SERVING},
		{coordinator.StateLoading, coordinator.StateReady, healthpb.HealthCheckResponse_SERVING},
		{coordinator.StateReady, coordinator.StateBusy, healthpb.HealthCheckResponse_SERVING},
		{coordinator.StateBusy, coordinator.StateReady, healthpb.HealthCheckResponse_SERVING},
		{coordinator.StateReady, coordinator.StateFailed, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		s.OnStateChange(tt.from, tt.to)
		assert.Equal(t, tt.want, check(t, client, ServiceName), "after %s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.want, check(t, client, ""), "overall after %s -> %s", tt.from, tt.to)
	}
}

func TestServer_Disabled(t *testing.T) {
	s := NewServer(&config.GRPCConfig{Enabled: false}, logger.NewNopLogger())
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestServer_StopIsClean(t *testing.T) {
	s := NewServer(&config.GRPCConfig{Enabled: true, Port: 0}, logger.NewNopLogger())
	require.NoError(t, s.Start(context.Background()))
	s.SetServing(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
	assert.Equal(t, "grpc-server", s.Name())
}
