package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthRefresh = 15 * time.Second

// HealthServer serves the standard gRPC health protocol for orchestrators
// that probe over gRPC. Status follows the readiness checks.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	logger   *zap.Logger
}

func NewHealthServer(checks map[string]Check, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{
		server:   srv,
		health:   hs,
		checks:   checks,
		interval: healthRefresh,
		logger:   logger,
	}
}

// Refresh runs the checks and publishes the result for both the overall
// ("") and the named service.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	results, ok := runChecks(ctx, h.checks)
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("health checks failing", zap.Any("checks", results))
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(serviceName, status)
	return status
}

// Serve listens on addr until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	h.logger.Info("grpc health server listening", zap.String("addr", addr))
	return h.serve(ctx, lis)
}

func (h *HealthServer) serve(ctx context.Context, lis net.Listener) error {
	h.Refresh(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- h.server.Serve(lis) }()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			h.server.GracefulStop()
			<-errCh
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
