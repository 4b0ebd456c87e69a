package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authhub/internal/obs"
)

// HealthReporter publishes readiness through the standard gRPC health
// service, both for the whole server ("") and for the authhub service name.
type HealthReporter struct {
	server    *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewHealthReporter starts in NOT_SERVING until the first Refresh succeeds.
func NewHealthReporter(r readinessChecker, logger *zap.Logger) *HealthReporter {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &HealthReporter{
		server:    health.NewServer(),
		readiness: r,
		logger:    obs.OrNop(logger).With(zap.String("module", "grpc_health")),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Refresh runs the readiness probe once and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) error {
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("not ready", zap.String("event", "grpc.health.not_serving"), zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Watch refreshes every interval until ctx is done.
func (h *HealthReporter) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		_ = h.Refresh(probeCtx)
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher and ignores later updates.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

func (h *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}

// NewGRPCServer builds a gRPC server exposing only the health service.
func NewGRPCServer(h *HealthReporter, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	h.Register(srv)
	return srv
}
