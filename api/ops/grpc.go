package ops

import (
	"context"
	"time"

	"matchcore/pipeline"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported through the gRPC health service.
const ServiceName = "matchcore.Engine"

// Health mirrors the pipeline state into a gRPC health server.
type Health struct {
	srv *health.Server
	src Source
}

func NewHealth(src Source) *Health {
	h := &Health{srv: health.NewServer(), src: src}
	h.Sync()
	return h
}

func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Sync publishes the current pipeline state.
func (h *Health) Sync() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.src.State() == pipeline.Running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(ServiceName, status)
	h.srv.SetServingStatus("", status)
	return status
}

// Watch syncs every interval until ctx ends, then reports NOT_SERVING for
// good.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Sync()
		}
	}
}
