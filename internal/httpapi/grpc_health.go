package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"safeworks.org/ptw/internal/obs"
)

// HealthService mirrors the readiness probe into the standard gRPC health
// service, both for the overall server and for serviceName.
type HealthService struct {
	srv    *health.Server
	probe  ReadyProbe
	logger *logrus.Entry
}

func NewHealthService(probe ReadyProbe) *HealthService {
	h := &HealthService{
		srv:    health.NewServer(),
		probe:  probe,
		logger: obs.Component("grpc-health"),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthService) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh runs the probe once and publishes the result.
func (h *HealthService) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.probe.Check(ctx); err != nil {
		h.logger.WithError(err).Warn("readiness probe failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(status)
	return status
}

// Run refreshes on every tick until ctx is done, then reports NOT_SERVING.
func (h *HealthService) Run(ctx context.Context, every time.Duration) {
	h.Refresh(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthService) Shutdown() {
	h.srv.Shutdown()
}

func (h *HealthService) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
