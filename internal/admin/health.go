package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type Heartbeater interface {
	LastHeartbeat() time.Time
}

// Health reports the projector healthy while every worker has completed a
// clean cycle within ttl.
type Health struct {
	workers []Heartbeater
	ttl     time.Duration
	now     func() time.Time
}

func NewHealth(ttl time.Duration, workers ...Heartbeater) *Health {
	return &Health{workers: workers, ttl: ttl, now: time.Now}
}

func (h *Health) Check() error {
	if len(h.workers) == 0 {
		return errors.New("no consumer workers")
	}
	now := h.now()
	for i, w := range h.workers {
		last := w.LastHeartbeat()
		if last.IsZero() {
			return fmt.Errorf("worker %d has not completed a cycle", i)
		}
		if age := now.Sub(last); age > h.ttl {
			return fmt.Errorf("worker %d heartbeat is %s old", i, age.Round(time.Second))
		}
	}
	return nil
}

// Sync copies the current verdict into the gRPC health server.
func (h *Health) Sync(hs *health.Server) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if h.Check() != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
}

// Watch keeps hs in sync until ctx is done, then marks it NOT_SERVING.
func (h *Health) Watch(ctx context.Context, hs *health.Server, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	h.Sync(hs)
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			h.Sync(hs)
		}
	}
}
