package monitor

import (
	"Cerberus/internal/model"
	"context"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StreamService is the health service name that tracks the traffic stream.
const StreamService = "cerberus.stream"

// Health reports the stream connection over the standard gRPC health protocol.
// The overall server ("") is always SERVING; StreamService is SERVING only
// while the stream is connected.
type Health struct {
	server *health.Server
}

// NewHealth creates a health server with the stream marked NOT_SERVING.
func NewHealth() *Health {
	h := &Health{server: health.NewServer()}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.server.SetServingStatus(StreamService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register adds the health service to a gRPC server.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Update sets the stream status from a connection state.
func (h *Health) Update(state model.ConnectionState) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == model.Connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(StreamService, status)
}

// Watch follows dashboard views until ctx is done or the views channel closes.
func (h *Health) Watch(ctx context.Context, dash Dashboard) {
	views, unsubscribe := dash.Subscribe()
	defer unsubscribe()

	last := model.ConnectionState(-1)
	for {
		select {
		case view, ok := <-views:
			if !ok {
				h.Shutdown()
				return
			}
			if view.Connection != last {
				last = view.Connection
				h.Update(last)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown marks every service NOT_SERVING.
func (h *Health) Shutdown() {
	h.server.Shutdown()
	log.Println("gRPC health service set to NOT_SERVING.")
}
