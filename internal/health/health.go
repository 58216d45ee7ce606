// Package health exposes the standard gRPC health service. The overall
// status follows the actuator: SERVING while the car is connected.
package health

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/neurobile/internal/monitoring"
	"github.com/banshee-data/neurobile/internal/timeutil"
)

// ActuatorService is the per-service name reported alongside the overall
// ("") status.
const ActuatorService = "neurobile.Actuator"

// Server polls a connection probe and publishes the result.
type Server struct {
	Connected func() bool
	Interval  time.Duration
	Clock     timeutil.Clock

	health *grpchealth.Server
	mu     sync.Mutex
	last   healthpb.HealthCheckResponse_ServingStatus
}

// New returns a server probing connected once a second.
func New(connected func() bool) *Server {
	return &Server{
		Connected: connected,
		Interval:  time.Second,
		Clock:     timeutil.RealClock{},
		health:    grpchealth.NewServer(),
	}
}

// Update samples the probe and sets the serving status.
func (s *Server) Update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.Connected != nil && s.Connected() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.mu.Lock()
	changed := status != s.last
	s.last = status
	s.mu.Unlock()
	if changed {
		monitoring.Logf("[health] actuator %s", status)
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ActuatorService, status)
	return status
}

// Check answers a health request without a network round trip.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve registers the health service on lis and keeps the status current
// until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.Update()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()
	monitoring.Logf("[health] gRPC health on %s", lis.Addr())

	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			srv.GracefulStop()
			return nil
		case err := <-errc:
			return err
		case <-ticker.C():
			s.Update()
		}
	}
}
