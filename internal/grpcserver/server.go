// Package grpcserver exposes the standard gRPC health service so that
// orchestrators can probe the chat backend.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"private-chat/backend/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayService is the health service name reported for the realtime relay
const RelayService = "chat.Relay"

// HealthSource reports whether the critical components are up
type HealthSource interface {
	IsSystemHealthy() bool
}

// Server wraps a grpc.Server carrying the health service
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	source HealthSource
	log    *logger.Logger
}

// New creates a gRPC server whose health mirrors source
func New(source HealthSource, log *logger.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		source: source,
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	return s
}

// Sync copies the current health of the source into the health service
func (s *Server) Sync() {
	status := healthpb.HealthCheckResponse_SERVING
	if !s.source.IsSystemHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(RelayService, status)
}

// Watch re-syncs health every interval until ctx is done
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sync()
		}
	}
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and drains in-flight calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
