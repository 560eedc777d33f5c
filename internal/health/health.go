// Package health exposes the standard gRPC health-checking protocol so
// orchestrators can probe worker liveness, using the pre-generated stubs
// shipped inside google.golang.org/grpc itself — no protoc step required.
package health

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server wraps grpc-go's built-in health service.
type Server struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
}

// New constructs a health server, initially reporting SERVING for the
// "cmdproxyd" service.
func New() *Server {
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("cmdproxyd", healthpb.HealthCheckResponse_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	return &Server{grpcServer: grpcServer, healthSrv: healthSrv}
}

// SetNotServing flips the daemon's reported health to NOT_SERVING, e.g.
// during graceful shutdown.
func (s *Server) SetNotServing() {
	s.healthSrv.SetServingStatus("cmdproxyd", healthpb.HealthCheckResponse_NOT_SERVING)
}

// Serve blocks accepting gRPC connections on addr.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", addr, err)
	}
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop(_ context.Context) {
	s.grpcServer.GracefulStop()
}
