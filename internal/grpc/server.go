package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"diagnosai/backend/pkg/health"
	"diagnosai/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall status
const ServiceName = "diagnosai.Diagnosis"

// Server exposes the standard gRPC health protocol backed by the HTTP health checker
type Server struct {
	grpcServer *grpc.Server
	health     *grpchealth.Server
	checker    *health.Checker
	log        *logger.Logger
}

// NewServer creates a gRPC server with health and reflection registered
func NewServer(checker *health.Checker, log *logger.Logger) *Server {
	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()

	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		checker:    checker,
		log:        log,
	}
}

// Sync copies the checker verdict into the gRPC health status
func (s *Server) Sync() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil && !s.checker.IsSystemHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve listens on lis until ctx is done, syncing health every period
func (s *Server) Serve(ctx context.Context, lis net.Listener, period time.Duration) error {
	s.Sync()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpcServer.GracefulStop()
				return
			case <-ticker.C:
				s.Sync()
			}
		}
	}()

	s.log.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe opens a TCP listener on port and calls Serve
func (s *Server) ListenAndServe(ctx context.Context, port string, period time.Duration) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}
	return s.Serve(ctx, lis, period)
}
