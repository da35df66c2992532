// Package grpcserver exposes the standard gRPC health protocol for the supervisor.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/psds-microservice/voice-supervisor/pkg/constants"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server is the gRPC server carrying grpc.health.v1 and reflection.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// New builds the server; every service reports NOT_SERVING until Serve.
func New(log *zap.Logger) *Server {
	s := &Server{health: health.NewServer(), log: log.Named("grpc")}
	s.srv = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionAge:      2 * time.Hour,
			MaxConnectionAgeGrace: 30 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               20 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(s.recoverInterceptor),
	)
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(constants.GRPCHealthService, st)
}

// Serve marks the service SERVING and blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	s.log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Drain reports NOT_SERVING to every watcher; later status changes are ignored.
func (s *Server) Drain() {
	s.health.Shutdown()
}

// Stop drains and stops the server, forcing it down when ctx ends first.
func (s *Server) Stop(ctx context.Context) {
	s.Drain()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
}

func (s *Server) recoverInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("grpc handler panicked", zap.String("method", info.FullMethod), zap.Any("panic", r))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
