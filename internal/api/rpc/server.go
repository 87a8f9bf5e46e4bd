package rpc

import (
	"errors"
	"fmt"
	"net"

	"github.com/KevinKickass/PortExtender/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server hosts the PortExtender service and the standard health service.
// Health reports SERVING only while the engine is running.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewServer(engine Engine, tokens TokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(tokens, logger))),
		health: health.NewServer(),
		logger: logger,
	}

	s.grpc.RegisterService(&ServiceDesc, NewService(engine, logger))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetStatus(engine.Status().Status)

	return s
}

// SetStatus maps the engine status onto the health service. It has the
// shape of a status listener.
func (s *Server) SetStatus(st types.Status) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == types.StatusRunning {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, serving)
	s.health.SetServingStatus("", serving)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening",
		zap.String("address", lis.Addr().String()),
		zap.String("services", ServiceName))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Start listens on port and serves in the background.
func (s *Server) Start(port int) (<-chan error, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error("gRPC server failed", zap.Error(err))
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) Stop() {
	s.grpc.Stop()
}
