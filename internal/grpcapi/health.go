// Package grpcapi exposes per-device link health over the standard gRPC
// health protocol so supervisors can probe each role independently.
package grpcapi

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// ServiceName is the health service name reported for a role.
func ServiceName(role types.Role) string { return "portunus.station." + string(role) }

type LinkSource interface {
	Links() []types.LinkStatus
}

type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	addr   string
	logger zerolog.Logger
}

func NewServer(addr string, logger zerolog.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		addr:   addr,
		logger: logger.With().Str("component", "grpcapi").Logger(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	for _, role := range types.Roles {
		s.health.SetServingStatus(ServiceName(role), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Track mirrors link state into the health server until ctx is done.
func (s *Server) Track(ctx context.Context, links LinkSource, sub Subscriber) {
	ch, cancel := sub.Subscribe(32)
	defer cancel()

	for _, st := range links.Links() {
		s.apply(st)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == events.TypeLinkState && ev.Link != nil {
				s.apply(*ev.Link)
			}
		}
	}
}

func (s *Server) apply(st types.LinkStatus) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st.State == types.LinkConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName(st.Role), status)
}

// Serve accepts on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Shutdown marks everything NOT_SERVING, then drains. It forces a stop when
// ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}
