package alarm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/apd-alarms/internal/logger"
)

// Server implements the AlarmService gRPC API on top of a Broadcaster.
type Server struct {
	// states provides the current state and change notifications.
	states *Broadcaster
}

// NewServer wires the broadcaster into a gRPC handler.
func NewServer(states *Broadcaster) *Server {
	return &Server{
		states: states,
	}
}

// GetAlarmState returns the current combined alarm state.
func (s *Server) GetAlarmState(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toProtoState(s.states.Latest()), nil
}

// WatchAlarmState streams the current state and every change until the client goes away.
func (s *Server) WatchAlarmState(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	updates, cancel := s.states.Subscribe()
	defer cancel()

	logger.DebugKV(ctx, "Alarm watcher joined", "watchers", s.states.Watchers())

	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case state := <-updates:
			if err := stream.Send(toProtoState(state)); err != nil {
				return err
			}
		}
	}
}

// Serve runs a gRPC server exposing srv on listener until ctx is canceled.
func Serve(ctx context.Context, listener net.Listener, srv AlarmServiceServer, opts ...grpc.ServerOption) error {
	grpcServer := grpc.NewServer(opts...)
	RegisterAlarmServiceServer(grpcServer, srv)

	logger.InfoKV(ctx, "Alarm API listening", "listen_address", listener.Addr().String())

	// Done channel is closed after Stop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		// Watch streams never finish on their own, so GracefulStop would hang.
		grpcServer.Stop()
		close(done)
	}()

	if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}
