// Package server hosts the subscriber-facing transports: gRPC, WebSocket,
// TCP and the HTTP introspection surface. Each transport is a thin adapter
// around the channel's Subscribe entry point.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/internal/config"
	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/pb"
)

// GRPC serves the Geyser.Subscribe server-streaming RPC.
type GRPC struct {
	cfg      config.GRPCConfig
	messages *channel.Messages
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewGRPC(cfg config.GRPCConfig, messages *channel.Messages, m *metrics.Metrics, log *slog.Logger) *GRPC {
	return &GRPC{
		cfg:      cfg,
		messages: messages,
		metrics:  m,
		log:      log.With("component", "grpc"),
	}
}

// Run serves until ctx is cancelled.
func (s *GRPC) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer(grpc.ForceServerCodec(pb.Codec{}))
	pb.RegisterGeyserServer(srv, s)

	s.log.Info("grpc server listening", "addr", s.cfg.Addr)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
		close(done)
	}()
	err = srv.Serve(lis)
	<-done
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func subscribeStatus(err error) error {
	var notAvail *channel.SlotNotAvailableError
	switch {
	case errors.As(err, &notAvail):
		return status.Errorf(codes.InvalidArgument,
			"replay slot not available, first available slot is %d", notAvail.FirstAvailable)
	case errors.Is(err, channel.ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, "commitment level not initialized")
	case errors.Is(err, channel.ErrClosed):
		return status.Error(codes.Unavailable, "channel closed")
	}
	return status.Error(codes.Internal, err.Error())
}

// Subscribe implements pb.GeyserServer.
func (s *GRPC) Subscribe(req *pb.SubscribeRequest, stream pb.Geyser_SubscribeServer) error {
	rx, err := s.messages.Subscribe(req.Commitment, req.ReplayFromSlot, req.Filter)
	if err != nil {
		return subscribeStatus(err)
	}

	session := uuid.NewString()
	log := s.log.With("session", session, "commitment", req.Commitment.String())
	log.Info("subscriber connected")
	s.metrics.SubscribersConnected.WithLabelValues("grpc").Inc()
	defer func() {
		s.metrics.SubscribersConnected.WithLabelValues("grpc").Dec()
		log.Info("subscriber disconnected")
	}()

	pingInterval := time.Duration(s.cfg.PingIntervalSec) * time.Second
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}

	ctx := stream.Context()
	for {
		next, cancel := context.WithTimeout(ctx, pingInterval)
		data, err := rx.Next(next)
		cancel()
		switch {
		case err == nil:
			if err := stream.Send(&pb.RawFrame{Data: data}); err != nil {
				return err
			}
		case errors.Is(err, context.DeadlineExceeded):
			if err := stream.Send(&pb.RawFrame{Data: pingFrame()}); err != nil {
				return err
			}
		case errors.Is(err, channel.ErrLagged):
			s.metrics.SubscribersLagged.WithLabelValues("grpc").Inc()
			log.Warn("subscriber lagged")
			return status.Error(codes.DataLoss, "lagged")
		case errors.Is(err, channel.ErrClosed):
			return status.Error(codes.Unavailable, "channel closed")
		default:
			return ctx.Err()
		}
	}
}

func pingFrame() []byte {
	u := &pb.SubscribeUpdate{
		Ping:      &pb.SubscribeUpdatePing{},
		CreatedAt: timestamppb.Now(),
	}
	return u.MarshalAppend(make([]byte, 0, u.Size()))
}
