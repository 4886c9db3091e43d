package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/internal/config"
	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/pb"
)

const (
	tcpRequestTimeout = 30 * time.Second
	tcpWriteTimeout   = 10 * time.Second
	tcpMaxRequestSize = 1 << 20
)

// TCP serves subscribers over a bare stream socket: one length-delimited
// SubscribeRequest in, then a one-way stream of length-delimited updates.
type TCP struct {
	cfg      config.TCPConfig
	messages *channel.Messages
	metrics  *metrics.Metrics
	log      *slog.Logger
	limiter  *ConnLimiter
}

func NewTCP(cfg config.TCPConfig, messages *channel.Messages, m *metrics.Metrics, log *slog.Logger) *TCP {
	return &TCP{
		cfg:      cfg,
		messages: messages,
		metrics:  m,
		log:      log.With("component", "tcp"),
		limiter:  NewConnLimiter(cfg.MaxConnsPerIP),
	}
}

func (s *TCP) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("tcp server listening", "addr", s.cfg.Addr)

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *TCP) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if !s.limiter.Acquire(ip) {
		return
	}
	defer s.limiter.Release(ip)

	_ = conn.SetReadDeadline(time.Now().Add(tcpRequestTimeout))
	br := bufio.NewReader(conn)
	payload, err := pb.ReadFrame(br, tcpMaxRequestSize)
	if err != nil {
		s.log.Warn("bad subscribe frame", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	req := &pb.SubscribeRequest{}
	if err := req.Unmarshal(payload); err != nil {
		s.log.Warn("bad subscribe request", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	rx, err := s.messages.Subscribe(req.Commitment, req.ReplayFromSlot, req.Filter)
	if err != nil {
		return
	}

	session := uuid.NewString()
	log := s.log.With("session", session, "remote", conn.RemoteAddr().String())
	log.Info("subscriber connected", "commitment", req.Commitment.String())
	s.metrics.SubscribersConnected.WithLabelValues("tcp").Inc()
	defer func() {
		s.metrics.SubscribersConnected.WithLabelValues("tcp").Dec()
		log.Info("subscriber disconnected")
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// surface peer disconnects: the client never writes after subscribing
	go func() {
		defer cancel()
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	bw := bufio.NewWriter(conn)
	for {
		data, err := rx.Next(connCtx)
		if err != nil {
			if errors.Is(err, channel.ErrLagged) {
				s.metrics.SubscribersLagged.WithLabelValues("tcp").Inc()
				log.Warn("subscriber lagged")
			}
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
		if err := pb.WriteFrame(bw, data); err != nil {
			return
		}
		if err := bw.Flush(); err != nil {
			return
		}
	}
}
