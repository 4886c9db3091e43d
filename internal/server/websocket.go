package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/internal/config"
	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/pb"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 1 << 20
)

// WebSocket close codes for terminal subscriber states.
const (
	wsCloseLagged = 4000
	wsCloseClosed = 4001
)

// WS serves subscribers over WebSocket. The first client frame is a
// length-delimited SubscribeRequest; every server frame afterwards is a
// length-delimited SubscribeUpdate.
type WS struct {
	cfg      config.WSConfig
	messages *channel.Messages
	metrics  *metrics.Metrics
	log      *slog.Logger
	limiter  *ConnLimiter
	upgrader websocket.Upgrader
}

func NewWS(cfg config.WSConfig, messages *channel.Messages, m *metrics.Metrics, log *slog.Logger) *WS {
	s := &WS{
		cfg:      cfg,
		messages: messages,
		metrics:  m,
		log:      log.With("component", "websocket"),
		limiter:  NewConnLimiter(cfg.MaxConnsPerIP),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     buildCheckOrigin(cfg.AllowedOrigins, s.log),
	}
	return s
}

// buildCheckOrigin allows every origin unless an allowlist is configured.
func buildCheckOrigin(allowedOrigins []string, log *slog.Logger) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed[origin] {
			return true
		}
		log.Warn("rejected connection origin", "origin", origin)
		return false
	}
}

func (s *WS) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe", func(w http.ResponseWriter, r *http.Request) {
		s.handleSubscribe(ctx, w, r)
	})
	srv := &http.Server{Addr: s.cfg.Addr, Handler: mux}

	s.log.Info("websocket server listening", "addr", s.cfg.Addr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *WS) handleSubscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if !s.limiter.Acquire(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer s.limiter.Release(ip)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	req, err := s.readSubscribeRequest(conn)
	if err != nil {
		s.log.Warn("bad subscribe request", "error", err)
		return
	}

	rx, err := s.messages.Subscribe(req.Commitment, req.ReplayFromSlot, req.Filter)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(wsWriteTimeout))
		return
	}

	session := uuid.NewString()
	log := s.log.With("session", session, "remote", r.RemoteAddr)
	log.Info("subscriber connected", "commitment", req.Commitment.String())
	s.metrics.SubscribersConnected.WithLabelValues("websocket").Inc()
	defer func() {
		s.metrics.SubscribersConnected.WithLabelValues("websocket").Dec()
		log.Info("subscriber disconnected")
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// reader goroutine: surfaces client close and discards client frames
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sendQueue := s.cfg.SendQueue
	if sendQueue <= 0 {
		sendQueue = 4096
	}
	frames := make(chan []byte, sendQueue)
	pump := make(chan error, 1)

	// receiver goroutine: drains the ring into the send queue; a full
	// queue means the client cannot keep up and is lagged out
	go func() {
		for {
			data, err := rx.Next(connCtx)
			if err != nil {
				pump <- err
				return
			}
			select {
			case frames <- data:
			default:
				pump <- channel.ErrLagged
				return
			}
		}
	}()

	pingInterval := time.Duration(s.cfg.PingIntervalSec) * time.Second
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-frames:
			if err := s.writeFrame(conn, data); err != nil {
				return
			}
		case err := <-pump:
			s.closeOnError(conn, log, err)
			return
		case <-ticker.C:
			if err := s.writeFrame(conn, pingFrame()); err != nil {
				return
			}
		case <-connCtx.Done():
			return
		}
	}
}

func (s *WS) readSubscribeRequest(conn *websocket.Conn) (*pb.SubscribeRequest, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	payload, _, err := pb.ConsumeFrame(data)
	if err != nil {
		return nil, err
	}
	req := &pb.SubscribeRequest{}
	if err := req.Unmarshal(payload); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *WS) writeFrame(conn *websocket.Conn, data []byte) error {
	framed := pb.AppendFrame(make([]byte, 0, len(data)+5), data)
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, framed)
}

func (s *WS) closeOnError(conn *websocket.Conn, log *slog.Logger, err error) {
	code := wsCloseClosed
	text := "closed"
	if errors.Is(err, channel.ErrLagged) {
		s.metrics.SubscribersLagged.WithLabelValues("websocket").Inc()
		log.Warn("subscriber lagged")
		code = wsCloseLagged
		text = "lagged"
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(wsWriteTimeout))
}
