// Package source runs the upstream feed clients. Each configured feed is
// one goroutine that connects to an upstream relay, reads framed updates
// and hands them to the single ingest loop, which serialises every feed
// into the channel's one logical writer.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/internal/config"
	"github.com/solstream/bus/internal/message"
	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/pb"
)

const defaultMaxFrameSize = 64 << 20

type item struct {
	feed int
	msg  message.ParsedMessage
}

// Manager owns the feed goroutines and the ingest loop.
type Manager struct {
	sources []config.SourceConfig
	sender  *channel.Sender
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewManager(sources []config.SourceConfig, sender *channel.Sender, m *metrics.Metrics, log *slog.Logger) *Manager {
	return &Manager{
		sources: sources,
		sender:  sender,
		metrics: m,
		log:     log.With("component", "source"),
	}
}

// Run consumes every feed until ctx is cancelled. With more than one feed
// the pushes carry feed identity so the channel deduplicates across them.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.sources) == 0 {
		return errors.New("source: no upstream feeds configured")
	}

	items := make(chan item, 8192)
	multiFeed := len(m.sources) > 1

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range m.sources {
		g.Go(func() error {
			return m.runFeed(ctx, i, src, items)
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case it := <-items:
				var feed *channel.Feed
				if multiFeed {
					feed = &channel.Feed{Index: it.feed, StreamsTotal: len(m.sources)}
				}
				m.sender.Push(it.msg, feed)
			}
		}
	})
	return g.Wait()
}

// runFeed keeps one upstream connection alive, reconnecting with a fixed
// backoff on any failure.
func (m *Manager) runFeed(ctx context.Context, index int, src config.SourceConfig, items chan<- item) error {
	feedLabel := strconv.Itoa(index)
	log := m.log.With("feed", index, "endpoint", src.Endpoint)

	interval := src.ReconnectInterval()

	for {
		err := m.consumeFeed(ctx, index, src, items, feedLabel)
		if ctx.Err() != nil {
			return nil
		}
		log.Error("feed disconnected, reconnecting", "error", err, "backoff", interval)
		m.metrics.SourceReconnects.WithLabelValues(feedLabel).Inc()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (m *Manager) consumeFeed(ctx context.Context, index int, src config.SourceConfig, items chan<- item, feedLabel string) error {
	maxFrame := src.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameSize
	}

	var (
		next func() ([]byte, error)
		stop func()
		err  error
	)
	switch src.Transport {
	case "websocket":
		next, stop, err = dialWebSocket(ctx, src.Endpoint)
	case "tcp":
		next, stop, err = dialTCP(ctx, src.Endpoint, maxFrame)
	default:
		return fmt.Errorf("source: unknown transport %q", src.Transport)
	}
	if err != nil {
		return err
	}
	defer stop()

	// close the connection when ctx ends so blocked reads return
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	for {
		data, err := next()
		if err != nil {
			return err
		}
		msg, err := message.Parse(data)
		if err != nil {
			if errors.Is(err, message.ErrSkip) {
				continue
			}
			// a malformed frame must not poison the channel
			m.metrics.SourceDropped.WithLabelValues(feedLabel).Inc()
			m.log.Warn("dropping undecodable message", "feed", index, "error", err)
			continue
		}
		m.metrics.SourceMessages.WithLabelValues(feedLabel).Inc()
		select {
		case items <- item{feed: index, msg: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func subscribeRequestBytes() []byte {
	req := &pb.SubscribeRequest{}
	return req.MarshalAppend(make([]byte, 0, req.Size()))
}

func dialWebSocket(ctx context.Context, endpoint string) (func() ([]byte, error), func(), error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	raw := subscribeRequestBytes()
	framed := pb.AppendFrame(make([]byte, 0, len(raw)+5), raw)
	if err := conn.WriteMessage(websocket.BinaryMessage, framed); err != nil {
		conn.Close()
		return nil, nil, err
	}

	next := func() ([]byte, error) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		payload, _, err := pb.ConsumeFrame(data)
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
	return next, func() { conn.Close() }, nil
}

func dialTCP(ctx context.Context, endpoint string, maxFrame int) (func() ([]byte, error), func(), error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, nil, err
	}
	if err := pb.WriteFrame(conn, subscribeRequestBytes()); err != nil {
		conn.Close()
		return nil, nil, err
	}

	br := bufio.NewReaderSize(conn, 1<<20)
	next := func() ([]byte, error) {
		return pb.ReadFrame(br, maxFrame)
	}
	return next, func() { conn.Close() }, nil
}
