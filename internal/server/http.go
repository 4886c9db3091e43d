package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/internal/config"
)

// HTTP exposes the Prometheus metrics and the channel introspection
// endpoints.
type HTTP struct {
	cfg      config.HTTPConfig
	messages *channel.Messages
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

func NewHTTP(cfg config.HTTPConfig, messages *channel.Messages, gatherer prometheus.Gatherer, log *slog.Logger) *HTTP {
	return &HTTP{
		cfg:      cfg,
		messages: messages,
		gatherer: gatherer,
		log:      log.With("component", "http"),
	}
}

func (s *HTTP) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/debug/channel", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.messages.Stats())
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("http server listening", "addr", s.cfg.Addr)
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
