// Package server exposes the agent's /metrics and /health endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unraid-agent/pkg/config"
)

const shutdownTimeout = 5 * time.Second

// HTTPServer serves the agent's own observability endpoints.
type HTTPServer struct {
	server *http.Server
	log    *zap.Logger
}

// New builds the server with /metrics backed by the given registry and a
// dependency-free /health.
func New(cfg config.HTTPConfig, reg *prometheus.Registry, log *zap.Logger) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(log),
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &HTTPServer{
		log: log,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start begins listening in a background goroutine.
func (s *HTTPServer) Start() {
	s.log.Info("starting http server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, waiting up to the shutdown timeout for
// in-flight requests.
func (s *HTTPServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
