// Package web serves the bot's HTTP surface: the health probe that keepalive
// pings target, the Prometheus scrape endpoint, and the Telegram webhook
// receiver when webhook mode is enabled.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jusunglee/igrelay/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Port          int64
	WebhookSecret string
}

type Server struct {
	log        *slog.Logger
	httpServer *http.Server
	started    time.Time
}

// New builds the server. webhook is mounted at POST /telegram/webhook behind
// the secret-token check; pass nil when running in polling mode and the
// route is not registered at all.
func New(log *slog.Logger, webhook http.Handler, config Config) *Server {
	s := &Server{
		log:     log,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Prometheus)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if webhook != nil {
		r.Route("/telegram", func(r chi.Router) {
			r.Use(middleware.WebhookAuth(config.WebhookSecret))
			r.Method(http.MethodPost, "/webhook", webhook)
		})
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: r,

		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests with a
// grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting web server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("web server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return <-errCh
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}); err != nil {
		s.log.Error("failed to encode health response", "error", err)
	}
}
