// Package server exposes the roomchat hub over HTTP: WebSocket channels,
// health and stats endpoints, Prometheus metrics and a built-in chat page.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/hub"
)

// Server serves the hub's HTTP surface.
type Server struct {
	cfg        config.Config
	hub        *hub.Hub
	echo       *echo.Echo
	httpServer *http.Server
	upgrader   websocket.Upgrader
	origins    *originPolicy
	clock      clockwork.Clock
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used by per-connection rate limiters and keepalive tickers.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer builds the HTTP server for h. cfg is expected to be sanitized.
func NewServer(cfg config.Config, h *hub.Hub, logger *slog.Logger, opts ...Option) *Server {
	logger = logger.With(slog.String("component", "http"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		cfg:     cfg,
		hub:     h,
		echo:    e,
		origins: newOriginPolicy(cfg, logger),
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.httpServer = CreateServer(cfg.Port, e)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			level := slog.LevelDebug
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			logger.LogAttrs(context.Background(), level, "HTTP request", attrs...)
			return nil
		},
	}))

	s.registerRoutes()
	return s
}

// CreateServer creates an HTTP server for handler listening on port, with
// timeouts suited to production use. Hijacked WebSocket connections are not
// subject to them.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler returns the routed HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured port and blocks until the server stops.
// A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("Server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight HTTP requests.
// WebSocket sessions are owned by the hub and end with hub.Shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", slog.Any("error", err))
		return err
	}
	s.logger.Info("HTTP server shutdown completed")
	return nil
}
