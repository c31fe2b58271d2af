package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/radar/internal/domain"
	"github.com/pscheid92/radar/internal/platform/config"
)

// connectionHub is the part of the broadcast hub the websocket endpoint drives.
type connectionHub interface {
	Register(conn domain.ConnID, socket *websocket.Conn) error
	Unregister(conn domain.ConnID)
}

// messageRouter receives the lifecycle of every connection.
type messageRouter interface {
	HandleConnect(ctx context.Context, conn domain.ConnID) domain.Participant
	HandleMessage(ctx context.Context, conn domain.ConnID, frame []byte)
	HandleDisconnect(ctx context.Context, conn domain.ConnID)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	hub    connectionHub
	router messageRouter

	limits      *ConnectionLimits
	checkOrigin func(r *http.Request) bool
	upgrader    websocket.Upgrader

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, clock clockwork.Clock, hub connectionHub, router messageRouter, healthChecks []HealthCheck) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		clock:        clock,
		hub:          hub,
		router:       router,
		limits:       NewConnectionLimits(clock, int64(cfg.MaxConnections), cfg.MaxConnectionsPerIP, cfg.ConnectRate, cfg.ConnectBurst),
		checkOrigin:  NewCheckOrigin(cfg.AllowedOrigins),
		upgrader:     newUpgrader(),
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Handler exposes the routed echo instance, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}
