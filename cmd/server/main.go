package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/radar/internal/adapter/httpserver"
	"github.com/pscheid92/radar/internal/broadcast"
	"github.com/pscheid92/radar/internal/platform/config"
	"github.com/pscheid92/radar/internal/platform/logging"
	"github.com/pscheid92/radar/internal/platform/version"
	"github.com/pscheid92/radar/internal/registry"
	"github.com/pscheid92/radar/internal/router"
)

var errHubUnresponsive = errors.New("hub not responding")

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, hub *broadcast.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Closing every socket ends the read pumps, which remove their
		// participants on the way out.
		hub.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func hubHealthCheck(hub *broadcast.Hub) httpserver.HealthCheck {
	return httpserver.HealthCheck{
		Name: "hub",
		Check: func(context.Context) error {
			if hub.ClientCount() < 0 {
				return errHubUnresponsive
			}
			return nil
		},
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Publish()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.String())

	participants := registry.New(clock)
	hub := broadcast.NewHub(clock)
	relay := router.New(participants, hub, clock)

	srv, err := httpserver.NewServer(cfg, clock, hub, relay, []httpserver.HealthCheck{hubHealthCheck(hub)})
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(cfg, srv, hub)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
