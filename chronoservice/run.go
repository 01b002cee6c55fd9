// Package chronoservice boots the HTTP API server.
package chronoservice

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronologue/chronologue/internal/api"
	"github.com/chronologue/chronologue/internal/config"
	"github.com/chronologue/chronologue/internal/factory"
	"github.com/chronologue/chronologue/internal/logger"
)

// Run starts the service and blocks until shutdown or error.
func Run() error {
	log := logger.New("chronologue-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("load configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := factory.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("build engine")
		return err
	}
	defer func() { _ = engine.Close() }()

	router := api.NewRouter(engine.Owners, engine.Recall, engine.Health)
	server := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
			return err
		}
		log.Info().Msg("server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}
