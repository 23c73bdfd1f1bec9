package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emergency-call-console/internal/app"
	"emergency-call-console/internal/config"
	"emergency-call-console/internal/events"
	consolehttp "emergency-call-console/internal/http"
	"emergency-call-console/internal/observability"
	"emergency-call-console/internal/server"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("startup failed")
	}

	sink, err := events.New(cfg.Interactions, cfg.Kafka, application.Logger)
	if err != nil {
		application.Logger.Fatal().Err(err).Msg("interaction sink init failed")
	}
	defer sink.Close()

	ws := server.New(cfg, sink, application.Logger)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Service.WSPort,
		Handler: consolehttp.NewRouter(cfg, ws),
	}

	obsServer := observability.NewServer(":" + cfg.Observability.MetricsPort)
	obsServer.Start()

	go func() {
		application.Logger.Info().
			Str("addr", httpServer.Addr).
			Str("path", cfg.Service.WSPath).
			Msg("Call console WebSocket server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			application.Logger.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws.Close()
	if err := httpServer.Shutdown(ctx); err != nil {
		application.Logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		application.Logger.Error().Err(err).Msg("observability shutdown failed")
	}
	application.Shutdown()
}
