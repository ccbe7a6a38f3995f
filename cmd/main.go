package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-appointment-pipeline/internal/app"
	"call-appointment-pipeline/internal/config"
	internalhttp "call-appointment-pipeline/internal/http"
	"call-appointment-pipeline/internal/observability"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Startup failed")
	}

	obs := observability.NewServer(":"+cfg.Service.MetricsPort, func() bool { return true })
	obs.Start()

	apiServer := &http.Server{
		Addr:    ":" + cfg.Service.HTTPPort,
		Handler: internalhttp.NewRouter(cfg.Room, application.Manager),
	}
	go func() {
		application.Logger.Info().Str("addr", apiServer.Addr).Msg("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			application.Logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	runCtx, cancelRun := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run(runCtx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		application.Logger.Info().Str("signal", s.String()).Msg("Signal received")
	case err := <-runErr:
		if err != nil {
			application.Logger.Error().Err(err).Msg("Room event loop ended")
		}
	}

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	application.Shutdown(shutdownCtx)
	_ = apiServer.Shutdown(shutdownCtx)
	_ = obs.Shutdown(shutdownCtx)
}
