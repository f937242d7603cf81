package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/edlive/livehub/internal/adapters/http"
	"github.com/edlive/livehub/internal/config"
	"github.com/edlive/livehub/internal/hub"
	"github.com/edlive/livehub/internal/metrics"
	"github.com/edlive/livehub/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("CONFIG_ENV") == "dev" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var sessions store.SessionStore
	if cfg.DBPath != "" {
		sessions, err = store.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open session store")
		}
		log.Info().Str("path", cfg.DBPath).Msg("using sqlite session store")
	} else {
		sessions = store.NewMemoryStore()
		log.Info().Msg("using in-memory session store")
	}
	defer func() { _ = sessions.Close() }()

	var collector *metrics.Collector
	if cfg.Metrics {
		collector = metrics.New(prometheus.DefaultRegisterer)
	}

	h := hub.New(
		hub.WithHeartbeatTTL(cfg.HeartbeatTTL),
		hub.WithMetrics(collector),
	)
	defer h.Stop()

	r := router.SetupRouter(ctx, cfg, h, sessions)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("livehub server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
