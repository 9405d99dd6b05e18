package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/analisi-ticket/backend/internal/config"
	"github.com/analisi-ticket/backend/internal/dataset"
	"github.com/analisi-ticket/backend/internal/db"
	"github.com/analisi-ticket/backend/internal/estimate"
	httpapi "github.com/analisi-ticket/backend/internal/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "ticket-analysis-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	var remote estimate.Estimator
	if cfg.VertexProjectID == "" {
		remote = estimate.MockEstimator{}
		logger.Info().Msg("using mock estimator")
	} else {
		remote = &estimate.VertexEstimator{
			ProjectID:   cfg.VertexProjectID,
			Location:    cfg.VertexLocation,
			Model:       cfg.VertexModel,
			EndpointID:  cfg.VertexEndpointID,
			AccessToken: cfg.VertexAccessToken,
			Timeout:     cfg.VertexTimeout,
		}
	}

	loader := &dataset.Loader{
		Client: &http.Client{Timeout: 30 * time.Second},
		TTL:    cfg.DatasetTTL,
		Logger: logger,
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.BatchRatePerSecond), 1)

	router := httpapi.Router(cfg, store, remote, loader, limiter, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
