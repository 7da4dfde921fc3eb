package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ridopark/keylevels/internal/api"
	"github.com/ridopark/keylevels/internal/config"
	"github.com/ridopark/keylevels/internal/data"
	"github.com/ridopark/keylevels/pkg/logging"
)

func main() {
	// Load environment variables from .env file
	envErr := godotenv.Load()

	cfg := config.Load()

	// Initialize logging
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.LogLevel(cfg.LogLevel)
	logConfig.Pretty = cfg.LogPretty
	logConfig.EnableFile = cfg.LogToFile
	logConfig.LogDir = cfg.LogDir
	logConfig.LogFileName = cfg.LogFile
	logging.Initialize(logConfig)

	logger := logging.GetLogger("main")

	if envErr != nil {
		logger.Warn().Err(envErr).Msg("Could not load .env file, using system environment variables")
	} else {
		logger.Debug().Msg("Successfully loaded .env file")
	}

	logger.Info().Msg("KeyLevels API Server")
	logger.Info().Msg("====================")

	provider := buildProviderChain(cfg)
	server := api.NewServer(cfg, provider, logging.GetLogger("api"))

	// Serve until interrupted
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

// buildProviderChain wires the configured market-data providers, preferred
// source first: TimescaleDB, then Alpha Vantage, then the synthetic fallback.
func buildProviderChain(cfg config.Config) data.Provider {
	logger := logging.GetLogger("data")
	var providers []data.Provider

	if cfg.EnableTimescale {
		ts, err := data.NewTimescaleProvider(cfg.PostgresConnString())
		if err != nil {
			logger.Warn().Err(err).Msg("TimescaleDB unavailable, continuing without it")
		} else {
			providers = append(providers, ts)
		}
	}

	if cfg.AlphaVantageAPIKey != "" {
		providers = append(providers, data.NewAlphaVantageProvider(cfg.AlphaVantageAPIKey, logger))
	}

	if cfg.EnableSynthetic || len(providers) == 0 {
		providers = append(providers, data.NewSyntheticProvider())
	}

	return data.NewChain(logger, providers...)
}
