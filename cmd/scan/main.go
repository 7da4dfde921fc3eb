package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/ridopark/keylevels/internal/config"
	"github.com/ridopark/keylevels/internal/data"
	"github.com/ridopark/keylevels/pkg/levels"
	"github.com/ridopark/keylevels/pkg/logging"
)

func main() {
	envErr := godotenv.Load()

	var (
		tickerFlag    = flag.String("ticker", "DEMO", "Ticker symbol to scan")
		timeframeFlag = flag.String("timeframe", "1d", "Timeframe (1d, 4h, 1h, 15m)")
		lookbackFlag  = flag.Int("lookback", 365, "Lookback in days")
		engineFlag    = flag.String("engine", "baseline", "Detection engine: baseline or institutional")
	)
	flag.Parse()

	cfg := config.Load()

	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.LogLevel(cfg.LogLevel)
	logConfig.Pretty = cfg.LogPretty
	logging.Initialize(logConfig)

	logger := logging.GetLogger("scan")
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("No .env file found, using system environment variables")
	}

	provider := buildProvider(cfg, logger)

	logger.Info().
		Str("ticker", *tickerFlag).
		Str("timeframe", *timeframeFlag).
		Int("lookback", *lookbackFlag).
		Str("engine", *engineFlag).
		Msg("Scanning for key levels")

	series, err := provider.GetOHLCV(*tickerFlag, *timeframeFlag, *lookbackFlag)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to fetch market data")
	}
	logger.Info().Int("bars", len(series)).Msg("Loaded series")

	var zones []levels.Zone
	switch *engineFlag {
	case "baseline":
		detector := levels.NewDetector(levels.DetectorConfig{
			PivotWindow:   cfg.PivotWindow,
			ATRPeriod:     cfg.ATRPeriod,
			ATRMultiplier: cfg.ATRMultiplier,
			MaxZones:      cfg.MaxZones,
		})
		zones, err = detector.Detect(series)
	case "institutional":
		engine := levels.NewInstitutional(levels.InstitutionalConfig{
			MinTouches:                cfg.MinTouches,
			MinReactionATR:            cfg.MinReactionATR,
			VolumeThresholdPercentile: cfg.VolumePercentile,
			MaxLevels:                 cfg.MaxLevels,
			MergeToleranceATR:         cfg.MergeToleranceATR,
			BrokenLevelInvalidation:   true,
			ATRPeriod:                 cfg.ATRPeriod,
		})
		zones, err = engine.Detect(series, *timeframeFlag)
	default:
		logger.Fatal().Str("engine", *engineFlag).Msg("Unknown engine. Available engines: baseline, institutional")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Detection failed")
	}

	printZones(zones, *engineFlag)
}

func printZones(zones []levels.Zone, engine string) {
	if len(zones) == 0 {
		fmt.Println("No key levels found")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	if engine == "institutional" {
		table.SetHeader([]string{"ID", "Type", "Low", "High", "Strength", "Confidence", "Touches", "Last Touch"})
	} else {
		table.SetHeader([]string{"ID", "Type", "Low", "High", "Strength", "Touches", "Last Touch"})
	}

	for _, z := range zones {
		lastTouch := time.Unix(z.LastTouchTime, 0).UTC().Format("2006-01-02")
		row := []string{
			z.ID,
			string(z.Type),
			fmt.Sprintf("%.2f", z.PriceLow),
			fmt.Sprintf("%.2f", z.PriceHigh),
			fmt.Sprintf("%.3f", z.Strength),
		}
		if engine == "institutional" {
			row = append(row, fmt.Sprintf("%.1f", z.Confidence))
		}
		row = append(row, fmt.Sprintf("%d", z.Touches), lastTouch)
		table.Append(row)
	}
	table.Render()
}

func buildProvider(cfg config.Config, logger zerolog.Logger) data.Provider {
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
