package data

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ridopark/keylevels/pkg/levels"
	"github.com/ridopark/keylevels/pkg/market"
)

// Provider supplies an OHLCV series for a ticker/timeframe/lookback triple.
// Implementations return an error wrapping levels.ErrEmptySeries when no data
// exists for the ticker; the engine never treats missing data as zero zones.
type Provider interface {
	// GetOHLCV fetches bars for the ticker over the trailing lookback days,
	// oldest first.
	GetOHLCV(ticker, timeframe string, lookbackDays int) (market.Series, error)

	// Name identifies the provider in logs
	Name() string
}

// Chain tries each provider in order and returns the first successful,
// non-empty series. Failures fall through to the next provider; only when
// every provider fails does the chain report an error.
type Chain struct {
	providers []Provider
	logger    zerolog.Logger
}

// NewChain creates a provider chain. Order matters: earlier providers are
// preferred.
func NewChain(logger zerolog.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: logger}
}

// Name identifies the provider in logs
func (c *Chain) Name() string { return "chain" }

// GetOHLCV implements Provider by delegating down the chain
func (c *Chain) GetOHLCV(ticker, timeframe string, lookbackDays int) (market.Series, error) {
	var lastErr error
	for _, p := range c.providers {
		series, err := p.GetOHLCV(ticker, timeframe, lookbackDays)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("provider", p.Name()).
				Str("ticker", ticker).
				Str("timeframe", timeframe).
				Msg("Provider failed, trying next")
			lastErr = err
			continue
		}
		if len(series) == 0 {
			lastErr = fmt.Errorf("%w: provider %s returned no bars for %s", levels.ErrEmptySeries, p.Name(), ticker)
			continue
		}
		return series, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no providers configured", levels.ErrEmptySeries)
	}
	return nil, lastErr
}
