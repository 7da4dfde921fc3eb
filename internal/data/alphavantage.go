package data

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ridopark/keylevels/pkg/levels"
	"github.com/ridopark/keylevels/pkg/market"
)

const (
	alphaVantageBaseURL = "https://www.alphavantage.co/query"

	// Free tier allows 5 requests/minute, so keep at least 12s between calls.
	alphaVantageMinInterval = 12 * time.Second
)

// AlphaVantageProvider fetches OHLCV data from the Alpha Vantage REST API.
// The free tier is heavily rate limited, so each instance spaces its requests
// out; the last-request timestamp is owned by the instance, not shared
// globally.
type AlphaVantageProvider struct {
	apiKey string
	client *http.Client
	logger zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewAlphaVantageProvider creates a provider with the given API key. The
// "demo" key only works for a handful of symbols.
func NewAlphaVantageProvider(apiKey string, logger zerolog.Logger) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Name identifies the provider in logs
func (p *AlphaVantageProvider) Name() string { return "alphavantage" }

// GetOHLCV fetches bars for the ticker over the trailing lookback days.
// 4h bars are resampled from hourly data since the API has no native 4h
// interval.
func (p *AlphaVantageProvider) GetOHLCV(ticker, timeframe string, lookbackDays int) (market.Series, error) {
	params := url.Values{}
	params.Set("symbol", ticker)
	params.Set("apikey", p.apiKey)
	params.Set("outputsize", "compact")

	switch timeframe {
	case "1d":
		params.Set("function", "TIME_SERIES_DAILY")
	case "1h", "4h":
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", "60min")
	case "15m":
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", "15min")
	default:
		return nil, fmt.Errorf("%w: unsupported timeframe %q", levels.ErrInvalidParameter, timeframe)
	}

	p.throttle()

	resp, err := p.client.Get(alphaVantageBaseURL + "?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("alpha vantage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage returned status %d", resp.StatusCode)
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode alpha vantage response: %w", err)
	}

	series, err := parseTimeSeries(payload)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: alpha vantage has no data for %s", levels.ErrEmptySeries, ticker)
	}

	cutoff := time.Now().AddDate(0, 0, -lookbackDays)
	series = trimBefore(series, cutoff)

	if timeframe == "4h" {
		series = resample4h(series)
	}
	return series, nil
}

// throttle blocks until enough time has passed since the previous request
func (p *AlphaVantageProvider) throttle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	since := time.Since(p.lastRequest)
	if since < alphaVantageMinInterval {
		wait := alphaVantageMinInterval - since
		p.logger.Debug().Dur("wait", wait).Msg("Rate limiting alpha vantage request")
		time.Sleep(wait)
	}
	p.lastRequest = time.Now()
}

func parseTimeSeries(payload map[string]json.RawMessage) (market.Series, error) {
	if msg, ok := payload["Error Message"]; ok {
		return nil, fmt.Errorf("alpha vantage error: %s", string(msg))
	}
	if note, ok := payload["Note"]; ok {
		return nil, fmt.Errorf("alpha vantage rate limit: %s", string(note))
	}

	var raw map[string]map[string]string
	for key, value := range payload {
		if strings.HasPrefix(key, "Time Series") {
			if err := json.Unmarshal(value, &raw); err != nil {
				return nil, fmt.Errorf("failed to parse time series: %w", err)
			}
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("alpha vantage response contained no time series")
	}

	series := make(market.Series, 0, len(raw))
	for stamp, fields := range raw {
		t, err := parseStamp(stamp)
		if err != nil {
			return nil, err
		}
		bar := market.Bar{Time: t}
		if bar.Open, err = strconv.ParseFloat(fields["1. open"], 64); err != nil {
			return nil, fmt.Errorf("failed to parse open at %s: %w", stamp, err)
		}
		if bar.High, err = strconv.ParseFloat(fields["2. high"], 64); err != nil {
			return nil, fmt.Errorf("failed to parse high at %s: %w", stamp, err)
		}
		if bar.Low, err = strconv.ParseFloat(fields["3. low"], 64); err != nil {
			return nil, fmt.Errorf("failed to parse low at %s: %w", stamp, err)
		}
		if bar.Close, err = strconv.ParseFloat(fields["4. close"], 64); err != nil {
			return nil, fmt.Errorf("failed to parse close at %s: %w", stamp, err)
		}
		if bar.Volume, err = strconv.ParseFloat(fields["5. volume"], 64); err != nil {
			return nil, fmt.Errorf("failed to parse volume at %s: %w", stamp, err)
		}
		series = append(series, bar)
	}

	sort.Slice(series, func(i, j int) bool {
		return series[i].Time.Before(series[j].Time)
	})
	return series, nil
}

func parseStamp(stamp string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", stamp); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q: %w", stamp, err)
	}
	return t, nil
}

func trimBefore(series market.Series, cutoff time.Time) market.Series {
	for i, bar := range series {
		if !bar.Time.Before(cutoff) {
			return series[i:]
		}
	}
	return nil
}

// resample4h aggregates hourly bars into 4-hour candles: first open, max
// high, min low, last close, summed volume per bucket.
func resample4h(series market.Series) market.Series {
	var out market.Series
	var bucket time.Time
	for _, bar := range series {
		b := bar.Time.Truncate(4 * time.Hour)
		if len(out) == 0 || !b.Equal(bucket) {
			bucket = b
			resampled := bar
			resampled.Time = b
			out = append(out, resampled)
			continue
		}
		last := &out[len(out)-1]
		if bar.High > last.High {
			last.High = bar.High
		}
		if bar.Low < last.Low {
			last.Low = bar.Low
		}
		last.Close = bar.Close
		last.Volume += bar.Volume
	}
	return out
}

// Verify that AlphaVantageProvider implements the Provider interface
var _ Provider = (*AlphaVantageProvider)(nil)
