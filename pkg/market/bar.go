package market

import (
	"fmt"
	"time"
)

// Bar represents OHLCV data for a single time period
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Mid returns the midpoint of the bar's range
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}

// Body returns the absolute size of the bar's body (open to close)
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// Validate checks the OHLC ordering invariant for a single bar
func (b Bar) Validate() error {
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if b.Low > lo || hi > b.High {
		return fmt.Errorf("bar at %s violates low <= min(open,close) <= max(open,close) <= high", b.Time.Format(time.RFC3339))
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar at %s has negative volume", b.Time.Format(time.RFC3339))
	}
	return nil
}

// Series is an ordered sequence of bars with strictly increasing timestamps.
// Gaps between timestamps are permitted.
type Series []Bar

// Validate checks per-bar invariants and the strictly-increasing timestamp
// ordering across the series.
func (s Series) Validate() error {
	for i, bar := range s {
		if err := bar.Validate(); err != nil {
			return err
		}
		if i > 0 && !s[i-1].Time.Before(bar.Time) {
			return fmt.Errorf("series timestamps not strictly increasing at index %d", i)
		}
	}
	return nil
}

// Start returns the timestamp of the first bar
func (s Series) Start() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Time
}

// End returns the timestamp of the last bar
func (s Series) End() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Time
}

// Span returns the time covered between the first and last bar
func (s Series) Span() time.Duration {
	if len(s) < 2 {
		return 0
	}
	return s.End().Sub(s.Start())
}

// LastClose returns the closing price of the last bar
func (s Series) LastClose() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Close
}
