package levels

import (
	"fmt"
	"math"

	"github.com/ridopark/keylevels/pkg/market"
)

// ATR computes the Average True Range over the last period bars of the
// series. True range for a bar is the largest of high-low,
// |high - prevClose| and |low - prevClose|; the first bar has no previous
// close so its true range is just high-low.
//
// When the series is shorter than the period the rolling window cannot fill,
// and ATR falls back to the mean high-low range of the whole series. The
// result is always finite and non-negative.
func ATR(series market.Series, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: atr period must be positive, got %d", ErrInvalidParameter, period)
	}
	if len(series) == 0 {
		return 0, fmt.Errorf("%w: cannot compute ATR", ErrEmptySeries)
	}

	if len(series) < period {
		return meanRange(series), nil
	}

	// Mean of true range over the trailing window.
	var sum float64
	start := len(series) - period
	for i := start; i < len(series); i++ {
		sum += trueRange(series, i)
	}
	atr := sum / float64(period)
	if math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0, fmt.Errorf("%w: ATR is not finite", ErrComputation)
	}
	return atr, nil
}

func trueRange(series market.Series, i int) float64 {
	bar := series[i]
	tr := bar.High - bar.Low
	if i == 0 {
		return tr
	}
	prevClose := series[i-1].Close
	if d := math.Abs(bar.High - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(bar.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func meanRange(series market.Series) float64 {
	var sum float64
	for _, bar := range series {
		sum += bar.High - bar.Low
	}
	return sum / float64(len(series))
}
