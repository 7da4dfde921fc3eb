package levels

import (
	"time"

	"github.com/ridopark/keylevels/pkg/market"
)

// PivotKind distinguishes swing highs from swing lows
type PivotKind string

const (
	PivotHigh PivotKind = "high"
	PivotLow  PivotKind = "low"
)

// Pivot is a local price extremum relative to a symmetric neighborhood window
type Pivot struct {
	Time  time.Time
	Price float64
	Kind  PivotKind
}

// FindPivotHighs returns the swing highs of the series. A pivot high at index
// i requires the bar's high to be strictly greater than every high within
// window bars on both sides; ties never qualify, which avoids double-counting
// flat tops. Bars within window of either edge cannot be evaluated and are
// skipped.
func FindPivotHighs(series market.Series, window int) []Pivot {
	var pivots []Pivot
	for i := window; i < len(series)-window; i++ {
		if isPivotHigh(series, i, window) {
			pivots = append(pivots, Pivot{Time: series[i].Time, Price: series[i].High, Kind: PivotHigh})
		}
	}
	return pivots
}

// FindPivotLows returns the swing lows of the series, the mirror condition of
// FindPivotHighs on the bar lows.
func FindPivotLows(series market.Series, window int) []Pivot {
	var pivots []Pivot
	for i := window; i < len(series)-window; i++ {
		if isPivotLow(series, i, window) {
			pivots = append(pivots, Pivot{Time: series[i].Time, Price: series[i].Low, Kind: PivotLow})
		}
	}
	return pivots
}

func isPivotHigh(series market.Series, i, window int) bool {
	for j := 1; j <= window; j++ {
		if series[i].High <= series[i-j].High || series[i].High <= series[i+j].High {
			return false
		}
	}
	return true
}

func isPivotLow(series market.Series, i, window int) bool {
	for j := 1; j <= window; j++ {
		if series[i].Low >= series[i-j].Low || series[i].Low >= series[i+j].Low {
			return false
		}
	}
	return true
}
