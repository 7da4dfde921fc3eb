package levels

import (
	"time"

	"github.com/ridopark/keylevels/pkg/market"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatSeries returns n identical bars spaced an hour apart
func flatSeries(n int, price, volume float64) market.Series {
	series := make(market.Series, n)
	for i := range series {
		series[i] = market.Bar{
			Time:   testStart.Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: volume,
		}
	}
	return series
}

// risingSeries returns n bars trending up by step per bar, with a small
// high/low wick around the body.
func risingSeries(n int, base, step float64) market.Series {
	series := make(market.Series, n)
	for i := range series {
		open := base + step*float64(i)
		close := open + step/2
		series[i] = market.Bar{
			Time:   testStart.Add(time.Duration(i) * time.Hour),
			Open:   open,
			High:   close + step/4,
			Low:    open - step/4,
			Close:  close,
			Volume: 1000,
		}
	}
	return series
}

// bar builds a single bar at hour offset i
func bar(i int, open, high, low, close, volume float64) market.Bar {
	return market.Bar{
		Time:   testStart.Add(time.Duration(i) * time.Hour),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}
}
