package levels

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/ridopark/keylevels/pkg/market"
)

// Candidate sources tag where a candidate zone came from, so merged zones can
// report confirmation by multiple independent heuristics.
const (
	SourceVolumeNode             = "volume_node"
	SourceRejectionHigh          = "rejection_high"
	SourceRejectionLow           = "rejection_low"
	SourceConsolidationExpansion = "consolidation_expansion"
	SourceStructureBreak         = "structure_break"
)

// Structure break directions
const (
	StructureBullishBOS = "bullish_bos"
	StructureBearishBOS = "bearish_bos"
)

// Candidate is an ephemeral zone emitted by a single generator, consumed by
// the filter/merge/score pipeline. The Has* flags mark which optional metrics
// the originating generator reports.
type Candidate struct {
	PriceLow  float64
	PriceHigh float64
	Touches   int
	LastTouch time.Time
	Sources   []string

	ReactionStrength float64 // in ATR units
	HasReaction      bool

	AvgVolume float64
	HasVolume bool

	StructureType         string
	ConsolidationStrength float64 // expansion/consolidation range ratio
}

// Center returns the midpoint of the candidate's price band
func (c Candidate) Center() float64 {
	return (c.PriceLow + c.PriceHigh) / 2
}

// Fixed generator parameters. The window sizes come from the heuristics
// themselves and are not exposed as configuration.
const (
	rejectionWindow      = 5
	rejectionLookahead   = 10
	consolidationWindow  = 20
	consolidationMaxPct  = 0.05
	expansionMinPct      = 0.10
	structureLookback    = 20
	structureMinBodyATR  = 0.5
	volumeNodeBandATR    = 0.3
	rejectionBandATR     = 0.3
	consolidationBandATR = 0.4
	structureBandATR     = 0.3
)

// VolumeNodes finds price levels where high-volume bars cluster: bars whose
// volume reaches the configured percentile of the series' volume distribution
// are grouped by mid-price with a first-fit scan in time order. Clusters with
// at least minTouches members become candidates.
func VolumeNodes(series market.Series, atr, percentile, mergeToleranceATR float64, minTouches int) []Candidate {
	volumes := make([]float64, len(series))
	for i, bar := range series {
		volumes[i] = bar.Volume
	}
	threshold := volumeQuantile(volumes, percentile)

	type volCluster struct {
		anchor  float64 // price of the first member, the cluster's reference
		prices  []float64
		volumes []float64
		times   []time.Time
	}

	tolerance := atr * mergeToleranceATR
	var clusters []*volCluster
	highVolBars := 0

	for _, bar := range series {
		if bar.Volume < threshold {
			continue
		}
		highVolBars++
		price := bar.Mid()

		var found *volCluster
		for _, c := range clusters {
			if math.Abs(price-c.anchor) <= tolerance {
				found = c
				break
			}
		}
		if found == nil {
			found = &volCluster{anchor: price}
			clusters = append(clusters, found)
		}
		found.prices = append(found.prices, price)
		found.volumes = append(found.volumes, bar.Volume)
		found.times = append(found.times, bar.Time)
	}

	if highVolBars < 2 {
		return nil
	}

	var candidates []Candidate
	for _, c := range clusters {
		if len(c.prices) < minTouches {
			continue
		}
		avgPrice, _ := stats.Mean(c.prices)
		avgVolume, _ := stats.Mean(c.volumes)
		lastTouch := c.times[0]
		for _, t := range c.times[1:] {
			if t.After(lastTouch) {
				lastTouch = t
			}
		}
		candidates = append(candidates, Candidate{
			PriceLow:  avgPrice - atr*volumeNodeBandATR,
			PriceHigh: avgPrice + atr*volumeNodeBandATR,
			Touches:   len(c.prices),
			LastTouch: lastTouch,
			Sources:   []string{SourceVolumeNode},
			AvgVolume: avgVolume,
			HasVolume: true,
		})
	}
	return candidates
}

// RejectionZones finds swing highs/lows that price moved sharply away from.
// Swings are pivot fractals with a fixed 5-bar window; the rejection is the
// most favorable excursion within the next 10 bars, and the candidate is kept
// when that move reaches minReactionATR ATR multiples.
func RejectionZones(series market.Series, atr, minReactionATR float64) []Candidate {
	var candidates []Candidate

	for i := rejectionWindow; i < len(series)-rejectionWindow; i++ {
		end := i + rejectionLookahead
		if end > len(series) {
			end = len(series)
		}

		if isPivotHigh(series, i, rejectionWindow) {
			minLow := series[i].Low
			for j := i; j < end; j++ {
				if series[j].Low < minLow {
					minLow = series[j].Low
				}
			}
			reaction := series[i].High - minLow
			if reaction >= minReactionATR*atr {
				candidates = append(candidates, Candidate{
					PriceLow:         series[i].High - atr*rejectionBandATR,
					PriceHigh:        series[i].High + atr*rejectionBandATR,
					Touches:          1,
					LastTouch:        series[i].Time,
					Sources:          []string{SourceRejectionHigh},
					ReactionStrength: reaction / atr,
					HasReaction:      true,
				})
			}
		}

		if isPivotLow(series, i, rejectionWindow) {
			maxHigh := series[i].High
			for j := i; j < end; j++ {
				if series[j].High > maxHigh {
					maxHigh = series[j].High
				}
			}
			reaction := maxHigh - series[i].Low
			if reaction >= minReactionATR*atr {
				candidates = append(candidates, Candidate{
					PriceLow:         series[i].Low - atr*rejectionBandATR,
					PriceHigh:        series[i].Low + atr*rejectionBandATR,
					Touches:          1,
					LastTouch:        series[i].Time,
					Sources:          []string{SourceRejectionLow},
					ReactionStrength: reaction / atr,
					HasReaction:      true,
				})
			}
		}
	}
	return candidates
}

// ConsolidationExpansion finds tight trading ranges that resolved into large
// moves: a 20-bar window whose high-low range is under 5% of the following
// close, with the next 20-bar window ranging over 10% of it. The candidate
// sits at the consolidation midpoint.
func ConsolidationExpansion(series market.Series, atr float64) []Candidate {
	var candidates []Candidate

	for i := consolidationWindow; i < len(series)-consolidationWindow; i++ {
		refClose := series[i].Close
		if refClose == 0 {
			continue
		}

		consHigh, consLow := windowRange(series, i-consolidationWindow, i)
		rangePct := (consHigh - consLow) / refClose
		if rangePct >= consolidationMaxPct {
			continue
		}

		futHigh, futLow := windowRange(series, i, i+consolidationWindow)
		futurePct := (futHigh - futLow) / refClose
		if futurePct <= expansionMinPct {
			continue
		}

		mid := (consHigh + consLow) / 2
		candidates = append(candidates, Candidate{
			PriceLow:              mid - atr*consolidationBandATR,
			PriceHigh:             mid + atr*consolidationBandATR,
			Touches:               2,
			LastTouch:             series[i].Time,
			Sources:               []string{SourceConsolidationExpansion},
			ConsolidationStrength: futurePct / rangePct,
		})
	}
	return candidates
}

// StructureBreaks finds bars whose close breaks beyond the prior 20-bar
// extreme with a bar body of at least half an ATR. The candidate marks the
// broken level, not the breaking bar.
func StructureBreaks(series market.Series, atr float64) []Candidate {
	var candidates []Candidate

	for i := structureLookback; i < len(series)-5; i++ {
		recentHigh, recentLow := windowRange(series, i-structureLookback, i)
		bar := series[i]

		if bar.Close > recentHigh && bar.Close-bar.Open > atr*structureMinBodyATR {
			candidates = append(candidates, Candidate{
				PriceLow:      recentHigh - atr*structureBandATR,
				PriceHigh:     recentHigh + atr*structureBandATR,
				Touches:       1,
				LastTouch:     bar.Time,
				Sources:       []string{SourceStructureBreak},
				StructureType: StructureBullishBOS,
			})
		}

		if bar.Close < recentLow && bar.Open-bar.Close > atr*structureMinBodyATR {
			candidates = append(candidates, Candidate{
				PriceLow:      recentLow - atr*structureBandATR,
				PriceHigh:     recentLow + atr*structureBandATR,
				Touches:       1,
				LastTouch:     bar.Time,
				Sources:       []string{SourceStructureBreak},
				StructureType: StructureBearishBOS,
			})
		}
	}
	return candidates
}

// volumeQuantile computes the percentile of values with linear interpolation
// between closest ranks. Nearest-rank percentiles land on the tied common
// value in tie-heavy volume distributions, which would let every bar qualify
// as high volume; interpolating places the threshold between the ties and the
// spikes.
func volumeQuantile(values []float64, percentile float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := percentile / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (pos-float64(lower))*(sorted[upper]-sorted[lower])
}

// windowRange returns the highest high and lowest low over series[start:end)
func windowRange(series market.Series, start, end int) (high, low float64) {
	high = series[start].High
	low = series[start].Low
	for i := start + 1; i < end; i++ {
		if series[i].High > high {
			high = series[i].High
		}
		if series[i].Low < low {
			low = series[i].Low
		}
	}
	return high, low
}
