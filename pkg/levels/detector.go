package levels

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/ridopark/keylevels/pkg/market"
)

// Baseline engine defaults
const (
	DefaultPivotWindow   = 3
	DefaultATRPeriod     = 14
	DefaultATRMultiplier = 0.3
	DefaultMaxZones      = 6

	// reactionLookahead is how many bars after a touch the scorer inspects
	// for the excursion away from the zone.
	reactionLookahead = 5

	// fullReactionFraction is the move-away fraction of zone-center price that
	// counts as full reaction strength. Tunable, not load-bearing.
	fullReactionFraction = 0.05

	// flatSeriesRecency is the recency score used when the series spans zero
	// time and exponential decay is undefined. Tunable, not load-bearing.
	flatSeriesRecency = 0.5
)

// DetectorConfig configures the deterministic clustering detector
type DetectorConfig struct {
	PivotWindow   int     `json:"pivot_window"`
	ATRPeriod     int     `json:"atr_period"`
	ATRMultiplier float64 `json:"atr_multiplier"`
	MaxZones      int     `json:"max_zones"`
}

// DefaultDetectorConfig returns the baseline engine defaults
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PivotWindow:   DefaultPivotWindow,
		ATRPeriod:     DefaultATRPeriod,
		ATRMultiplier: DefaultATRMultiplier,
		MaxZones:      DefaultMaxZones,
	}
}

func (c DetectorConfig) validate() error {
	if c.PivotWindow <= 0 {
		return fmt.Errorf("%w: pivot window must be positive, got %d", ErrInvalidParameter, c.PivotWindow)
	}
	if c.ATRPeriod <= 0 {
		return fmt.Errorf("%w: atr period must be positive, got %d", ErrInvalidParameter, c.ATRPeriod)
	}
	if c.ATRMultiplier <= 0 {
		return fmt.Errorf("%w: atr multiplier must be positive, got %g", ErrInvalidParameter, c.ATRMultiplier)
	}
	if c.MaxZones <= 0 {
		return fmt.Errorf("%w: max zones must be positive, got %d", ErrInvalidParameter, c.MaxZones)
	}
	return nil
}

// MinBars returns the minimum series length the detector accepts: enough bars
// for pivots on both edges plus a full ATR window.
func (c DetectorConfig) MinBars() int {
	return c.PivotWindow*2 + c.ATRPeriod
}

// Detector finds key support/resistance zones by clustering pivot fractals.
//
// Pipeline: ATR -> pivot highs/lows -> price-proximity clustering -> scoring
// by touches, reaction magnitude and recency -> top MaxZones.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a detector with the given configuration
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Params returns the resolved configuration for auditability and cache key
// derivation.
func (d *Detector) Params() map[string]any {
	return map[string]any{
		"pivot_window":   d.cfg.PivotWindow,
		"atr_period":     d.cfg.ATRPeriod,
		"atr_multiplier": d.cfg.ATRMultiplier,
		"max_zones":      d.cfg.MaxZones,
	}
}

// Detect runs the detection pipeline on the series and returns the ranked
// zones, strongest first. The computation is a pure function of its inputs.
func (d *Detector) Detect(series market.Series) ([]Zone, error) {
	if err := d.cfg.validate(); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no bars to analyze", ErrEmptySeries)
	}
	if len(series) < d.cfg.MinBars() {
		return nil, fmt.Errorf("%w: need at least %d bars, got %d", ErrInsufficientData, d.cfg.MinBars(), len(series))
	}

	atr, err := ATR(series, d.cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	tolerance := atr * d.cfg.ATRMultiplier

	resistance := clusterPivots(FindPivotHighs(series, d.cfg.PivotWindow), tolerance, ZoneResistance)
	support := clusterPivots(FindPivotLows(series, d.cfg.PivotWindow), tolerance, ZoneSupport)

	zones := append(resistance, support...)
	d.scoreZones(zones, series)

	// Stable sort keeps insertion order on equal strengths.
	sort.SliceStable(zones, func(i, j int) bool {
		return zones[i].Strength > zones[j].Strength
	})
	if len(zones) > d.cfg.MaxZones {
		zones = zones[:d.cfg.MaxZones]
	}
	return zones, nil
}

// clusterPivots groups price-sorted pivots into zones with single-linkage:
// a pivot joins the running cluster while its gap to the previous pivot in
// price order stays within tolerance.
func clusterPivots(pivots []Pivot, tolerance float64, zoneType ZoneType) []Zone {
	if len(pivots) == 0 {
		return nil
	}

	sorted := make([]Pivot, len(pivots))
	copy(sorted, pivots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price < sorted[j].Price
	})

	var zones []Zone
	cluster := []Pivot{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if math.Abs(sorted[i].Price-sorted[i-1].Price) <= tolerance {
			cluster = append(cluster, sorted[i])
			continue
		}
		zones = append(zones, zoneFromCluster(cluster, tolerance, zoneType))
		cluster = []Pivot{sorted[i]}
	}
	zones = append(zones, zoneFromCluster(cluster, tolerance, zoneType))
	return zones
}

func zoneFromCluster(cluster []Pivot, tolerance float64, zoneType ZoneType) Zone {
	prices := make([]float64, len(cluster))
	lastTouch := cluster[0].Time
	for i, p := range cluster {
		prices[i] = p.Price
		if p.Time.After(lastTouch) {
			lastTouch = p.Time
		}
	}
	center, _ := stats.Mean(prices)

	return Zone{
		ID:            zoneID(zoneType, center, len(cluster)),
		Type:          zoneType,
		PriceLow:      center - tolerance/2,
		PriceHigh:     center + tolerance/2,
		Touches:       len(cluster),
		LastTouchTime: lastTouch.Unix(),
	}
}

// scoreZones assigns each zone a strength in [0,1]:
// 0.4*touchScore + 0.3*reactionScore + 0.3*recencyScore.
func (d *Detector) scoreZones(zones []Zone, series market.Series) {
	if len(zones) == 0 {
		return
	}

	maxTouches := 0
	for _, z := range zones {
		if z.Touches > maxTouches {
			maxTouches = z.Touches
		}
	}

	currentTime := series.End().Unix()
	timeRange := currentTime - series.Start().Unix()

	for i := range zones {
		zone := &zones[i]

		touchScore := 0.0
		if maxTouches > 0 {
			touchScore = float64(zone.Touches) / float64(maxTouches)
		}

		recencyScore := flatSeriesRecency
		if timeRange > 0 {
			timeDiff := float64(currentTime - zone.LastTouchTime)
			recencyScore = math.Exp(-timeDiff / (float64(timeRange) / 2))
		}

		reactionScore := reactionStrength(*zone, series)

		strength := 0.4*touchScore + 0.3*reactionScore + 0.3*recencyScore
		zone.Strength = math.Min(1.0, math.Max(0.0, strength))
	}
}

// reactionStrength measures how strongly price moved away from the zone in
// the bars following each touch: the most favorable excursion within the
// lookahead window, as a fraction of zone-center price, averaged over all
// touching bars and normalized so a 5% move scores full strength. Zones no
// bar ever touched score zero.
func reactionStrength(zone Zone, series market.Series) float64 {
	center := zone.Center()
	var reactions []float64

	for i, bar := range series {
		touched := (zone.PriceLow <= bar.Low && bar.Low <= zone.PriceHigh) ||
			(zone.PriceLow <= bar.High && bar.High <= zone.PriceHigh)
		if !touched {
			continue
		}

		lookahead := reactionLookahead
		if remaining := len(series) - i - 1; remaining < lookahead {
			lookahead = remaining
		}
		if lookahead <= 0 {
			continue
		}

		future := series[i+1 : i+1+lookahead]
		var reaction float64
		if zone.Type == ZoneSupport {
			maxHigh := future[0].High
			for _, f := range future[1:] {
				if f.High > maxHigh {
					maxHigh = f.High
				}
			}
			reaction = (maxHigh - center) / center
		} else {
			minLow := future[0].Low
			for _, f := range future[1:] {
				if f.Low < minLow {
					minLow = f.Low
				}
			}
			reaction = (center - minLow) / center
		}
		reactions = append(reactions, math.Abs(reaction))
	}

	if len(reactions) == 0 {
		return 0
	}
	avg, _ := stats.Mean(reactions)
	return math.Min(1.0, avg/fullReactionFraction)
}
