package levels

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/ridopark/keylevels/pkg/market"
)

// Institutional engine defaults
const (
	DefaultMinTouches        = 2
	DefaultMinReactionATR    = 1.5
	DefaultVolumePercentile  = 70.0
	DefaultMaxLevels         = 7
	DefaultMergeToleranceATR = 0.5
	institutionalMinBars     = 50
	brokenLevelRespectWindow = 20
	classificationLookback   = 50
	defaultTimeframeWeight   = 0.7
	multiSourceBonus         = 10.0
)

// timeframeWeights scale confidence so higher-timeframe levels outrank
// lower-timeframe ones.
var timeframeWeights = map[string]float64{
	"1d":  1.0,
	"4h":  0.8,
	"1h":  0.6,
	"15m": 0.4,
}

// TimeframeWeight returns the confidence multiplier for a timeframe, or the
// default weight for timeframes outside the known set.
func TimeframeWeight(timeframe string) float64 {
	if w, ok := timeframeWeights[timeframe]; ok {
		return w
	}
	return defaultTimeframeWeight
}

// InstitutionalConfig configures the multi-strategy engine
type InstitutionalConfig struct {
	MinTouches                int     `json:"min_touches"`
	MinReactionATR            float64 `json:"min_reaction_atr"`
	VolumeThresholdPercentile float64 `json:"volume_threshold_percentile"`
	MaxLevels                 int     `json:"max_levels"`
	MergeToleranceATR         float64 `json:"merge_tolerance_atr"`
	BrokenLevelInvalidation   bool    `json:"broken_level_invalidation"`
	ATRPeriod                 int     `json:"atr_period"`
}

// DefaultInstitutionalConfig returns the institutional engine defaults
func DefaultInstitutionalConfig() InstitutionalConfig {
	return InstitutionalConfig{
		MinTouches:                DefaultMinTouches,
		MinReactionATR:            DefaultMinReactionATR,
		VolumeThresholdPercentile: DefaultVolumePercentile,
		MaxLevels:                 DefaultMaxLevels,
		MergeToleranceATR:         DefaultMergeToleranceATR,
		BrokenLevelInvalidation:   true,
		ATRPeriod:                 DefaultATRPeriod,
	}
}

func (c InstitutionalConfig) validate() error {
	if c.MinTouches <= 0 {
		return fmt.Errorf("%w: min touches must be positive, got %d", ErrInvalidParameter, c.MinTouches)
	}
	if c.MinReactionATR <= 0 {
		return fmt.Errorf("%w: min reaction atr must be positive, got %g", ErrInvalidParameter, c.MinReactionATR)
	}
	if c.VolumeThresholdPercentile <= 0 || c.VolumeThresholdPercentile > 100 {
		return fmt.Errorf("%w: volume percentile must be in (0,100], got %g", ErrInvalidParameter, c.VolumeThresholdPercentile)
	}
	if c.MaxLevels <= 0 {
		return fmt.Errorf("%w: max levels must be positive, got %d", ErrInvalidParameter, c.MaxLevels)
	}
	if c.MergeToleranceATR <= 0 {
		return fmt.Errorf("%w: merge tolerance must be positive, got %g", ErrInvalidParameter, c.MergeToleranceATR)
	}
	if c.ATRPeriod <= 0 {
		return fmt.Errorf("%w: atr period must be positive, got %d", ErrInvalidParameter, c.ATRPeriod)
	}
	return nil
}

// Institutional runs four independent candidate generators over the same
// series and collapses their output into a small ranked level set.
//
// Pipeline: generators -> min-touch filter -> broken-level filter -> merge ->
// confidence scoring -> top MaxLevels -> classification.
type Institutional struct {
	cfg InstitutionalConfig
}

// NewInstitutional creates an institutional engine with the given configuration
func NewInstitutional(cfg InstitutionalConfig) *Institutional {
	return &Institutional{cfg: cfg}
}

// Params returns the resolved configuration for auditability and cache key
// derivation.
func (e *Institutional) Params() map[string]any {
	return map[string]any{
		"min_touches":                 e.cfg.MinTouches,
		"min_reaction_atr":            e.cfg.MinReactionATR,
		"volume_threshold_percentile": e.cfg.VolumeThresholdPercentile,
		"max_levels":                  e.cfg.MaxLevels,
		"merge_tolerance_atr":         e.cfg.MergeToleranceATR,
		"broken_level_invalidation":   e.cfg.BrokenLevelInvalidation,
		"algorithm":                   "institutional_key_levels_v1",
	}
}

// Detect runs the multi-strategy pipeline on the series. The timeframe only
// affects the confidence weighting, never which candidates are found.
func (e *Institutional) Detect(series market.Series, timeframe string) ([]Zone, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no bars to analyze", ErrEmptySeries)
	}
	if len(series) < institutionalMinBars {
		return nil, fmt.Errorf("%w: need at least %d bars, got %d", ErrInsufficientData, institutionalMinBars, len(series))
	}

	atr, err := ATR(series, e.cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}

	candidates := e.Candidates(series, atr)
	candidates = filterMinTouches(candidates, e.cfg.MinTouches)
	if e.cfg.BrokenLevelInvalidation {
		candidates = RemoveBrokenLevels(candidates, series)
	}
	merged := MergeCandidates(candidates, atr*e.cfg.MergeToleranceATR)

	zones := e.scoreCandidates(merged, series, TimeframeWeight(timeframe))

	sort.SliceStable(zones, func(i, j int) bool {
		return zones[i].Confidence > zones[j].Confidence
	})
	if len(zones) > e.cfg.MaxLevels {
		zones = zones[:e.cfg.MaxLevels]
	}

	return ClassifyZones(zones, series), nil
}

// Candidates runs all four generators and concatenates their output
func (e *Institutional) Candidates(series market.Series, atr float64) []Candidate {
	var candidates []Candidate
	candidates = append(candidates, VolumeNodes(series, atr, e.cfg.VolumeThresholdPercentile, e.cfg.MergeToleranceATR, e.cfg.MinTouches)...)
	candidates = append(candidates, RejectionZones(series, atr, e.cfg.MinReactionATR)...)
	candidates = append(candidates, ConsolidationExpansion(series, atr)...)
	candidates = append(candidates, StructureBreaks(series, atr)...)
	return candidates
}

func filterMinTouches(candidates []Candidate, minTouches int) []Candidate {
	var kept []Candidate
	for _, c := range candidates {
		if c.Touches >= minTouches {
			kept = append(kept, c)
		}
	}
	return kept
}

// RemoveBrokenLevels drops candidates that price broke decisively and never
// respected again. A break is a bar that fully engulfs the zone; the level
// survives if any of the following 20 bars closes within the zone's own width
// of its midpoint.
func RemoveBrokenLevels(candidates []Candidate, series market.Series) []Candidate {
	var kept []Candidate

	for _, c := range candidates {
		mid := c.Center()
		width := c.PriceHigh - c.PriceLow
		brokeThrough := false
		respectedAfterBreak := false

		for i := range series {
			if series[i].Low < c.PriceLow && series[i].High > c.PriceHigh {
				brokeThrough = true
				if i < len(series)-10 {
					end := i + brokenLevelRespectWindow
					if end > len(series) {
						end = len(series)
					}
					for j := i + 1; j < end; j++ {
						if math.Abs(series[j].Close-mid) < width {
							respectedAfterBreak = true
							break
						}
					}
				}
				break
			}
		}

		if !brokeThrough || respectedAfterBreak {
			kept = append(kept, c)
		}
	}
	return kept
}

// MergeCandidates collapses overlapping candidates into single representative
// zones: candidates are scanned in price-center order and join the running
// cluster while its mean center stays within tolerance of theirs.
func MergeCandidates(candidates []Candidate, tolerance float64) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Center() < sorted[j].Center()
	})

	var merged []Candidate
	cluster := []Candidate{sorted[0]}

	for _, c := range sorted[1:] {
		var centerSum float64
		for _, m := range cluster {
			centerSum += m.Center()
		}
		clusterMid := centerSum / float64(len(cluster))

		if math.Abs(c.Center()-clusterMid) <= tolerance {
			cluster = append(cluster, c)
			continue
		}
		merged = append(merged, mergeCluster(cluster))
		cluster = []Candidate{c}
	}
	merged = append(merged, mergeCluster(cluster))
	return merged
}

func mergeCluster(cluster []Candidate) Candidate {
	if len(cluster) == 1 {
		return cluster[0]
	}

	lows := make([]float64, len(cluster))
	highs := make([]float64, len(cluster))
	totalTouches := 0
	lastTouch := cluster[0].LastTouch
	sourceSet := map[string]bool{}
	var sources []string
	var reactions, volumes []float64

	for i, c := range cluster {
		lows[i] = c.PriceLow
		highs[i] = c.PriceHigh
		totalTouches += c.Touches
		if c.LastTouch.After(lastTouch) {
			lastTouch = c.LastTouch
		}
		for _, s := range c.Sources {
			if !sourceSet[s] {
				sourceSet[s] = true
				sources = append(sources, s)
			}
		}
		if c.HasReaction {
			reactions = append(reactions, c.ReactionStrength)
		}
		if c.HasVolume {
			volumes = append(volumes, c.AvgVolume)
		}
	}

	avgLow, _ := stats.Mean(lows)
	avgHigh, _ := stats.Mean(highs)

	merged := Candidate{
		PriceLow:  avgLow,
		PriceHigh: avgHigh,
		Touches:   totalTouches,
		LastTouch: lastTouch,
		Sources:   sources,
	}
	if len(reactions) > 0 {
		merged.ReactionStrength, _ = stats.Mean(reactions)
		merged.HasReaction = true
	}
	if len(volumes) > 0 {
		merged.AvgVolume, _ = stats.Mean(volumes)
		merged.HasVolume = true
	}
	return merged
}

// scoreCandidates converts merged candidates into zones with a 0-100
// confidence from capped point components, weighted by timeframe.
func (e *Institutional) scoreCandidates(candidates []Candidate, series market.Series, tfWeight float64) []Zone {
	if len(candidates) == 0 {
		return nil
	}

	var meanVolume float64
	for _, bar := range series {
		meanVolume += bar.Volume
	}
	meanVolume /= float64(len(series))

	latest := series.End()
	zones := make([]Zone, 0, len(candidates))

	for _, c := range candidates {
		score := math.Min(float64(c.Touches)*5, 30)

		if c.HasReaction {
			score += math.Min(c.ReactionStrength*5, 25)
		}
		if c.HasVolume && meanVolume > 0 {
			score += math.Min(c.AvgVolume/meanVolume*100/5, 20)
		}

		daysSince := int(latest.Sub(c.LastTouch).Hours() / 24)
		score += math.Max(15-float64(daysSince)/10, 0)

		if len(c.Sources) > 1 {
			score += multiSourceBonus
		}

		score *= tfWeight
		confidence := math.Round(math.Min(score, 100)*10) / 10

		zones = append(zones, Zone{
			PriceLow:      c.PriceLow,
			PriceHigh:     c.PriceHigh,
			Touches:       c.Touches,
			LastTouchTime: c.LastTouch.Unix(),
			Confidence:    confidence,
			Strength:      confidence / 100,
		})
	}
	return zones
}

// ClassifyZones labels each zone support, resistance or equilibrium relative
// to the series' last close and assigns its deterministic id. A zone the last
// close sits inside is equilibrium when the last 50 bars closed on both sides
// of its midpoint within the zone width, otherwise it classifies by which
// side of the midpoint the close is on.
func ClassifyZones(zones []Zone, series market.Series) []Zone {
	currentPrice := series.LastClose()
	start := len(series) - classificationLookback
	if start < 0 {
		start = 0
	}

	classified := make([]Zone, 0, len(zones))
	for _, zone := range zones {
		mid := zone.Center()
		width := zone.Width()

		closesAbove, closesBelow := 0, 0
		for i := start; i < len(series); i++ {
			if math.Abs(series[i].Close-mid) < width {
				if series[i].Close > mid {
					closesAbove++
				} else {
					closesBelow++
				}
			}
		}

		switch {
		case currentPrice > zone.PriceHigh:
			zone.Type = ZoneSupport
		case currentPrice < zone.PriceLow:
			zone.Type = ZoneResistance
		case closesAbove > 0 && closesBelow > 0:
			zone.Type = ZoneEquilibrium
		case currentPrice > mid:
			zone.Type = ZoneSupport
		default:
			zone.Type = ZoneResistance
		}

		zone.ID = levelID(zone.Type, mid)
		classified = append(classified, zone)
	}
	return classified
}
