package levels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridopark/keylevels/pkg/market"
)

// rangeSeries returns n bars oscillating inside [price-0.5, price+0.5]
func rangeSeries(n int, price, volume float64) market.Series {
	series := make(market.Series, n)
	for i := range series {
		series[i] = bar(i, price, price+0.5, price-0.5, price, volume)
	}
	return series
}

func TestVolumeNodes(t *testing.T) {
	t.Run("clusters high-volume bars at a shared price", func(t *testing.T) {
		series := rangeSeries(60, 100, 1000)
		series[10].Volume = 10000
		series[20].Volume = 10000
		series[30].Volume = 10000

		candidates := VolumeNodes(series, 1.0, 95, 0.5, 2)
		require.Len(t, candidates, 1)

		c := candidates[0]
		assert.Equal(t, 3, c.Touches)
		assert.Equal(t, []string{SourceVolumeNode}, c.Sources)
		assert.True(t, c.HasVolume)
		assert.InDelta(t, 10000, c.AvgVolume, 1e-9)
		assert.InDelta(t, 99.7, c.PriceLow, 1e-9)
		assert.InDelta(t, 100.3, c.PriceHigh, 1e-9)
		assert.Equal(t, series[30].Time, c.LastTouch)
	})

	t.Run("threshold interpolates between ranks on tie-heavy volumes", func(t *testing.T) {
		// 57 bars share the common volume and 3 spike. A nearest-rank
		// percentile would land on the tied 1000 and admit every bar; the
		// interpolated threshold falls between the ties and the spikes.
		volumes := make([]float64, 60)
		for i := range volumes {
			volumes[i] = 1000
		}
		volumes[10], volumes[20], volumes[30] = 10000, 10000, 10000

		threshold := volumeQuantile(volumes, 95)
		assert.InDelta(t, 1450.0, threshold, 1e-9)
		assert.Greater(t, threshold, 1000.0)
	})

	t.Run("uniform volumes select every bar into one node", func(t *testing.T) {
		series := rangeSeries(60, 100, 1000)
		candidates := VolumeNodes(series, 1.0, 95, 0.5, 2)
		require.Len(t, candidates, 1)
		assert.Equal(t, 60, candidates[0].Touches)
	})

	t.Run("clusters below min touches are discarded", func(t *testing.T) {
		series := rangeSeries(60, 100, 1000)
		series[10].Volume = 10000
		series[20].Volume = 10000
		series[30].Volume = 10000

		candidates := VolumeNodes(series, 1.0, 95, 0.5, 4)
		assert.Empty(t, candidates)
	})
}

func TestRejectionZones(t *testing.T) {
	t.Run("sharp bounce off a swing low becomes a candidate", func(t *testing.T) {
		series := flatSeries(30, 100, 1000)
		series[10].Low = 95
		series[10].Open = 99

		candidates := RejectionZones(series, 1.0, 1.5)
		require.Len(t, candidates, 1)

		c := candidates[0]
		assert.Equal(t, 1, c.Touches)
		assert.Equal(t, []string{SourceRejectionLow}, c.Sources)
		assert.True(t, c.HasReaction)
		assert.InDelta(t, 5.0, c.ReactionStrength, 1e-9) // 5 point move / 1.0 ATR
		assert.Equal(t, series[10].Time, c.LastTouch)
	})

	t.Run("weak reactions are ignored", func(t *testing.T) {
		series := flatSeries(30, 100, 1000)
		series[10].Low = 99
		series[10].Open = 99.5

		candidates := RejectionZones(series, 1.0, 1.5)
		assert.Empty(t, candidates)
	})
}

func TestConsolidationExpansion(t *testing.T) {
	// 20 tight bars (1% range) followed by a 20-point ramp (~20% range).
	series := make(market.Series, 41)
	for i := 0; i < 20; i++ {
		series[i] = bar(i, 100, 100.5, 99.5, 100, 1000)
	}
	for i := 20; i < 41; i++ {
		price := 100 + float64(i-20)
		series[i] = bar(i, price, price+0.5, price-0.5, price, 1000)
	}

	candidates := ConsolidationExpansion(series, 1.0)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, 2, c.Touches)
	assert.Equal(t, []string{SourceConsolidationExpansion}, c.Sources)
	assert.InDelta(t, 99.6, c.PriceLow, 1e-9)  // consolidation mid 100 - 0.4 ATR
	assert.InDelta(t, 100.4, c.PriceHigh, 1e-9)
	assert.Greater(t, c.ConsolidationStrength, 1.0)
}

func TestStructureBreaks(t *testing.T) {
	t.Run("strong close above the prior high marks the broken level", func(t *testing.T) {
		series := rangeSeries(31, 100, 1000)
		series[25] = bar(25, 100, 103.5, 99.5, 103, 1000)

		candidates := StructureBreaks(series, 1.0)
		require.Len(t, candidates, 1)

		c := candidates[0]
		assert.Equal(t, StructureBullishBOS, c.StructureType)
		assert.Equal(t, 1, c.Touches)
		// Zone sits on the broken 20-bar high, not on the breaking bar.
		assert.InDelta(t, 100.5, c.Center(), 1e-9)
	})

	t.Run("weak-bodied breaks are ignored", func(t *testing.T) {
		series := rangeSeries(31, 100, 1000)
		series[25] = bar(25, 100.6, 100.9, 100.5, 100.8, 1000)

		candidates := StructureBreaks(series, 1.0)
		assert.Empty(t, candidates)
	})
}

func TestRemoveBrokenLevels(t *testing.T) {
	zone := Candidate{PriceLow: 99, PriceHigh: 101, Touches: 2, Sources: []string{SourceVolumeNode}}

	t.Run("never-broken levels survive", func(t *testing.T) {
		series := rangeSeries(30, 110, 1000)
		kept := RemoveBrokenLevels([]Candidate{zone}, series)
		assert.Len(t, kept, 1)
	})

	t.Run("cleanly broken and abandoned levels are dropped", func(t *testing.T) {
		series := rangeSeries(30, 110, 1000)
		series[5] = bar(5, 110, 111, 98, 110, 1000) // engulfs the zone
		kept := RemoveBrokenLevels([]Candidate{zone}, series)
		assert.Empty(t, kept)
	})

	t.Run("broken levels respected afterwards survive", func(t *testing.T) {
		series := rangeSeries(30, 110, 1000)
		series[5] = bar(5, 110, 111, 98, 110, 1000)
		series[8] = bar(8, 100, 100.5, 99.5, 100, 1000) // closes back inside the zone width
		kept := RemoveBrokenLevels([]Candidate{zone}, series)
		assert.Len(t, kept, 1)
	})
}

func TestMergeCandidates(t *testing.T) {
	a := Candidate{
		PriceLow: 99.7, PriceHigh: 100.3, Touches: 2,
		LastTouch: testStart.Add(time.Hour),
		Sources:   []string{SourceVolumeNode},
		AvgVolume: 5000, HasVolume: true,
	}
	b := Candidate{
		PriceLow: 100.2, PriceHigh: 100.8, Touches: 1,
		LastTouch:        testStart.Add(5 * time.Hour),
		Sources:          []string{SourceRejectionHigh},
		ReactionStrength: 3.0, HasReaction: true,
	}
	far := Candidate{
		PriceLow: 199.5, PriceHigh: 200.5, Touches: 1,
		LastTouch: testStart,
		Sources:   []string{SourceStructureBreak},
	}

	merged := MergeCandidates([]Candidate{a, b, far}, 1.0)
	require.Len(t, merged, 2)

	m := merged[0]
	assert.Equal(t, 3, m.Touches)
	assert.InDelta(t, 99.95, m.PriceLow, 1e-9)
	assert.InDelta(t, 100.55, m.PriceHigh, 1e-9)
	assert.ElementsMatch(t, []string{SourceVolumeNode, SourceRejectionHigh}, m.Sources)
	assert.Equal(t, b.LastTouch, m.LastTouch)
	assert.True(t, m.HasVolume)
	assert.InDelta(t, 5000, m.AvgVolume, 1e-9)
	assert.True(t, m.HasReaction)
	assert.InDelta(t, 3.0, m.ReactionStrength, 1e-9)

	// The far candidate passes through untouched.
	assert.Equal(t, far.Touches, merged[1].Touches)
}

func TestClassifyZones(t *testing.T) {
	series := rangeSeries(60, 100, 1000) // last close 100

	t.Run("zone below the last close is support", func(t *testing.T) {
		zones := ClassifyZones([]Zone{{PriceLow: 89, PriceHigh: 91}}, series)
		require.Len(t, zones, 1)
		assert.Equal(t, ZoneSupport, zones[0].Type)
		assert.NotEmpty(t, zones[0].ID)
	})

	t.Run("zone above the last close is resistance", func(t *testing.T) {
		zones := ClassifyZones([]Zone{{PriceLow: 109, PriceHigh: 111}}, series)
		require.Len(t, zones, 1)
		assert.Equal(t, ZoneResistance, zones[0].Type)
	})

	t.Run("straddled zone with closes on both sides is equilibrium", func(t *testing.T) {
		straddled := rangeSeries(60, 100, 1000)
		for i := range straddled {
			if i%2 == 0 {
				straddled[i].Close = 100.4
			} else {
				straddled[i].Close = 99.6
			}
		}
		zones := ClassifyZones([]Zone{{PriceLow: 99, PriceHigh: 101}}, straddled)
		require.Len(t, zones, 1)
		assert.Equal(t, ZoneEquilibrium, zones[0].Type)
	})
}

func TestTimeframeWeight(t *testing.T) {
	assert.Equal(t, 1.0, TimeframeWeight("1d"))
	assert.Equal(t, 0.8, TimeframeWeight("4h"))
	assert.Equal(t, 0.6, TimeframeWeight("1h"))
	assert.Equal(t, 0.4, TimeframeWeight("15m"))
	assert.Equal(t, 0.7, TimeframeWeight("2h"))
}

func TestInstitutionalDetect(t *testing.T) {
	// Oscillating series with volume spikes at the crests gives every
	// generator something to work with.
	buildSeries := func() market.Series {
		series := waveSeries(150, 100, 5)
		for i := 10; i < len(series); i += 19 {
			series[i].Volume = 9000
		}
		return series
	}

	t.Run("rejects empty series", func(t *testing.T) {
		_, err := NewInstitutional(DefaultInstitutionalConfig()).Detect(nil, "1d")
		assert.ErrorIs(t, err, ErrEmptySeries)
	})

	t.Run("rejects series under fifty bars", func(t *testing.T) {
		_, err := NewInstitutional(DefaultInstitutionalConfig()).Detect(waveSeries(49, 100, 5), "1d")
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		cfg := DefaultInstitutionalConfig()
		cfg.MinTouches = 0
		_, err := NewInstitutional(cfg).Detect(buildSeries(), "1d")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("repeated invocations are bit-identical", func(t *testing.T) {
		engine := NewInstitutional(DefaultInstitutionalConfig())
		series := buildSeries()
		first, err := engine.Detect(series, "1d")
		require.NoError(t, err)
		second, err := engine.Detect(series, "1d")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("output zones satisfy bounds and cardinality", func(t *testing.T) {
		cfg := DefaultInstitutionalConfig()
		cfg.MaxLevels = 4
		zones, err := NewInstitutional(cfg).Detect(buildSeries(), "1d")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(zones), 4)
		for _, z := range zones {
			assert.LessOrEqual(t, z.PriceLow, z.PriceHigh)
			assert.GreaterOrEqual(t, z.Strength, 0.0)
			assert.LessOrEqual(t, z.Strength, 1.0)
			assert.GreaterOrEqual(t, z.Confidence, 0.0)
			assert.LessOrEqual(t, z.Confidence, 100.0)
			assert.GreaterOrEqual(t, z.Touches, 1)
		}
	})

	t.Run("classification is consistent with the last close", func(t *testing.T) {
		series := buildSeries()
		zones, err := NewInstitutional(DefaultInstitutionalConfig()).Detect(series, "1d")
		require.NoError(t, err)
		lastClose := series.LastClose()
		for _, z := range zones {
			if lastClose > z.PriceHigh {
				assert.Equal(t, ZoneSupport, z.Type)
			}
			if lastClose < z.PriceLow {
				assert.Equal(t, ZoneResistance, z.Type)
			}
		}
	})

	t.Run("lower timeframes never score higher confidence", func(t *testing.T) {
		engine := NewInstitutional(DefaultInstitutionalConfig())
		series := buildSeries()
		daily, err := engine.Detect(series, "1d")
		require.NoError(t, err)
		hourly, err := engine.Detect(series, "1h")
		require.NoError(t, err)
		require.Equal(t, len(daily), len(hourly))
		for i := range daily {
			assert.LessOrEqual(t, hourly[i].Confidence, daily[i].Confidence)
		}
	})

	t.Run("raising min touches never increases the candidate count", func(t *testing.T) {
		series := buildSeries()
		atr, err := ATR(series, DefaultATRPeriod)
		require.NoError(t, err)

		prev := -1
		for minTouches := 1; minTouches <= 4; minTouches++ {
			cfg := DefaultInstitutionalConfig()
			cfg.MinTouches = minTouches
			engine := NewInstitutional(cfg)
			count := len(filterMinTouches(engine.Candidates(series, atr), minTouches))
			if prev >= 0 {
				assert.LessOrEqual(t, count, prev)
			}
			prev = count
		}
	})
}
