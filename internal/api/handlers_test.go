package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridopark/keylevels/internal/config"
	"github.com/ridopark/keylevels/pkg/levels"
	"github.com/ridopark/keylevels/pkg/market"
)

type stubProvider struct {
	series market.Series
	err    error
	calls  int
}

func (s *stubProvider) GetOHLCV(ticker, timeframe string, lookbackDays int) (market.Series, error) {
	s.calls++
	return s.series, s.err
}

func (s *stubProvider) Name() string { return "stub" }

// testSeries oscillates around 100 so both engines find real structure
func testSeries(n int) market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make(market.Series, n)
	for i := range series {
		mid := 100 + 5*math.Sin(float64(i)/3)
		series[i] = market.Bar{
			Time:   start.Add(time.Duration(i) * 24 * time.Hour),
			Open:   mid - 0.1,
			High:   mid + 0.3,
			Low:    mid - 0.3,
			Close:  mid + 0.1,
			Volume: 1000 + float64(i),
		}
	}
	return series
}

func testConfig() config.Config {
	return config.Config{
		PivotWindow:   3,
		ATRPeriod:     14,
		ATRMultiplier: 0.3,
		MaxZones:      6,

		MinTouches:        2,
		MinReactionATR:    1.5,
		VolumePercentile:  70,
		MaxLevels:         7,
		MergeToleranceATR: 0.5,
	}
}

func newTestHandler(provider *stubProvider) *Handler {
	return NewHandler(testConfig(), provider, NewResponseCache(time.Minute), zerolog.Nop())
}

func doGet(t *testing.T, handlerFunc http.HandlerFunc, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handlerFunc(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestCommonParamValidation(t *testing.T) {
	handler := newTestHandler(&stubProvider{series: testSeries(120)})

	t.Run("missing ticker is a 400", func(t *testing.T) {
		rec := doGet(t, handler.GetData, "/api/data?timeframe=1d")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Contains(t, body.Error, "ticker is required")
	})

	t.Run("unsupported timeframe is a 400", func(t *testing.T) {
		rec := doGet(t, handler.GetData, "/api/data?ticker=TSLA&timeframe=5m")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-positive lookback is a 400", func(t *testing.T) {
		rec := doGet(t, handler.GetData, "/api/data?ticker=TSLA&timeframe=1d&lookback=0")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-integer override is a 400", func(t *testing.T) {
		rec := doGet(t, handler.GetKeyLevels, "/api/keylevels?ticker=TSLA&timeframe=1d&pivot_window=abc")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetData(t *testing.T) {
	t.Run("returns bars with the ticker uppercased", func(t *testing.T) {
		provider := &stubProvider{series: testSeries(30)}
		handler := newTestHandler(provider)

		rec := doGet(t, handler.GetData, "/api/data?ticker=tsla&timeframe=1d")
		require.Equal(t, http.StatusOK, rec.Code)

		var body MarketDataResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "TSLA", body.Ticker)
		assert.Equal(t, "1d", body.Timeframe)
		assert.Len(t, body.Data, 30)
	})

	t.Run("missing data maps to 404", func(t *testing.T) {
		provider := &stubProvider{err: fmt.Errorf("%w: nothing for ticker", levels.ErrEmptySeries)}
		handler := newTestHandler(provider)

		rec := doGet(t, handler.GetData, "/api/data?ticker=NOPE&timeframe=1d")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("provider failures map to 500", func(t *testing.T) {
		provider := &stubProvider{err: errors.New("connection refused")}
		handler := newTestHandler(provider)

		rec := doGet(t, handler.GetData, "/api/data?ticker=TSLA&timeframe=1d")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetKeyLevels(t *testing.T) {
	t.Run("returns ranked zones and echoes resolved parameters", func(t *testing.T) {
		provider := &stubProvider{series: testSeries(120)}
		handler := newTestHandler(provider)

		rec := doGet(t, handler.GetKeyLevels, "/api/keylevels?ticker=TSLA&timeframe=1d&pivot_window=4&max_zones=3")
		require.Equal(t, http.StatusOK, rec.Code)

		var body KeyLevelsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "TSLA", body.Ticker)
		assert.Equal(t, 365, body.Lookback) // default for 1d
		assert.LessOrEqual(t, len(body.Zones), 3)
		assert.EqualValues(t, 4, body.AlgorithmParams["pivot_window"])
		assert.EqualValues(t, 3, body.AlgorithmParams["max_zones"])
		for i := 1; i < len(body.Zones); i++ {
			assert.GreaterOrEqual(t, body.Zones[i-1].Strength, body.Zones[i].Strength)
		}
	})

	t.Run("insufficient bars map to 400", func(t *testing.T) {
		provider := &stubProvider{series: testSeries(5)}
		handler := newTestHandler(provider)

		rec := doGet(t, handler.GetKeyLevels, "/api/keylevels?ticker=TSLA&timeframe=1d")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("repeat requests are served from cache", func(t *testing.T) {
		provider := &stubProvider{series: testSeries(120)}
		handler := newTestHandler(provider)

		first := doGet(t, handler.GetKeyLevels, "/api/keylevels?ticker=TSLA&timeframe=1d")
		require.Equal(t, http.StatusOK, first.Code)
		second := doGet(t, handler.GetKeyLevels, "/api/keylevels?ticker=TSLA&timeframe=1d")
		require.Equal(t, http.StatusOK, second.Code)

		assert.Equal(t, 1, provider.calls)
		assert.JSONEq(t, first.Body.String(), second.Body.String())
	})

	t.Run("different parameters bypass the cache", func(t *testing.T) {
		provider := &stubProvider{series: testSeries(120)}
		handler := newTestHandler(provider)

		doGet(t, handler.GetKeyLevels, "/api/keylevels?ticker=TSLA&timeframe=1d")
		doGet(t, handler.GetKeyLevels, "/api/keylevels?ticker=TSLA&timeframe=1d&max_zones=2")
		assert.Equal(t, 2, provider.calls)
	})
}

func TestGetInstitutional(t *testing.T) {
	t.Run("returns classified zones capped at max levels", func(t *testing.T) {
		provider := &stubProvider{series: testSeries(150)}
		handler := newTestHandler(provider)

		rec := doGet(t, handler.GetInstitutional, "/api/institutional?ticker=TSLA&timeframe=1d&max_levels=4")
		require.Equal(t, http.StatusOK, rec.Code)

		var body KeyLevelsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.LessOrEqual(t, len(body.Zones), 4)
		assert.EqualValues(t, 4, body.AlgorithmParams["max_levels"])
		assert.Equal(t, "institutional_key_levels_v1", body.AlgorithmParams["algorithm"])
		for _, z := range body.Zones {
			assert.LessOrEqual(t, z.Confidence, 100.0)
			assert.NotEmpty(t, z.ID)
		}
	})

	t.Run("under fifty bars maps to 400", func(t *testing.T) {
		provider := &stubProvider{series: testSeries(49)}
		handler := newTestHandler(provider)

		rec := doGet(t, handler.GetInstitutional, "/api/institutional?ticker=TSLA&timeframe=1d")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateAlert(t *testing.T) {
	handler := newTestHandler(&stubProvider{})

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/alerts", strings.NewReader(body))
		handler.CreateAlert(rec, req)
		return rec
	}

	t.Run("registers an alert", func(t *testing.T) {
		rec := post(`{"ticker":"tsla","timeframe":"1d","zone_id":"abc123","direction":"enter"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var body AlertResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.NotEmpty(t, body.AlertID)
		assert.Equal(t, "TSLA", body.Ticker)
		assert.Equal(t, "abc123", body.ZoneID)
		assert.Equal(t, "active", body.Status)
	})

	t.Run("missing zone id is a 400", func(t *testing.T) {
		rec := post(`{"ticker":"TSLA"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		rec := post(`{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(&stubProvider{})

	rec := doGet(t, handler.Health, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}
