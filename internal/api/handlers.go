package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ridopark/keylevels/internal/config"
	"github.com/ridopark/keylevels/internal/data"
	"github.com/ridopark/keylevels/pkg/levels"
)

// validTimeframes is the whitelist of supported chart timeframes
var validTimeframes = map[string]bool{
	"1d":  true,
	"4h":  true,
	"1h":  true,
	"15m": true,
}

// defaultLookback gives the default lookback in days per timeframe
var defaultLookback = map[string]int{
	"1d":  365,
	"4h":  90,
	"1h":  30,
	"15m": 30,
}

// Handler serves the key-levels HTTP API
type Handler struct {
	cfg      config.Config
	provider data.Provider
	cache    *ResponseCache
	logger   zerolog.Logger
}

// NewHandler creates the API handler
func NewHandler(cfg config.Config, provider data.Provider, cache *ResponseCache, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		provider: provider,
		cache:    cache,
		logger:   logger,
	}
}

// GetData handles GET /api/data: raw OHLCV bars for a ticker
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request) {
	ticker, timeframe, lookback, err := h.commonParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cacheKey := h.cache.Key("data", ticker, timeframe, strconv.Itoa(lookback))
	if cached, ok := h.cache.Get(cacheKey); ok {
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	series, err := h.provider.GetOHLCV(ticker, timeframe, lookback)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := MarketDataResponse{
		Ticker:    ticker,
		Timeframe: timeframe,
		Data:      toOHLCV(series),
		FetchedAt: time.Now(),
	}
	h.cache.Set(cacheKey, resp)
	h.writeJSON(w, http.StatusOK, resp)
}

// GetKeyLevels handles GET /api/keylevels: the deterministic clustering engine
func (h *Handler) GetKeyLevels(w http.ResponseWriter, r *http.Request) {
	ticker, timeframe, lookback, err := h.commonParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	detCfg := levels.DetectorConfig{
		PivotWindow:   h.cfg.PivotWindow,
		ATRPeriod:     h.cfg.ATRPeriod,
		ATRMultiplier: h.cfg.ATRMultiplier,
		MaxZones:      h.cfg.MaxZones,
	}
	if v, ok, err := intQuery(r, "pivot_window"); err != nil {
		h.writeError(w, err)
		return
	} else if ok {
		detCfg.PivotWindow = v
	}
	if v, ok, err := intQuery(r, "max_zones"); err != nil {
		h.writeError(w, err)
		return
	} else if ok {
		detCfg.MaxZones = v
	}

	cacheKey := h.cache.Key("keylevels", ticker, timeframe, strconv.Itoa(lookback),
		strconv.Itoa(detCfg.PivotWindow), strconv.Itoa(detCfg.MaxZones))
	if cached, ok := h.cache.Get(cacheKey); ok {
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	series, err := h.provider.GetOHLCV(ticker, timeframe, lookback)
	if err != nil {
		h.writeError(w, err)
		return
	}

	detector := levels.NewDetector(detCfg)
	zones, err := detector.Detect(series)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if zones == nil {
		zones = []levels.Zone{}
	}

	resp := KeyLevelsResponse{
		Ticker:          ticker,
		Timeframe:       timeframe,
		Lookback:        lookback,
		Zones:           zones,
		ComputedAt:      time.Now(),
		AlgorithmParams: detector.Params(),
	}
	h.cache.Set(cacheKey, resp)
	h.writeJSON(w, http.StatusOK, resp)
}

// GetInstitutional handles GET /api/institutional: the multi-strategy engine
func (h *Handler) GetInstitutional(w http.ResponseWriter, r *http.Request) {
	ticker, timeframe, lookback, err := h.commonParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	instCfg := levels.InstitutionalConfig{
		MinTouches:                h.cfg.MinTouches,
		MinReactionATR:            h.cfg.MinReactionATR,
		VolumeThresholdPercentile: h.cfg.VolumePercentile,
		MaxLevels:                 h.cfg.MaxLevels,
		MergeToleranceATR:         h.cfg.MergeToleranceATR,
		BrokenLevelInvalidation:   true,
		ATRPeriod:                 h.cfg.ATRPeriod,
	}
	if v, ok, err := intQuery(r, "min_touches"); err != nil {
		h.writeError(w, err)
		return
	} else if ok {
		instCfg.MinTouches = v
	}
	if v, ok, err := intQuery(r, "max_levels"); err != nil {
		h.writeError(w, err)
		return
	} else if ok {
		instCfg.MaxLevels = v
	}

	cacheKey := h.cache.Key("institutional", ticker, timeframe, strconv.Itoa(lookback),
		strconv.Itoa(instCfg.MinTouches), strconv.Itoa(instCfg.MaxLevels))
	if cached, ok := h.cache.Get(cacheKey); ok {
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	series, err := h.provider.GetOHLCV(ticker, timeframe, lookback)
	if err != nil {
		h.writeError(w, err)
		return
	}

	engine := levels.NewInstitutional(instCfg)
	zones, err := engine.Detect(series, timeframe)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if zones == nil {
		zones = []levels.Zone{}
	}

	resp := KeyLevelsResponse{
		Ticker:          ticker,
		Timeframe:       timeframe,
		Lookback:        lookback,
		Zones:           zones,
		ComputedAt:      time.Now(),
		AlgorithmParams: engine.Params(),
	}
	h.cache.Set(cacheKey, resp)
	h.writeJSON(w, http.StatusOK, resp)
}

// CreateAlert handles POST /api/alerts. Alerts are acknowledged but not
// persisted; monitoring and notification live outside this service.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid alert body: %v", levels.ErrInvalidParameter, err))
		return
	}
	if req.Ticker == "" || req.ZoneID == "" {
		h.writeError(w, fmt.Errorf("%w: ticker and zone_id are required", levels.ErrInvalidParameter))
		return
	}

	resp := AlertResponse{
		AlertID:   uuid.NewString(),
		Ticker:    strings.ToUpper(req.Ticker),
		ZoneID:    req.ZoneID,
		Status:    "active",
		CreatedAt: time.Now(),
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	})
}

// commonParams extracts and validates the ticker/timeframe/lookback triple
// shared by all data endpoints.
func (h *Handler) commonParams(r *http.Request) (ticker, timeframe string, lookback int, err error) {
	ticker = strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("ticker")))
	if ticker == "" {
		return "", "", 0, fmt.Errorf("%w: ticker is required", levels.ErrInvalidParameter)
	}

	timeframe = r.URL.Query().Get("timeframe")
	if !validTimeframes[timeframe] {
		return "", "", 0, fmt.Errorf("%w: invalid timeframe %q, must be one of: 1d, 4h, 1h, 15m", levels.ErrInvalidParameter, timeframe)
	}

	lookback = defaultLookback[timeframe]
	if v, ok, qerr := intQuery(r, "lookback"); qerr != nil {
		return "", "", 0, qerr
	} else if ok {
		if v <= 0 {
			return "", "", 0, fmt.Errorf("%w: lookback must be positive", levels.ErrInvalidParameter)
		}
		lookback = v
	}
	return ticker, timeframe, lookback, nil
}

func intQuery(r *http.Request, name string) (int, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s must be an integer", levels.ErrInvalidParameter, name)
	}
	return v, true, nil
}

// writeError maps engine failures to client-visible status codes: bad input
// 400, no data 404, anything unexpected 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, levels.ErrInvalidParameter), errors.Is(err, levels.ErrInsufficientData):
		status = http.StatusBadRequest
	case errors.Is(err, levels.ErrEmptySeries):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("Request failed")
	} else {
		h.logger.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
