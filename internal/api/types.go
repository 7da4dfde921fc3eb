package api

import (
	"time"

	"github.com/ridopark/keylevels/pkg/levels"
	"github.com/ridopark/keylevels/pkg/market"
)

// OHLCVData is one candlestick on the wire, with a unix timestamp in seconds
type OHLCVData struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// MarketDataResponse is the payload for GET /api/data
type MarketDataResponse struct {
	Ticker    string      `json:"ticker"`
	Timeframe string      `json:"timeframe"`
	Data      []OHLCVData `json:"data"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// KeyLevelsResponse is the payload for both level endpoints. AlgorithmParams
// echoes the resolved configuration for auditability.
type KeyLevelsResponse struct {
	Ticker          string         `json:"ticker"`
	Timeframe       string         `json:"timeframe"`
	Lookback        int            `json:"lookback"`
	Zones           []levels.Zone  `json:"zones"`
	ComputedAt      time.Time      `json:"computed_at"`
	AlgorithmParams map[string]any `json:"algorithm_params"`
}

// AlertRequest is the body for POST /api/alerts
type AlertRequest struct {
	Ticker       string `json:"ticker"`
	Timeframe    string `json:"timeframe"`
	ZoneID       string `json:"zone_id"`
	Direction    string `json:"direction"` // "enter" or "exit"
	NotifyEmail  bool   `json:"notify_email"`
	WebhookURL   string `json:"webhook_url,omitempty"`
}

// AlertResponse acknowledges an alert registration
type AlertResponse struct {
	AlertID   string    `json:"alert_id"`
	Ticker    string    `json:"ticker"`
	ZoneID    string    `json:"zone_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the JSON body for all error statuses
type ErrorResponse struct {
	Error string `json:"error"`
}

func toOHLCV(series market.Series) []OHLCVData {
	out := make([]OHLCVData, len(series))
	for i, bar := range series {
		out[i] = OHLCVData{
			Time:   bar.Time.Unix(),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		}
	}
	return out
}
