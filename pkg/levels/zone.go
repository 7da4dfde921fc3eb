package levels

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// ZoneType classifies a zone relative to the series' last close
type ZoneType string

const (
	ZoneSupport     ZoneType = "support"
	ZoneResistance  ZoneType = "resistance"
	ZonePivot       ZoneType = "pivot"
	ZoneEquilibrium ZoneType = "equilibrium"
)

// Zone is a priced band where the asset has historically shown support or
// resistance. PriceLow <= PriceHigh always holds; Strength is normalized to
// [0,1]. LastTouchTime is a unix timestamp in seconds.
type Zone struct {
	ID            string   `json:"id"`
	Type          ZoneType `json:"type"`
	PriceLow      float64  `json:"price_low"`
	PriceHigh     float64  `json:"price_high"`
	Strength      float64  `json:"strength"`
	Touches       int      `json:"touches"`
	LastTouchTime int64    `json:"last_touch_time"`

	// Confidence is the institutional engine's 0-100 point score; the
	// baseline engine leaves it zero.
	Confidence float64 `json:"confidence,omitempty"`
}

// Center returns the midpoint of the zone's price band
func (z Zone) Center() float64 {
	return (z.PriceLow + z.PriceHigh) / 2
}

// Width returns the height of the zone's price band
func (z Zone) Width() float64 {
	return z.PriceHigh - z.PriceLow
}

// zoneID derives a deterministic fingerprint from the zone's type and price
// center (plus touch count for the baseline engine) so identical inputs
// reproduce identical ids.
func zoneID(zoneType ZoneType, center float64, touches int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%.2f_%d", zoneType, center, touches)))
	return hex.EncodeToString(sum[:])[:12]
}

// levelID is the institutional engine's fingerprint, keyed on type and price
// center only.
func levelID(zoneType ZoneType, center float64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%.2f", zoneType, center)))
	return hex.EncodeToString(sum[:])[:16]
}
