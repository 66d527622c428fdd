package model

import (
	"encoding/json"
	"time"
)

// IndicatorResult holds a live indicator value for one asset.
type IndicatorResult struct {
	Name    string    `json:"name"` // e.g. "SMA_20", "EMA_12", "RSI_14"
	AssetID string    `json:"asset_id"`
	Value   float64   `json:"value"`
	TS      time.Time `json:"ts"`    // price timestamp that produced this value
	Ready   bool      `json:"ready"` // true when indicator has enough data
	Live    bool      `json:"live"`  // true for previews that did not mutate state
}

// Channel returns the pubsub channel for this result: "pub:ind:{asset}".
func (r *IndicatorResult) Channel() string {
	return "pub:ind:" + r.AssetID
}

// JSON returns the JSON-encoded indicator result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
