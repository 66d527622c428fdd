package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNonFinitePrice is returned when a price series contains NaN or ±Inf.
var ErrNonFinitePrice = errors.New("non-finite price")

// PricePoint is a single historical observation for one asset.
// Close is the period close; "price" is accepted as an alias on decode.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// UnmarshalJSON accepts either {"close": x} or {"price": x}.
func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp time.Time `json:"timestamp"`
		Close     *float64  `json:"close"`
		Price     *float64  `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Timestamp = raw.Timestamp
	switch {
	case raw.Close != nil:
		p.Close = *raw.Close
	case raw.Price != nil:
		p.Close = *raw.Price
	default:
		return errors.New("price point: missing close/price")
	}
	return nil
}

// Closes extracts the close prices in order.
func Closes(points []PricePoint) []float64 {
	closes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
	}
	return closes
}

// ValidatePrices rejects series containing non-finite values.
// Indicator functions propagate NaN; callers that accept external input
// validate first.
func ValidatePrices(prices []float64) error {
	for i, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("index %d: %w", i, ErrNonFinitePrice)
		}
	}
	return nil
}

// AssetPrice is a price point tagged with its asset, as it flows through
// ingest, the live indicator engine and the history writer.
type AssetPrice struct {
	AssetID string     `json:"asset_id"`
	Point   PricePoint `json:"point"`
}
