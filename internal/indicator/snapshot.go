package indicator

import (
	"errors"
	"fmt"
	"log"
)

var (
	errBufferSize   = errors.New("snapshot buffer does not match period")
	errMissingParts = errors.New("snapshot missing component parts")
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot holds the serialized state of a single indicator instance.
type IndicatorSnapshot struct {
	Type   string `json:"type"`   // "SMA", "EMA", "SMMA", "RSI"
	Period int    `json:"period"` // indicator period

	// SMA fields
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI fields; Parts holds the gain and loss SMMAs.
	PrevClose float64             `json:"prev_close,omitempty"`
	AvgGain   float64             `json:"avg_gain,omitempty"`
	AvgLoss   float64             `json:"avg_loss,omitempty"`
	Parts     []IndicatorSnapshot `json:"parts,omitempty"`
}

// AssetSnapshot holds indicator snapshots for a single asset.
type AssetSnapshot struct {
	AssetID    string              `json:"asset_id"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	Assets  []AssetSnapshot `json:"assets"`
	Version int             `json:"version"` // schema version for forward compat
}

// SnapshotEngine captures the full state of an indicator Engine.
func SnapshotEngine(e *Engine) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{Version: 2}

	for assetID, ai := range e.state {
		as := AssetSnapshot{
			AssetID:    assetID,
			Indicators: make([]IndicatorSnapshot, 0, len(ai.indicators)),
		}
		for _, ind := range ai.indicators {
			si, ok := ind.(Snapshottable)
			if !ok {
				return nil, fmt.Errorf("indicator %s does not implement Snapshottable", ind.Name())
			}
			as.Indicators = append(as.Indicators, si.Snapshot())
		}
		snap.Assets = append(snap.Assets, as)
	}

	return snap, nil
}

// RestoreEngine rebuilds an indicator Engine from a snapshot.
// It is tolerant of config changes: indicators are matched by Type+Period
// rather than by index. Matching indicators get their state restored; new
// indicators start cold. Removed indicators are skipped. A nil snapshot
// yields a fresh engine.
func RestoreEngine(configs []IndicatorConfig, snap *EngineSnapshot) *Engine {
	e := NewEngine(configs)
	if snap == nil {
		return e
	}

	for _, as := range snap.Assets {
		ai := e.createAssetIndicators()

		snapLookup := make(map[string]IndicatorSnapshot, len(as.Indicators))
		for _, indSnap := range as.Indicators {
			snapLookup[IndicatorConfig{Type: indSnap.Type, Period: indSnap.Period}.Key()] = indSnap
		}

		restored, cold := 0, 0
		for i, ind := range ai.indicators {
			indSnap, found := snapLookup[ai.configs[i].Key()]
			if !found {
				cold++
				continue
			}
			si, ok := ind.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := si.RestoreFromSnapshot(indSnap); err != nil {
				// Non-fatal: rebuild cold
				ai.indicators[i] = newIndicator(ai.configs[i])
				cold++
				continue
			}
			restored++
		}

		if cold > 0 {
			log.Printf("[restorer] asset=%s: restored %d, cold-started %d indicators",
				as.AssetID, restored, cold)
		}
		e.state[as.AssetID] = ai
	}

	return e
}
