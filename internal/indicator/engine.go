package indicator

import (
	"fmt"
	"strconv"
	"strings"

	"investgame/internal/model"
)

// IndicatorConfig specifies a single live indicator to compute.
type IndicatorConfig struct {
	Type   string `json:"type" yaml:"type"` // "SMA", "EMA", "SMMA", "RSI"
	Period int    `json:"period" yaml:"period"`
}

// Key returns "TYPE_PERIOD", the suffix used in result names.
func (c IndicatorConfig) Key() string {
	return c.Type + "_" + strconv.Itoa(c.Period)
}

// DefaultConfigs is the live indicator set the game chart shows.
func DefaultConfigs() []IndicatorConfig {
	return []IndicatorConfig{
		{Type: "SMA", Period: 20},
		{Type: "SMA", Period: 50},
		{Type: "EMA", Period: 12},
		{Type: "EMA", Period: 26},
		{Type: "RSI", Period: DefaultRSIPeriod},
	}
}

// ParseSpecs parses "TYPE:PERIOD,..." into configs. Malformed entries are skipped.
func ParseSpecs(s string) []IndicatorConfig {
	var configs []IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		tokens := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(tokens) != 2 {
			continue
		}
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			continue
		}
		configs = append(configs, IndicatorConfig{
			Type:   strings.ToUpper(strings.TrimSpace(tokens[0])),
			Period: period,
		})
	}
	return configs
}

// ValidateConfigs rejects unknown types, non-positive periods and duplicates.
func ValidateConfigs(configs []IndicatorConfig) error {
	seen := make(map[string]bool, len(configs))
	for _, ind := range configs {
		switch ind.Type {
		case "SMA", "EMA", "SMMA", "RSI":
		default:
			return fmt.Errorf("unknown indicator type %q", ind.Type)
		}
		if ind.Period <= 0 {
			return fmt.Errorf("invalid period=%d for %s", ind.Period, ind.Type)
		}
		if seen[ind.Key()] {
			return fmt.Errorf("duplicate indicator %s", ind.Key())
		}
		seen[ind.Key()] = true
	}
	return nil
}

// assetIndicators holds live indicator instances for one asset.
type assetIndicators struct {
	indicators []Indicator
	configs    []IndicatorConfig
}

// Engine keeps streaming indicators per asset and updates them on each price tick.
// Not safe for concurrent use; callers serialize access.
type Engine struct {
	configs []IndicatorConfig
	state   map[string]*assetIndicators
}

// NewEngine creates an indicator engine with the given indicator configs.
func NewEngine(configs []IndicatorConfig) *Engine {
	return &Engine{
		configs: configs,
		state:   make(map[string]*assetIndicators, 64),
	}
}

// Configs returns the configured indicator set.
func (e *Engine) Configs() []IndicatorConfig { return e.configs }

// Process feeds a new price for assetID into every indicator and returns the
// results (not-ready indicators are included with Ready=false).
func (e *Engine) Process(assetID string, p model.PricePoint) []model.IndicatorResult {
	ai, exists := e.state[assetID]
	if !exists {
		ai = e.createAssetIndicators()
		e.state[assetID] = ai
	}

	results := make([]model.IndicatorResult, 0, len(ai.indicators))
	for i, ind := range ai.indicators {
		ind.Update(p.Close)
		results = append(results, model.IndicatorResult{
			Name:    ai.configs[i].Key(),
			AssetID: assetID,
			Value:   ind.Value(),
			TS:      p.Timestamp,
			Ready:   ind.Ready(),
		})
	}
	return results
}

// ProcessPeek previews indicator values for a price without mutating state.
// Returns nil if the asset hasn't been seen before.
func (e *Engine) ProcessPeek(assetID string, p model.PricePoint) []model.IndicatorResult {
	ai, exists := e.state[assetID]
	if !exists {
		return nil
	}

	results := make([]model.IndicatorResult, 0, len(ai.indicators))
	for i, ind := range ai.indicators {
		results = append(results, model.IndicatorResult{
			Name:    ai.configs[i].Key(),
			AssetID: assetID,
			Value:   ind.Peek(p.Close),
			TS:      p.Timestamp,
			Ready:   ind.Ready(),
			Live:    true,
		})
	}
	return results
}

// Assets returns the ids the engine has state for.
func (e *Engine) Assets() []string {
	ids := make([]string, 0, len(e.state))
	for id := range e.state {
		ids = append(ids, id)
	}
	return ids
}

// createAssetIndicators creates fresh indicator instances for the config set.
func (e *Engine) createAssetIndicators() *assetIndicators {
	inds := make([]Indicator, len(e.configs))
	for i, ic := range e.configs {
		inds[i] = newIndicator(ic)
	}
	return &assetIndicators{
		indicators: inds,
		configs:    e.configs,
	}
}

func newIndicator(ic IndicatorConfig) Indicator {
	switch ic.Type {
	case "EMA":
		return NewEMA(ic.Period)
	case "SMMA":
		return NewSMMA(ic.Period)
	case "RSI":
		return NewRSI(ic.Period)
	default:
		return NewSMA(ic.Period)
	}
}
