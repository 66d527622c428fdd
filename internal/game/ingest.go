package game

import (
	"context"
	"fmt"
	"math"
	"time"

	"investgame/internal/metrics"
	"investgame/internal/model"
	"investgame/internal/portfolio"
)

// IngestResult reports what one price point changed.
type IngestResult struct {
	Indicators   []model.IndicatorResult `json:"indicators"`
	Liquidations []portfolio.Settlement  `json:"liquidations"`
}

func validatePoint(p model.AssetPrice) error {
	if p.AssetID == "" {
		return fmt.Errorf("%w: asset id required", portfolio.ErrInvalidOrder)
	}
	c := p.Point.Close
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return model.ErrNonFinitePrice
	}
	if c <= 0 {
		return fmt.Errorf("%w: price must be positive", portfolio.ErrInvalidOrder)
	}
	return nil
}

// IngestPrice appends a price to history, advances the live engine, pushes
// the indicator results, and liquidates every position the new price puts
// underwater. A zero timestamp is stamped with the current time.
func (svc *Service) IngestPrice(ctx context.Context, p model.AssetPrice) (IngestResult, error) {
	if err := validatePoint(p); err != nil {
		svc.prom.PriceRejected.Inc()
		return IngestResult{}, err
	}
	if p.Point.Timestamp.IsZero() {
		p.Point.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	if err := svc.store.AppendPrice(ctx, p); err != nil {
		return IngestResult{}, fmt.Errorf("append price: %w", err)
	}
	metrics.ObserveSince(svc.prom.SQLiteWriteDur, start)

	svc.mu.Lock()
	start = time.Now()
	results := svc.engine.Process(p.AssetID, p.Point)
	metrics.ObserveSince(svc.prom.IndicatorComputeDur, start)
	svc.prices[p.AssetID] = p.Point.Close
	svc.mu.Unlock()

	svc.prom.PricesIngested.WithLabelValues(p.AssetID).Inc()
	if svc.health != nil {
		svc.health.SetLastPriceTime(time.Now())
	}

	if svc.pub != nil {
		start = time.Now()
		svc.pub.WriteIndicatorBatch(ctx, results)
		metrics.ObserveSince(svc.prom.RedisPublishDur, start)
	}
	svc.invalidateVerdict(ctx, p.AssetID)

	liq := svc.sweep(ctx, map[string]float64{p.AssetID: p.Point.Close})
	return IngestResult{Indicators: results, Liquidations: liq}, nil
}

// PreviewPrice returns what the live indicators would read at price without
// advancing them. Nil for assets the engine has not seen.
func (svc *Service) PreviewPrice(assetID string, price float64) []model.IndicatorResult {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.engine.ProcessPeek(assetID, model.PricePoint{Timestamp: time.Now().UTC(), Close: price})
}
