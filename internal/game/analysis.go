package game

import (
	"context"
	"fmt"
	"log"
	"time"

	"investgame/internal/indicator"
	"investgame/internal/metrics"
	"investgame/internal/model"
	"investgame/internal/strategy"
)

// Chart is the aligned indicator overlay for one asset. Every series has one
// entry per close; warm-up positions encode as null.
type Chart struct {
	AssetID    string                    `json:"asset_id"`
	Timestamps []time.Time               `json:"timestamps"`
	Closes     []float64                 `json:"closes"`
	SMA20      indicator.Series          `json:"sma20"`
	SMA50      indicator.Series          `json:"sma50"`
	EMA12      indicator.Series          `json:"ema12"`
	EMA26      indicator.Series          `json:"ema26"`
	RSI14      indicator.Series          `json:"rsi14"`
	MACD       indicator.MACDResult      `json:"macd"`
	Bollinger  indicator.BollingerResult `json:"bollinger"`
}

// BuildChart computes every overlay for history.
func BuildChart(assetID string, history []model.PricePoint) Chart {
	closes := model.Closes(history)
	ts := make([]time.Time, len(history))
	for i, p := range history {
		ts[i] = p.Timestamp
	}
	return Chart{
		AssetID:    assetID,
		Timestamps: ts,
		Closes:     closes,
		SMA20:      indicator.SMASeries(closes, 20),
		SMA50:      indicator.SMASeries(closes, 50),
		EMA12:      indicator.EMASeries(closes, 12),
		EMA26:      indicator.EMASeries(closes, 26),
		RSI14:      indicator.RSISeries(closes, indicator.DefaultRSIPeriod),
		MACD:       indicator.MACD(closes, indicator.DefaultMACDFast, indicator.DefaultMACDSlow, indicator.DefaultMACDSignal),
		Bollinger:  indicator.Bollinger(closes, indicator.DefaultBollingerPeriod, indicator.DefaultBollingerMult),
	}
}

// Chart returns the overlay for the last limit stored points (limit <= 0 uses
// the history window).
func (svc *Service) Chart(ctx context.Context, assetID string, limit int) (Chart, error) {
	if limit <= 0 {
		limit = svc.cfg.HistoryWindow
	}
	hist, err := svc.store.ReadHistory(ctx, assetID, limit)
	if err != nil {
		return Chart{}, fmt.Errorf("read history: %w", err)
	}
	if len(hist) == 0 {
		return Chart{}, ErrNoHistory
	}
	start := time.Now()
	c := BuildChart(assetID, hist)
	metrics.ObserveSince(svc.prom.ChartComputeDur, start)
	return c, nil
}

// Analysis returns the classifier verdict for an asset, served from the
// cache while no new price has arrived.
func (svc *Service) Analysis(ctx context.Context, assetID string) (*strategy.Verdict, error) {
	if svc.cache != nil {
		v, found, err := svc.cache.GetVerdict(ctx, assetID)
		switch {
		case err != nil:
			svc.prom.VerdictCache.WithLabelValues("error").Inc()
			log.Printf("[game] verdict cache read %s: %v", assetID, err)
		case found && v != nil:
			svc.prom.VerdictCache.WithLabelValues("hit").Inc()
			return v, nil
		default:
			svc.prom.VerdictCache.WithLabelValues("miss").Inc()
		}
	}

	gen := svc.verdictGen(assetID)
	hist, err := svc.store.ReadHistory(ctx, assetID, svc.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(hist) == 0 {
		return nil, ErrNoHistory
	}
	v := strategy.AnalyzeMarket(hist)
	if v == nil {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, len(hist), strategy.MinHistory)
	}

	svc.cacheVerdict(ctx, assetID, gen, v)
	return v, nil
}

func (svc *Service) verdictGen(assetID string) uint64 {
	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	return svc.gen[assetID]
}

// cacheVerdict stores v unless a price for assetID was ingested after gen
// was read, in which case v is already stale.
func (svc *Service) cacheVerdict(ctx context.Context, assetID string, gen uint64, v *strategy.Verdict) {
	if svc.cache == nil {
		return
	}
	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	if svc.gen[assetID] != gen {
		return
	}
	if err := svc.cache.SetVerdict(ctx, assetID, v); err != nil {
		log.Printf("[game] verdict cache write %s: %v", assetID, err)
	}
}

func (svc *Service) invalidateVerdict(ctx context.Context, assetID string) {
	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	svc.gen[assetID]++
	if svc.cache == nil {
		return
	}
	if err := svc.cache.InvalidateVerdict(ctx, assetID); err != nil {
		log.Printf("[game] verdict invalidate %s: %v", assetID, err)
	}
}
