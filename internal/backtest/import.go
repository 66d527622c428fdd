package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"investgame/internal/model"
)

// PriceSink consumes a stream of prices until the channel is closed.
// sqlite.Writer.Run satisfies it.
type PriceSink interface {
	Run(ctx context.Context, priceCh <-chan model.AssetPrice)
}

// ReadPoints decodes a JSON array of {"timestamp","close"|"price"} points,
// rejects non-positive or non-finite closes, and sorts by timestamp.
func ReadPoints(r io.Reader) ([]model.PricePoint, error) {
	var points []model.PricePoint
	if err := json.NewDecoder(r).Decode(&points); err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	if err := model.ValidatePrices(model.Closes(points)); err != nil {
		return nil, err
	}
	for i, p := range points {
		if p.Close <= 0 {
			return nil, fmt.Errorf("index %d: close %v must be positive", i, p.Close)
		}
		if p.Timestamp.IsZero() {
			return nil, fmt.Errorf("index %d: missing timestamp", i)
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

// Import streams points for assetID into sink and waits for it to drain.
func Import(ctx context.Context, sink PriceSink, assetID string, points []model.PricePoint) (int, error) {
	if assetID == "" {
		return 0, fmt.Errorf("asset id is required")
	}
	ch := make(chan model.AssetPrice, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.Run(ctx, ch)
	}()

	n := 0
	for _, p := range points {
		select {
		case ch <- model.AssetPrice{AssetID: assetID, Point: p}:
			n++
		case <-ctx.Done():
			close(ch)
			<-done
			return n, ctx.Err()
		}
	}
	close(ch)
	<-done
	return n, nil
}
