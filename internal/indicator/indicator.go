// Package indicator provides technical indicator calculations over price data.
//
// Two layers share one implementation. Streaming indicators (SMA, EMA, SMMA,
// RSI) implement the Indicator interface and consume one close at a time;
// the batch functions in batch.go replay a whole series through them and
// return aligned, nullable output for charting.
package indicator

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next close price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if this price were added next,
	// WITHOUT mutating internal state.
	Peek(price float64) float64
}
