package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Average gain and loss are two SMMAs over the per-step price deltas, so the
// first value appears after period+1 prices. Update is O(1) per price.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gain      *SMMA
	loss      *SMMA
	current   float64
}

// DefaultRSIPeriod is the conventional RSI lookback.
const DefaultRSIPeriod = 14

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		gain:   NewSMMA(period),
		loss:   NewSMMA(period),
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price only sets the baseline
		r.prevClose = price
		return
	}

	gain, loss := split(price - r.prevClose)
	r.prevClose = price
	r.gain.Update(gain)
	r.loss.Update(loss)

	if r.gain.Ready() {
		r.current = rsiFrom(r.gain.Value(), r.loss.Value())
	}
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

// Peek computes what RSI would be with an additional price without mutating state.
func (r *RSI) Peek(price float64) float64 {
	if r.count < r.period {
		return r.current
	}
	gain, loss := split(price - r.prevClose)
	return rsiFrom(r.gain.Peek(gain), r.loss.Peek(loss))
}

// split turns a price delta into (gain, loss), both non-negative.
func split(delta float64) (float64, float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// rsiFrom maps smoothed averages to [0,100]. Zero average loss means
// uninterrupted gains and yields exactly 100.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Snapshot serializes the RSI state for checkpoint persistence.
func (r *RSI) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:      "RSI",
		Period:    r.period,
		Count:     r.count,
		PrevClose: r.prevClose,
		AvgGain:   r.gain.Value(),
		AvgLoss:   r.loss.Value(),
		Current:   r.current,
		Parts:     []IndicatorSnapshot{r.gain.Snapshot(), r.loss.Snapshot()},
	}
}

// RestoreFromSnapshot restores RSI state from a checkpoint.
func (r *RSI) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if len(snap.Parts) != 2 {
		return errMissingParts
	}
	r.period = snap.Period
	r.count = snap.Count
	r.prevClose = snap.PrevClose
	r.current = snap.Current
	r.gain = NewSMMA(snap.Period)
	r.loss = NewSMMA(snap.Period)
	if err := r.gain.RestoreFromSnapshot(snap.Parts[0]); err != nil {
		return err
	}
	return r.loss.RestoreFromSnapshot(snap.Parts[1])
}
