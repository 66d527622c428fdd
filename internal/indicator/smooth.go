package indicator

// seeded is the recursive smoother shared by EMA and SMMA. The first
// `period` inputs are averaged into a seed; after that every input moves the
// value by alpha toward it.
type seeded struct {
	period  int
	alpha   float64
	count   int
	sum     float64
	current float64
}

func (s *seeded) Update(x float64) {
	s.count++
	switch {
	case s.count < s.period:
		s.sum += x
	case s.count == s.period:
		s.sum += x
		s.current = s.sum / float64(s.period)
	default:
		s.current += s.alpha * (x - s.current)
	}
}

func (s *seeded) Value() float64 { return s.current }
func (s *seeded) Ready() bool    { return s.count >= s.period }

// Peek averages the partial window while seeding, then applies one step.
func (s *seeded) Peek(x float64) float64 {
	if s.count < s.period {
		return (s.sum + x) / float64(s.count+1)
	}
	return s.current + s.alpha*(x-s.current)
}

func (s *seeded) snapshot(kind string) IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    kind,
		Period:  s.period,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

func (s *seeded) restore(snap IndicatorSnapshot) {
	s.period = snap.Period
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
}

// EMA is the exponential moving average with alpha 2/(period+1), seeded with
// the SMA of the first `period` closes.
type EMA struct{ seeded }

func NewEMA(period int) *EMA {
	return &EMA{seeded{period: period, alpha: emaAlpha(period)}}
}

func emaAlpha(period int) float64 { return 2.0 / float64(period+1) }

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Snapshot() IndicatorSnapshot {
	snap := e.snapshot("EMA")
	snap.Multiplier = e.alpha
	return snap
}

func (e *EMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	e.restore(snap)
	e.alpha = snap.Multiplier
	if e.alpha == 0 {
		e.alpha = emaAlpha(snap.Period)
	}
	return nil
}

// SMMA is Wilder's smoothed average (alpha 1/period). RSI runs two of them
// over per-step gains and losses.
type SMMA struct{ seeded }

func NewSMMA(period int) *SMMA {
	return &SMMA{seeded{period: period, alpha: 1 / float64(period)}}
}

func (s *SMMA) Name() string { return "SMMA" }

func (s *SMMA) Snapshot() IndicatorSnapshot { return s.snapshot("SMMA") }

func (s *SMMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	s.restore(snap)
	s.alpha = 1 / float64(snap.Period)
	return nil
}
