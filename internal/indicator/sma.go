package indicator

import "math"

// SMA is the simple moving average over a fixed window of closes, kept in a
// ring so each update is O(1). The running sum is compensated (Neumaier) so
// a large close leaving the window does not wipe out the small ones.
type SMA struct {
	window  []float64
	next    int // slot the next close overwrites
	seen    int
	sum     float64
	comp    float64 // lost low-order bits of sum
	current float64
}

func NewSMA(period int) *SMA {
	return &SMA{window: make([]float64, period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) period() int { return len(s.window) }

func (s *SMA) Update(price float64) {
	s.add(price)
	s.add(-s.window[s.next])
	s.window[s.next] = price
	s.next = (s.next + 1) % s.period()
	s.seen++
	if s.Ready() {
		s.current = s.total() / float64(s.period())
	}
}

func (s *SMA) add(x float64) {
	t := s.sum + x
	if math.Abs(s.sum) >= math.Abs(x) {
		s.comp += (s.sum - t) + x
	} else {
		s.comp += (x - t) + s.sum
	}
	s.sum = t
}

func (s *SMA) total() float64 { return s.sum + s.comp }

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.seen >= s.period() }

// Peek swaps the oldest close for price. Before the window fills it averages
// what it has.
func (s *SMA) Peek(price float64) float64 {
	if !s.Ready() {
		return (s.total() + price) / float64(s.seen+1)
	}
	return (s.total() - s.window[s.next] + price) / float64(s.period())
}

// StdDev is the population standard deviation of the window around Value(),
// 0 until the window is full.
func (s *SMA) StdDev() float64 {
	if !s.Ready() {
		return 0
	}
	var sq float64
	for _, v := range s.window {
		sq += (v - s.current) * (v - s.current)
	}
	return math.Sqrt(sq / float64(s.period()))
}

func (s *SMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "SMA",
		Period:  s.period(),
		Buf:     append([]float64(nil), s.window...),
		Idx:     s.next,
		Count:   s.seen,
		Sum:     s.total(),
		Current: s.current,
	}
}

func (s *SMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Period <= 0 || (len(snap.Buf) != 0 && len(snap.Buf) != snap.Period) {
		return errBufferSize
	}
	s.window = make([]float64, snap.Period)
	copy(s.window, snap.Buf)
	s.next = snap.Idx % snap.Period
	s.seen = snap.Count
	s.current = snap.Current
	// Unfilled slots are zero, so the window always sums to the running total.
	s.sum, s.comp = 0, 0
	for _, v := range s.window {
		s.add(v)
	}
	return nil
}
