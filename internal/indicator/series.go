package indicator

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Value is one point of an indicator series. Valid is false where the
// trailing history was too short to compute a value.
type Value struct {
	V     float64
	Valid bool
}

// Some wraps a computed value.
func Some(v float64) Value { return Value{V: v, Valid: true} }

// MarshalJSON encodes invalid values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	f, err := strconv.ParseFloat(string(bytes.TrimSpace(data)), 64)
	if err != nil {
		return err
	}
	*v = Some(f)
	return nil
}

// Series is an indicator output aligned index-for-index with its input.
// Once a series becomes valid it stays valid for every later index.
type Series []Value

// newSeries returns an all-invalid series of length n.
func newSeries(n int) Series {
	return make(Series, n)
}

// FirstValid returns the index of the first valid value, or -1.
func (s Series) FirstValid() int {
	for i, v := range s {
		if v.Valid {
			return i
		}
	}
	return -1
}

// Last returns the final element of the series (invalid if empty).
func (s Series) Last() Value {
	if len(s) == 0 {
		return Value{}
	}
	return s[len(s)-1]
}

// Trimmed drops the leading invalid values and returns the rest as plain floats.
func (s Series) Trimmed() []float64 {
	first := s.FirstValid()
	if first < 0 {
		return []float64{}
	}
	out := make([]float64, 0, len(s)-first)
	for _, v := range s[first:] {
		out = append(out, v.V)
	}
	return out
}
