// Package kahan implements compensated floating-point summation, used by the
// AMPC centrality mapper to accumulate harmonic-centrality contributions
// across many rounds without accumulating round-off error.
package kahan

// Sum is a Kahan compensated accumulator. The zero value is a valid
// empty sum.
type Sum struct {
	total float64
	c     float64 // running compensation for lost low-order bits
}

// Add folds delta into the running total.
func (s *Sum) Add(delta float64) {
	y := delta - s.c
	t := s.total + y
	s.c = (t - s.total) - y
	s.total = t
}

// Value returns the current accumulated total.
func (s *Sum) Value() float64 {
	return s.total
}
