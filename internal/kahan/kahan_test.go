package kahan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/stract/internal/kahan"
)

func TestAddAccumulates(t *testing.T) {
	var s kahan.Sum
	for i := 0; i < 1000; i++ {
		s.Add(0.1)
	}
	assert.InDelta(t, 100.0, s.Value(), 1e-9)
}

func TestMonotonicForNonNegativeDeltas(t *testing.T) {
	var s kahan.Sum
	prev := s.Value()
	for i := 0; i < 10; i++ {
		s.Add(float64(i) / 3.0)
		assert.GreaterOrEqual(t, s.Value(), prev)
		prev = s.Value()
	}
}
