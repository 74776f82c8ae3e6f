// Package testutil provides shared assertion helpers for simulated paths.
// It is used by the sim/ test packages.
package testutil

import (
	"math"
	"strconv"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
// Both zero is always equal.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertPathEqual compares two paths day by day with relative tolerance.
func AssertPathEqual(t *testing.T, want, got []float64, relTol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("path length: got %d, want %d", len(got), len(want))
	}
	for day := range want {
		AssertFloat64Equal(t, "day "+strconv.Itoa(day), want[day], got[day], relTol)
	}
}

// LinearPath returns the zero-volatility path s0*(1+t*drift) for t in [0, days].
func LinearPath(s0, drift float64, days int) []float64 {
	path := make([]float64, days+1)
	for day := range path {
		path[day] = s0 * (1 + float64(day)*drift)
	}
	return path
}
