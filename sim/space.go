package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// SpaceFunc returns n monotonic values from start to stop, both included.
type SpaceFunc func(start, stop float64, n int) []float64

// ValidSpaces is the set of named spacing functions.
var ValidSpaces = map[string]bool{"": true, "linear": true, "geometric": true, "logarithmic": true, "logistic": true}

// SpaceByName resolves a named spacing function. Empty means linear.
func SpaceByName(name string) (SpaceFunc, error) {
	switch name {
	case "", "linear":
		return LinearSpace, nil
	case "geometric":
		return GeometricSpace, nil
	case "logarithmic":
		return LogarithmicSpace, nil
	case "logistic":
		return NewLogisticSpace(1, 0), nil
	}
	return nil, fmt.Errorf("%w: unknown space function %q", ErrInvalidConfig, name)
}

func degenerateSpace(start float64, n int) ([]float64, bool) {
	switch {
	case n <= 0:
		return nil, true
	case n == 1:
		return []float64{start}, true
	}
	return nil, false
}

// LinearSpace spaces values evenly.
func LinearSpace(start, stop float64, n int) []float64 {
	if out, ok := degenerateSpace(start, n); ok {
		return out
	}
	return floats.Span(make([]float64, n), start, stop)
}

// GeometricSpace spaces values evenly on a log scale. Non-positive bounds are
// shifted so the smaller one maps to 1, then shifted back.
func GeometricSpace(start, stop float64, n int) []float64 {
	if out, ok := degenerateSpace(start, n); ok {
		return out
	}
	shift := 0.0
	if lo := math.Min(start, stop); lo <= 0 {
		shift = 1 - lo
	}
	out := floats.LogSpan(make([]float64, n), start+shift, stop+shift)
	floats.AddConst(-shift, out)
	out[0], out[n-1] = start, stop
	return out
}

// LogarithmicSpace grows quickly at first and saturates towards stop.
func LogarithmicSpace(start, stop float64, n int) []float64 {
	if out, ok := degenerateSpace(start, n); ok {
		return out
	}
	ts := floats.Span(make([]float64, n), 0, 1)
	out := make([]float64, n)
	for i, t := range ts {
		out[i] = start + (stop-start)*math.Log1p(9*t)/math.Log(10)
	}
	return out
}

// NewLogisticSpace returns an S-shaped spacing. steepness sharpens the
// transition; takeoff shifts it later (positive) or earlier (negative).
func NewLogisticSpace(steepness, takeoff float64) SpaceFunc {
	return func(start, stop float64, n int) []float64 {
		if out, ok := degenerateSpace(start, n); ok {
			return out
		}
		sigmoid := func(t float64) float64 {
			return 1 / (1 + math.Exp(-steepness*(12*t-6-takeoff)))
		}
		lo, hi := sigmoid(0), sigmoid(1)
		ts := floats.Span(make([]float64, n), 0, 1)
		out := make([]float64, n)
		for i, t := range ts {
			out[i] = start + (stop-start)*(sigmoid(t)-lo)/(hi-lo)
		}
		return out
	}
}
