package montecarlo

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistic reduces one feature's per-repetition values to a number.
type Statistic struct {
	Name string
	Fn   func(values []float64) float64
}

var (
	// Mean is the arithmetic mean.
	Mean = Statistic{Name: "mean", Fn: func(x []float64) float64 { return stat.Mean(x, nil) }}
	// Std is the population standard deviation.
	Std = Statistic{Name: "std", Fn: func(x []float64) float64 { return stat.PopStdDev(x, nil) }}
	Max = Statistic{Name: "max", Fn: floats.Max}
	Min = Statistic{Name: "min", Fn: floats.Min}
	// Quantile10 and Quantile90 interpolate linearly between order statistics.
	Quantile10 = Quantile(0.1)
	Quantile90 = Quantile(0.9)
)

// DefaultStatistics returns the statistics a report uses when none are given.
func DefaultStatistics() []Statistic {
	return []Statistic{Mean, Std, Max, Min, Quantile10, Quantile90}
}

// Quantile returns the q-quantile statistic, named quantile_<100q>.
func Quantile(q float64) Statistic {
	return Statistic{
		Name: fmt.Sprintf("quantile_%g", math.Round(q*1000)/10),
		Fn: func(x []float64) float64 {
			sorted := slices.Clone(x)
			slices.Sort(sorted)
			return percentile(sorted, q*100)
		},
	}
}

// percentile computes the p-th percentile using linear interpolation.
// Input must be sorted. NaN for empty input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
