package montecarlo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile_LinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, percentile(sorted, 0))
	assert.Equal(t, 3.0, percentile(sorted, 50))
	assert.Equal(t, 5.0, percentile(sorted, 100))
	assert.InDelta(t, 1.4, percentile(sorted, 10), 1e-12)
	assert.InDelta(t, 4.6, percentile(sorted, 90), 1e-12)
}

func TestPercentile_Degenerate(t *testing.T) {
	assert.True(t, math.IsNaN(percentile(nil, 50)))
	assert.Equal(t, 7.0, percentile([]float64{7}, 90))
}

func TestQuantile_NameAndUnsortedInput(t *testing.T) {
	q := Quantile(0.9)
	assert.Equal(t, "quantile_90", q.Name)
	assert.Equal(t, "quantile_10", Quantile10.Name)
	assert.Equal(t, "quantile_2.5", Quantile(0.025).Name)
	assert.InDelta(t, 4.6, q.Fn([]float64{5, 1, 4, 2, 3}), 1e-12)
}

func TestDefaultStatistics(t *testing.T) {
	var names []string
	for _, s := range DefaultStatistics() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"mean", "std", "max", "min", "quantile_10", "quantile_90"}, names)

	x := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.Equal(t, 5.0, Mean.Fn(x))
	// population standard deviation
	assert.Equal(t, 2.0, Std.Fn(x))
	assert.Equal(t, 9.0, Max.Fn(x))
	assert.Equal(t, 2.0, Min.Fn(x))
}
