package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpacedUsers_MonotoneWithExactEndpoints(t *testing.T) {
	for _, name := range []string{"linear", "geometric", "logarithmic", "logistic"} {
		t.Run(name, func(t *testing.T) {
			// GIVEN a curve from 100 to 10000 over 24 steps
			space, err := SpaceByName(name)
			require.NoError(t, err)
			u, err := NewSpacedUsers(SpacedUsersConfig{Initial: 100, Max: 10000, NumSteps: 24, Space: space})
			require.NoError(t, err)

			// THEN it starts and ends exactly at the bounds and never decreases
			seq := u.Sequence()
			require.Len(t, seq, 24)
			assert.Equal(t, 100.0, seq[0])
			assert.Equal(t, 10000.0, seq[23])
			for i := 1; i < len(seq); i++ {
				assert.GreaterOrEqual(t, seq[i], seq[i-1], "step %d", i)
			}
		})
	}
}

func TestSpacedUsers_UseDifference_SumsToMax(t *testing.T) {
	u, err := NewSpacedUsers(SpacedUsersConfig{Initial: 0, Max: 100, NumSteps: 11, UseDifference: true})
	require.NoError(t, err)

	sum := 0.0
	for _, v := range u.Sequence() {
		sum += v
	}
	assert.Equal(t, 100.0, sum)
}

func TestSpacedUsers_NoiseNeverDropsBelowBaseline(t *testing.T) {
	noise, err := NewAddOn(&AddOnSpec{Type: "noise", Dist: &DistSpec{Type: "normal", Params: map[string]float64{"scale": 50}}})
	require.NoError(t, err)
	u, err := NewSpacedUsers(SpacedUsersConfig{Initial: 10, Max: 1000, NumSteps: 30, Noise: noise})
	require.NoError(t, err)

	base := LinearSpace(10, 1000, 30)
	for i, v := range u.Sequence() {
		assert.GreaterOrEqual(t, v, base[i]-0.5, "step %d", i)
	}
}

func TestSpacedUsers_Exhaustion(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		u, err := NewSpacedUsers(SpacedUsersConfig{Initial: 1, Max: 3, NumSteps: 3})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err := u.Execute()
			require.NoError(t, err)
		}
		_, err = u.Execute()
		assert.True(t, errors.Is(err, ErrExhaustedSequence), "got %v", err)
	})
	t.Run("repeat_last", func(t *testing.T) {
		u, err := NewSpacedUsers(SpacedUsersConfig{Initial: 1, Max: 3, NumSteps: 3, OnExhausted: ExhaustRepeatLast})
		require.NoError(t, err)
		var last float64
		for i := 0; i < 5; i++ {
			last, err = u.Execute()
			require.NoError(t, err)
		}
		assert.Equal(t, 3.0, last)
	})
}

func TestSpacedUsers_InvalidConfig(t *testing.T) {
	_, err := NewSpacedUsers(SpacedUsersConfig{Initial: 1, Max: 3, NumSteps: 0})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	_, err = NewSpacedUsers(SpacedUsersConfig{Initial: -1, Max: 3, NumSteps: 3})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	_, err = NewSpacedUsers(SpacedUsersConfig{Initial: 1, Max: 3, NumSteps: 3, OnExhausted: "wrap"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestUsersFromData_DefaultsToRepeatLast(t *testing.T) {
	u, err := NewUsersFromData("d", []float64{5, 7}, ExhaustDefault)
	require.NoError(t, err)

	got := make([]float64, 4)
	for i := range got {
		got[i], err = u.Execute()
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{5, 7, 7, 7}, got)

	u.Reset()
	v, err := u.Execute()
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestStochasticUsers_NeverNegative(t *testing.T) {
	// GIVEN increments centred well below zero
	u, err := NewStochasticUsers(StochasticUsersConfig{
		Dist:          DistSpec{Type: "normal", Params: map[string]float64{"loc": -50, "scale": 10}},
		Initial:       20,
		AddToUserbase: true,
	})
	require.NoError(t, err)
	u.Reseed(NewPartitionedRNG(NewSimulationKey(1)), "users")

	// THEN the user count is clamped at zero
	for i := 0; i < 10; i++ {
		v, err := u.Execute()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestStochasticUsers_SameSeed_SameSequence(t *testing.T) {
	mk := func() []float64 {
		u, err := NewStochasticUsers(StochasticUsersConfig{
			Dist: DistSpec{Type: "poisson", Params: map[string]float64{"mu": 100}},
		})
		require.NoError(t, err)
		u.Reseed(NewPartitionedRNG(NewSimulationKey(9)), "users")
		out := make([]float64, 5)
		for i := range out {
			out[i], err = u.Execute()
			require.NoError(t, err)
		}
		return out
	}
	assert.Equal(t, mk(), mk())
}
