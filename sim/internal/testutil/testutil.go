// Package testutil provides shared test infrastructure for the token
// simulator: float assertions and scenario fixtures shared by the sim
// test packages.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
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

// WriteScenario writes content to a scenario.yaml in a fresh temp dir and
// returns its path.
func WriteScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing scenario: %v", err)
	}
	return path
}

// ConstantScenario is a deterministic single economy: 100 users, each
// transacting 5 per step, constant holding time 1, supply 1e6.
const ConstantScenario = `
seed: 7
iterations: 12
repetitions: 3
economies:
  - name: tokenA
    initial_price: 1
    initial_supply: 1000000
    holding_time: {type: constant, value: 1}
    agent_pools:
      - name: buyers
        users: {type: constant, users: 100}
        transactions: {type: constant, average: 5}
`

// StochasticScenario draws users and transaction values at random, so
// repetitions differ from each other but are fixed by the seed.
const StochasticScenario = `
seed: 42
iterations: 10
repetitions: 6
economies:
  - name: tokenA
    initial_price: 0.5
    initial_supply: 2000000
    holding_time: {type: stochastic, dist: {type: uniform, params: {loc: 0.5, scale: 1.5}}, minimum: 0.1}
    price: {type: equation_of_exchange, smoothing: 0.5}
    agent_pools:
      - name: buyers
        users:
          type: stochastic
          initial: 1000
          add_to_userbase: true
          dist: {type: normal, params: {loc: 10, scale: 5}}
        transactions:
          type: stochastic
          fixed_count: 1
          value: {type: lognormal, params: {s: 0.5}}
`

// DepletingScenario burns 400 tokens per step out of 1000, so every
// repetition halts at its third step with two recorded rows.
const DepletingScenario = `
seed: 3
iterations: 20
repetitions: 2
economies:
  - name: tokenA
    initial_price: 1
    initial_supply: 1000
    holding_time: {type: constant, value: 1}
    supply_pools:
      - {type: data, data: [-400], on_exhausted: repeat_last}
    agent_pools:
      - name: buyers
        users: {type: constant, users: 10}
        transactions: {type: constant, average: 1}
`
