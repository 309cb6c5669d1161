package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// constantPool returns a fiat pool of users users, each transacting avg.
func constantPool(t *testing.T, name string, users, avg float64) *BasicPool {
	t.Helper()
	tx, err := NewConstantTransactions(ConstantTransactionsConfig{Average: avg})
	require.NoError(t, err)
	p, err := NewAgentPool(PoolConfig{Name: name, Users: NewConstantUsers(users), Transactions: tx})
	require.NoError(t, err)
	return p
}

// dataPool replays tx values with a single user.
func dataPool(t *testing.T, name, currency string, tx ...float64) *BasicPool {
	t.Helper()
	data, err := NewTransactionsFromData(name+"/tx", tx, ExhaustRepeatLast)
	require.NoError(t, err)
	p, err := NewAgentPool(PoolConfig{Name: name, Currency: currency, Users: NewConstantUsers(1), Transactions: data})
	require.NoError(t, err)
	return p
}

// newTestEconomy fills in a constant holding time of 1 when cfg has none.
func newTestEconomy(t *testing.T, cfg EconomyConfig) *TokenEconomy {
	t.Helper()
	if cfg.HoldingTime == nil {
		ht, err := NewConstantHoldingTime(1)
		require.NoError(t, err)
		cfg.HoldingTime = ht
	}
	e, err := NewTokenEconomy(cfg)
	require.NoError(t, err)
	return e
}

// runSteps executes e up to n times and returns how many steps continued.
func runSteps(t *testing.T, e Simulation, n int) int {
	t.Helper()
	for i := 0; i < n; i++ {
		ok, err := e.Execute()
		require.NoError(t, err)
		if !ok {
			return i
		}
	}
	return n
}
