package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantTransactions_UsersTimesAverage(t *testing.T) {
	// GIVEN 100 users each transacting 5
	pool := constantPool(t, "p", 100, 5)

	// WHEN the pool executes
	_, err := pool.Execute()
	require.NoError(t, err)

	// THEN the aggregate value is 500 over 100 transactions
	assert.Equal(t, 500.0, pool.Transactions())
	assert.Equal(t, 100.0, pool.NumTransactions())
	assert.Equal(t, 100.0, pool.NumUsers())
}

func TestConstantTransactions_Unlinked_IntegrityError(t *testing.T) {
	tx, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 1})
	require.NoError(t, err)
	_, err = tx.Execute()
	assert.True(t, errors.Is(err, ErrIntegrity), "got %v", err)
}

func TestConstantTransactions_InvalidSource(t *testing.T) {
	_, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 1, Source: "oracle"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func stochasticPool(t *testing.T, typ TransactionType, seed int64) *BasicPool {
	t.Helper()
	tx, err := NewStochasticTransactions(StochasticTransactionsConfig{
		Value: &DistSpec{Type: "normal", Params: map[string]float64{"loc": 0, "scale": 10}},
		Type:  typ,
	})
	require.NoError(t, err)
	pool, err := NewAgentPool(PoolConfig{Name: "p", Users: NewConstantUsers(50), Transactions: tx})
	require.NoError(t, err)
	pool.Reseed(NewPartitionedRNG(NewSimulationKey(seed)), "pool_0")
	return pool
}

func TestStochasticTransactions_SignPolicy(t *testing.T) {
	tests := []struct {
		typ   TransactionType
		check func(t *testing.T, v float64)
	}{
		{TransactionPositive, func(t *testing.T, v float64) { assert.GreaterOrEqual(t, v, 0.0) }},
		{TransactionNegative, func(t *testing.T, v float64) { assert.LessOrEqual(t, v, 0.0) }},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			pool := stochasticPool(t, tt.typ, 11)
			for i := 0; i < 50; i++ {
				_, err := pool.Execute()
				require.NoError(t, err)
				tt.check(t, pool.Transactions())
			}
		})
	}
}

func TestStochasticTransactions_MixedSeesBothSigns(t *testing.T) {
	pool := stochasticPool(t, TransactionMixed, 5)
	var pos, neg bool
	for i := 0; i < 200; i++ {
		_, err := pool.Execute()
		require.NoError(t, err)
		pos = pos || pool.Transactions() > 0
		neg = neg || pool.Transactions() < 0
	}
	assert.True(t, pos && neg, "mixed transactions should produce both signs")
}

func TestStochasticTransactions_MismatchedSchedules(t *testing.T) {
	_, err := NewStochasticTransactions(StochasticTransactionsConfig{
		Activity: []float64{0.5, 0.6, 0.7},
		Value: &DistSpec{Type: "normal", Schedule: []map[string]float64{
			{"loc": 1}, {"loc": 2},
		}},
		FixedCount: ptr(1.0),
	})
	assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
}

func TestStochasticTransactions_ActivityOutOfRange(t *testing.T) {
	_, err := NewStochasticTransactions(StochasticTransactionsConfig{Activity: []float64{1.5}})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestTransactionsFromData_FailPolicy(t *testing.T) {
	tx, err := NewTransactionsFromData("d", []float64{1, 2}, ExhaustFail)
	require.NoError(t, err)
	pool, err := NewAgentPool(PoolConfig{Name: "p", Users: NewConstantUsers(1), Transactions: tx})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := pool.Execute()
		require.NoError(t, err)
	}
	_, err = pool.Execute()
	assert.True(t, errors.Is(err, ErrExhaustedSequence), "got %v", err)
}

func TestSimpleTrendTransactions_Increments(t *testing.T) {
	tx := NewSimpleTrendTransactions("trend", 10, 5, nil)
	pool, err := NewAgentPool(PoolConfig{Name: "p", Users: NewConstantUsers(1), Transactions: tx})
	require.NoError(t, err)

	var got []float64
	for i := 0; i < 3; i++ {
		_, err := pool.Execute()
		require.NoError(t, err)
		got = append(got, pool.Transactions())
	}
	assert.Equal(t, []float64{10, 15, 20}, got)
}

func TestChanneledTransactions_TakesShareOfSource(t *testing.T) {
	// GIVEN a source economy with 500 of fiat volume per step
	src := newTestEconomy(t, EconomyConfig{Name: "src", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "buyers", 100, 5)}})
	ch, err := NewChanneledTransactions("fees", src, 0.1, ChannelFiat, nil)
	require.NoError(t, err)
	pool, err := NewAgentPool(PoolConfig{Name: "fees", Users: NewConstantUsers(1), Transactions: ch})
	require.NoError(t, err)

	// WHEN the source runs one step and the channel executes
	require.Equal(t, 1, runSteps(t, src, 1))
	_, err = pool.Execute()
	require.NoError(t, err)

	// THEN a tenth of the fiat volume is channeled
	assert.InDelta(t, 50.0, pool.Transactions(), 1e-9)
}

func TestChanneledTransactions_NilSource(t *testing.T) {
	_, err := NewChanneledTransactions("x", nil, 0.1, ChannelFiat, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
