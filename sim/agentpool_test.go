package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolConfig(t *testing.T, name string, users, avg float64) PoolConfig {
	t.Helper()
	tx, err := NewConstantTransactions(ConstantTransactionsConfig{Average: avg})
	require.NoError(t, err)
	return PoolConfig{Name: name, Users: NewConstantUsers(users), Transactions: tx}
}

func TestAgentPool_ActivationIteration(t *testing.T) {
	// GIVEN a pool that activates on its third step
	cfg := poolConfig(t, "late", 100, 5)
	cfg.ActivationIteration = 2
	pool, err := NewAgentPool(cfg)
	require.NoError(t, err)

	var got []float64
	for i := 0; i < 3; i++ {
		_, err := pool.Execute()
		require.NoError(t, err)
		got = append(got, pool.Transactions())
	}

	// THEN it is inert until then
	assert.Equal(t, []float64{0, 0, 500}, got)
}

func TestAgentPool_FeesReachTreasury(t *testing.T) {
	tests := []struct {
		name    string
		feeType FeeType
		fee     float64
	}{
		// 10% of 500
		{"percentage", FeePercentage, 0.1},
		// 0.5 per transaction over 100 transactions
		{"fixed", FeeFixed, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTreasury("", nil, nil)
			cfg := poolConfig(t, "p", 100, 5)
			cfg.Treasury, cfg.Fee, cfg.FeeType = tr, ptr(tt.fee), tt.feeType
			pool, err := NewAgentPool(cfg)
			require.NoError(t, err)

			_, err = pool.Execute()
			require.NoError(t, err)

			assert.InDelta(t, 50.0, tr.Holdings("$"), 1e-9)
		})
	}
}

func TestAgentPool_InvalidConfig(t *testing.T) {
	cfg := poolConfig(t, "p", 1, 1)
	cfg.Treasury = NewTreasury("", nil, nil)
	_, err := NewAgentPool(cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig), "treasury without fee")

	cfg = poolConfig(t, "p", 1, 1)
	cfg.FeeType = "tiered"
	_, err = NewAgentPool(cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig), "unknown fee type")

	cfg = poolConfig(t, "p", 1, 1)
	cfg.ActivationIteration = -1
	_, err = NewAgentPool(cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig), "negative activation")
}

func TestAgentPool_ChainedReadsOwnersUsers(t *testing.T) {
	// GIVEN an owner pool driving a user series and a chained pool sharing it
	users, err := NewUsersFromData("growth", []float64{1, 2, 3}, "")
	require.NoError(t, err)
	tx, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 1})
	require.NoError(t, err)
	owner, err := NewAgentPool(PoolConfig{Name: "owner", Users: users, Transactions: tx})
	require.NoError(t, err)
	tx2, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 2})
	require.NoError(t, err)
	chained, err := NewAgentPool(PoolConfig{Name: "chained", Users: users, Transactions: tx2, Chained: true})
	require.NoError(t, err)

	// WHEN both run twice
	for i := 0; i < 2; i++ {
		_, err := owner.Execute()
		require.NoError(t, err)
		_, err = chained.Execute()
		require.NoError(t, err)
	}

	// THEN the series advanced once per step and the chained pool mirrors it
	assert.Equal(t, 2, users.Iteration())
	assert.Equal(t, 2.0, chained.NumUsers())
	assert.Equal(t, 4.0, chained.Transactions())
}

func TestBuyBackPool_SpawnsOneShotBurn(t *testing.T) {
	// GIVEN 500 of fiat at a price of 2
	pool, err := NewBuyBackPool(poolConfig(t, "buyback", 100, 5))
	require.NoError(t, err)
	econ := &fakeEconomy{price: 2, supply: 1e6}
	require.NoError(t, pool.Link(CapTokenEconomy, econ))

	spawns, err := pool.Execute()
	require.NoError(t, err)

	// THEN one burn of 250 tokens is spawned and it fires once
	require.Len(t, spawns, 1)
	assert.Equal(t, SpawnSupplyPool, spawns[0].Kind)
	assert.Equal(t, "buyback/burn", spawns[0].Name())
	v, err := spawns[0].Supply.Execute()
	require.NoError(t, err)
	assert.InDelta(t, -250.0, v, 1e-9)
	v, err = spawns[0].Supply.Execute()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestBuyBackPool_ZeroPriceSkips(t *testing.T) {
	pool, err := NewBuyBackPool(poolConfig(t, "buyback", 1, 1))
	require.NoError(t, err)
	require.NoError(t, pool.Link(CapTokenEconomy, &fakeEconomy{supply: 1}))

	spawns, err := pool.Execute()
	require.NoError(t, err)
	assert.Empty(t, spawns)
}

func TestStakingPool_SpawnsPositionsFromVolume(t *testing.T) {
	// GIVEN 100 of volume and positions of 25 each
	pool, err := NewStakingPool(StakingPoolConfig{
		PoolConfig: poolConfig(t, "stakers", 10, 10),
		Staker:     StakerConfig{Amount: Quantity{Value: 25}, Reward: Quantity{Value: 0.1}, RewardAsPercentage: true},
		Duration:   3,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Link(CapTokenEconomy, &fakeEconomy{price: 1, supply: 1e6}))

	spawns, err := pool.Execute()
	require.NoError(t, err)

	// THEN four positions are opened, each already holding its stake
	require.Len(t, spawns, 4)
	for _, s := range spawns {
		assert.Equal(t, SpawnSupplyPool, s.Kind)
		st, ok := s.Supply.(Staker)
		require.True(t, ok)
		assert.Equal(t, 25.0, st.Staked())
		assert.Equal(t, -25.0, st.Supply())
	}
}

func TestStakingPool_UnknownKind(t *testing.T) {
	_, err := NewStakingPool(StakingPoolConfig{PoolConfig: poolConfig(t, "s", 1, 1), Kind: "vault", Duration: 1})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestConditionalPool_ActionRunsWhileConditionHolds(t *testing.T) {
	// GIVEN 10 base users and 5 more once the pool's own iteration passes 2
	p, err := NewConditionalPool(ConditionalPoolConfig{
		Name:             "cond",
		Users:            NewConstantUsers(10),
		ConnectToEconomy: ptr(false),
	})
	require.NoError(t, err)
	cond, err := ThresholdCondition("iteration", ">", 2)
	require.NoError(t, err)
	require.NoError(t, p.AddCondition(cond, NewConstantUsers(5)))

	var got []float64
	for i := 0; i < 4; i++ {
		_, err := p.Execute()
		require.NoError(t, err)
		got = append(got, p.NumUsers())
	}

	assert.Equal(t, []float64{10, 10, 15, 15}, got)
	assert.True(t, cond.Result())

	// WHEN reset THEN the condition starts over
	p.Reset()
	assert.False(t, cond.Result())
	assert.Equal(t, 0, p.Iteration())
}

func TestConditionalPool_RejectsOtherControllers(t *testing.T) {
	p, err := NewConditionalPool(ConditionalPoolConfig{Name: "cond"})
	require.NoError(t, err)
	cond, err := ThresholdCondition("iteration", ">", 0)
	require.NoError(t, err)

	assert.True(t, errors.Is(p.AddCondition(cond, NewConstantSupply(1)), ErrInvalidConfig))
	assert.True(t, errors.Is(p.AddCondition(nil, NewConstantUsers(1)), ErrInvalidConfig))
}

func TestThresholdCondition_Operators(t *testing.T) {
	src := &fakeInspectable{values: map[string]float64{"x": 2}}
	tests := []struct {
		op   string
		want bool
	}{
		{">", true}, {">=", true}, {"<", false}, {"<=", false}, {"==", false}, {"!=", true},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			c, err := ThresholdCondition("x", tt.op, 1)
			require.NoError(t, err)
			c.source = src
			got, err := c.Evaluate()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ThresholdCondition("x", "~", 1)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestCondition_NoSource(t *testing.T) {
	c, err := ThresholdCondition("x", ">", 1)
	require.NoError(t, err)
	_, err = c.Evaluate()
	assert.True(t, errors.Is(err, ErrIntegrity))
}

type fakeInspectable struct{ values map[string]float64 }

func (f *fakeInspectable) Variable(name string) (float64, error) {
	v, ok := f.values[name]
	if !ok {
		return 0, ErrInvalidConfig
	}
	return v, nil
}
