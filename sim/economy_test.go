package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlab/tokensim/sim/trace"
)

func constantEconomy(t *testing.T) *TokenEconomy {
	t.Helper()
	return newTestEconomy(t, EconomyConfig{
		Name: "tokenA", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "buyers", 100, 5)},
	})
}

func decisionTrace() *trace.SimulationTrace {
	return trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
}

func TestTokenEconomy_Data_ColumnsAndFirstRows(t *testing.T) {
	// GIVEN 100 users spending 5 each against 1e6 tokens at price 1
	e := constantEconomy(t)

	// WHEN two steps run
	require.Equal(t, 2, runSteps(t, e, 2))

	data := e.Data()
	assert.Equal(t, []string{"token_price", "transactions_$", "num_users", "iteration",
		"holding_time", "effective_holding_time", "supply", "transactions_token"}, data.Columns)
	require.Equal(t, 2, data.Len())

	// THEN the first step prices from the equation of exchange
	assert.InDeltaSlice(t, []float64{5e-4, 500, 100, 1, 1, 1, 1e6, 500}, data.Rows[0], 1e-9)
	// AND the second converts fiat at the new price
	assert.InDeltaSlice(t, []float64{5e-4, 500, 100, 2, 1, 1, 1e6, 1e6}, data.Rows[1], 1e-6)
}

func TestTokenEconomy_ZeroSupply_Halts(t *testing.T) {
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 0,
		AgentPools: []AgentPool{constantPool(t, "p", 1, 1)}})
	st := decisionTrace()
	e.SetTrace(st)

	ok, err := e.Execute()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, e.Data().Len())
	require.Len(t, st.Halts, 1)
	assert.Equal(t, trace.HaltSupplyDepleted, st.Halts[0].Reason)
}

func TestTokenEconomy_ZeroPriceWithFiatPool_Halts(t *testing.T) {
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 0, InitialSupply: 100,
		AgentPools: []AgentPool{constantPool(t, "p", 1, 1)}})
	st := decisionTrace()
	e.SetTrace(st)

	ok, err := e.Execute()
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, st.Halts, 1)
	assert.Equal(t, trace.HaltZeroPrice, st.Halts[0].Reason)
}

func TestTokenEconomy_TokenSellPressureAddsSupply(t *testing.T) {
	// GIVEN a token pool selling 100 alongside the fiat buyers
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "buyers", 100, 5), dataPool(t, "sellers", "token", -100)}})

	require.Equal(t, 1, runSteps(t, e, 1))

	assert.Equal(t, 1e6+100, e.Supply())
	assert.Equal(t, 500.0, e.TransactionsVolumeInTokens())
}

func TestTokenEconomy_DataExhaustion_Halts(t *testing.T) {
	// GIVEN a supply pool with a single data point and the fail policy
	sp, err := NewSupplyFromData("unlock", []float64{10}, ExhaustFail)
	require.NoError(t, err)
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "p", 1, 1)}, SupplyPools: []SupplyController{sp}})
	st := decisionTrace()
	e.SetTrace(st)

	// THEN the second step halts and keeps the first row
	assert.Equal(t, 1, runSteps(t, e, 5))
	assert.Equal(t, 1, e.Data().Len())
	require.Len(t, st.Halts, 1)
	assert.Equal(t, trace.HaltExhausted, st.Halts[0].Reason)
}

func TestTokenEconomy_BurnToken(t *testing.T) {
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 1e6, BurnToken: true,
		AgentPools: []AgentPool{constantPool(t, "p", 100, 5)}})

	require.Equal(t, 1, runSteps(t, e, 1))

	supply, err := e.Data().Column("supply")
	require.NoError(t, err)
	assert.Equal(t, 1e6, supply[0], "recorded before the burn")
	assert.Equal(t, 1e6-500, e.Supply())
}

func TestTokenEconomy_DependsOn_ConsumesParentSupply(t *testing.T) {
	parent := newTestEconomy(t, EconomyConfig{Name: "parent", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "p", 1, 1)}})
	require.Equal(t, 1, runSteps(t, parent, 1))
	before := parent.Supply()

	child := newTestEconomy(t, EconomyConfig{Name: "child", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "q", 100, 5)}, DependsOn: parent})
	require.Equal(t, 1, runSteps(t, child, 1))

	assert.Equal(t, before-500, parent.Supply())
}

func TestTokenEconomy_SpawnsAreBufferedNotExecuted(t *testing.T) {
	// GIVEN a buy-back pool that spawns a burn every step
	bb, err := NewBuyBackPool(poolConfig(t, "buyback", 100, 5))
	require.NoError(t, err)
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 1e6, AgentPools: []AgentPool{bb}})
	st := decisionTrace()
	e.SetTrace(st)

	require.Equal(t, 2, runSteps(t, e, 2))

	// THEN each step sees only its own spawn and supply is untouched
	spawned := e.SpawnedLastIteration()
	require.Len(t, spawned, 1)
	assert.Equal(t, SpawnSupplyPool, spawned[0].Kind)
	assert.Equal(t, 1e6, e.Supply())
	assert.Len(t, st.Spawns, 2)
	assert.Equal(t, "buyback", st.Spawns[1].Parent)
	assert.Equal(t, 1, st.Spawns[1].Iteration)
}

func TestTokenEconomy_Reset_KeepsHistory(t *testing.T) {
	e := constantEconomy(t)
	require.Equal(t, 3, runSteps(t, e, 3))

	e.Reset()

	assert.Equal(t, 0, e.Iteration())
	assert.Equal(t, 3, e.Data().Len())
	assert.Equal(t, 0, e.AgentPools()[0].Iteration())
}

func TestTokenEconomy_Reset_RerunReproducesTrajectory(t *testing.T) {
	// GIVEN a deterministic economy whose users grow 100 -> 400 over 4 steps
	users, err := NewSpacedUsers(SpacedUsersConfig{Initial: 100, Max: 400, NumSteps: 4})
	require.NoError(t, err)
	tx, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 5})
	require.NoError(t, err)
	pool, err := NewAgentPool(PoolConfig{Name: "buyers", Users: users, Transactions: tx})
	require.NoError(t, err)
	e := newTestEconomy(t, EconomyConfig{
		Name: "tokenA", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{pool},
	})
	const n = 4
	require.Equal(t, n, runSteps(t, e, n))

	// WHEN the economy is reset and run for the same number of steps
	e.Reset()
	require.Equal(t, n, runSteps(t, e, n))

	// THEN the second run repeats the first run's price and supply
	data := e.Data()
	require.Equal(t, 2*n, data.Len())
	price, err := data.Column("token_price")
	require.NoError(t, err)
	supply, err := data.Column("supply")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5e-4, 1e-3, 1.5e-3, 2e-3}, price[:n], 1e-12)
	assert.Equal(t, price[:n], price[n:])
	assert.Equal(t, supply[:n], supply[n:])
}

func TestTokenEconomy_Clone_IsIndependent(t *testing.T) {
	e := constantEconomy(t)
	require.Equal(t, 2, runSteps(t, e, 2))

	cp := e.Clone()

	// THEN the copy starts with empty history but the same state
	assert.Equal(t, 0, cp.Data().Len())
	assert.Equal(t, e.Price(), cp.Price())
	assert.Equal(t, e.Supply(), cp.Supply())
	assert.NotSame(t, e.AgentPools()[0], cp.AgentPools()[0])

	// WHEN the copy runs THEN the original is untouched
	require.Equal(t, 1, runSteps(t, cp, 1))
	assert.Equal(t, 2, e.Iteration())
	assert.Equal(t, 2, e.Data().Len())
	assert.Same(t, cp, cp.AgentPools()[0].Economy())
}

func TestTokenEconomy_Clone_KeepsSharedControllersShared(t *testing.T) {
	// GIVEN two pools sharing one user growth controller
	users := NewConstantUsers(10)
	tx1, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 1})
	require.NoError(t, err)
	tx2, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 2})
	require.NoError(t, err)
	a, err := NewAgentPool(PoolConfig{Name: "a", Users: users, Transactions: tx1})
	require.NoError(t, err)
	b, err := NewAgentPool(PoolConfig{Name: "b", Users: users, Transactions: tx2, Chained: true})
	require.NoError(t, err)
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 1e6, AgentPools: []AgentPool{a, b}})

	cp := e.Clone()

	pa := cp.AgentPools()[0].(*BasicPool)
	pb := cp.AgentPools()[1].(*BasicPool)
	assert.Same(t, pa.users, pb.users)
	assert.NotSame(t, users, pa.users)
}

func TestTokenEconomy_Variable(t *testing.T) {
	e := constantEconomy(t)
	require.Equal(t, 1, runSteps(t, e, 1))

	v, err := e.Variable("num_users")
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
	_, err = e.Variable("mood")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestTokenEconomy_InvalidConfig(t *testing.T) {
	_, err := NewTokenEconomy(EconomyConfig{InitialPrice: 1})
	assert.True(t, errors.Is(err, ErrInvalidConfig), "missing holding time")

	ht, err := NewConstantHoldingTime(1)
	require.NoError(t, err)
	_, err = NewTokenEconomy(EconomyConfig{HoldingTime: ht, Fiat: "x", Token: "x"})
	assert.True(t, errors.Is(err, ErrInvalidConfig), "fiat equals token")

	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1})
	assert.True(t, errors.Is(e.AddAgentPool(dataPool(t, "eur", "€", 1)), ErrInvalidConfig), "foreign currency")
}

func TestTokenEconomy_NoPools_IntegrityError(t *testing.T) {
	e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 1})
	_, err := e.Execute()
	assert.True(t, errors.Is(err, ErrIntegrity))
}

func TestTokenEconomy_SameSeed_SameData(t *testing.T) {
	build := func() *TokenEconomy {
		tx, err := NewStochasticTransactions(StochasticTransactionsConfig{
			Value: &DistSpec{Type: "uniform", Params: map[string]float64{"loc": 1, "scale": 4}},
		})
		require.NoError(t, err)
		pool, err := NewAgentPool(PoolConfig{Name: "p", Users: NewConstantUsers(20), Transactions: tx})
		require.NoError(t, err)
		e := newTestEconomy(t, EconomyConfig{InitialPrice: 1, InitialSupply: 1e4, AgentPools: []AgentPool{pool}})
		e.Reseed(NewPartitionedRNG(NewSimulationKey(99)))
		return e
	}
	a, b := build(), build()
	require.Equal(t, 5, runSteps(t, a, 5))
	require.Equal(t, 5, runSteps(t, b, 5))
	assert.Equal(t, a.Data().Rows, b.Data().Rows)
}

func TestEcosystem_DataSuffixedAndPadded(t *testing.T) {
	// GIVEN economy b runs out of supply on its second step
	drain, err := NewSupplyFromData("drain", []float64{0, -1e7}, ExhaustRepeatLast)
	require.NoError(t, err)
	a := newTestEconomy(t, EconomyConfig{Name: "a", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "p", 1, 1)}})
	b := newTestEconomy(t, EconomyConfig{Name: "b", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "q", 1, 1)}, SupplyPools: []SupplyController{drain}})
	eco, err := NewEcosystem([]*TokenEconomy{a, b}, false, "")
	require.NoError(t, err)

	assert.Equal(t, 1, runSteps(t, eco, 3))

	data := eco.Data()
	assert.Equal(t, "token_price_a", data.Columns[0])
	assert.Equal(t, "token_price_b", data.Columns[8])
	require.Equal(t, 2, data.Len())
	assert.False(t, math.IsNaN(data.Rows[1][0]))
	assert.True(t, math.IsNaN(data.Rows[1][8]))
	assert.Equal(t, "month", eco.UnitOfTime())
}

func TestEcosystem_InvalidMembers(t *testing.T) {
	_, err := NewEcosystem(nil, false, "")
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	a := newTestEconomy(t, EconomyConfig{Name: "x", InitialPrice: 1})
	b := newTestEconomy(t, EconomyConfig{Name: "x", InitialPrice: 1})
	_, err = NewEcosystem([]*TokenEconomy{a, b}, false, "")
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	unnamed := newTestEconomy(t, EconomyConfig{InitialPrice: 1})
	_, err = NewEcosystem([]*TokenEconomy{unnamed}, false, "")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestEcosystem_Clone_RelinksDependencies(t *testing.T) {
	a := newTestEconomy(t, EconomyConfig{Name: "a", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "p", 1, 1)}})
	b := newTestEconomy(t, EconomyConfig{Name: "b", InitialPrice: 1, InitialSupply: 1e6,
		AgentPools: []AgentPool{constantPool(t, "q", 10, 1)}, DependsOn: a})
	eco, err := NewEcosystem([]*TokenEconomy{a, b}, true, "week")
	require.NoError(t, err)

	cp := eco.Clone()

	assert.Same(t, cp.Economy("a"), cp.Economy("b").dependsOn)
	assert.Nil(t, cp.Economy("c"))

	// WHEN the copy runs THEN only the copied parent loses supply
	cp.Reseed(NewPartitionedRNG(NewSimulationKey(1)))
	require.Equal(t, 1, runSteps(t, cp, 1))
	assert.Equal(t, 0.0, a.Supply())
	assert.Less(t, cp.Economy("a").Supply(), 1e6)
}
