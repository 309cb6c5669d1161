package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_TestIntegrity_WeakCheck(t *testing.T) {
	// GIVEN a growth controller declaring both pool and economy slots
	u := NewConstantUsers(10)
	pool := constantPool(t, "p", 1, 1)

	// THEN it is not integral while every slot is unset
	assert.False(t, u.TestIntegrity())

	// WHEN only the pool slot is linked
	require.NoError(t, u.Link(CapAgentPool, pool))

	// THEN it already counts as integral although the economy slot is empty
	assert.True(t, u.TestIntegrity())
	deps := u.Dependencies()
	assert.Equal(t, "p", deps[CapAgentPool])
	assert.Equal(t, "", deps[CapTokenEconomy])
}

func TestController_NoDeclaredSlots_NeverIntegral(t *testing.T) {
	var c Controller
	assert.False(t, c.TestIntegrity())
}

func TestController_Link_IncompatibleDependency(t *testing.T) {
	u := NewConstantUsers(1)

	err := u.Link(CapAgentPool, 42)
	assert.True(t, errors.Is(err, ErrIncompatibleDependency), "got %v", err)

	err = u.Link(CapTokenEconomy, constantPool(t, "not-an-economy", 1, 1))
	assert.True(t, errors.Is(err, ErrIncompatibleDependency), "a pool must not fill the economy slot, got %v", err)

	err = u.Link(Capability("oracle"), nil)
	assert.True(t, errors.Is(err, ErrIncompatibleDependency))
	assert.False(t, u.TestIntegrity(), "failed links must leave the slots unset")
}

func TestDependencies_Economy_FallsBackToPool(t *testing.T) {
	// GIVEN a pool added to an economy and a controller linked to the pool only
	pool := constantPool(t, "p", 1, 1)
	e := newTestEconomy(t, EconomyConfig{Name: "econ", InitialPrice: 1, InitialSupply: 100, AgentPools: []AgentPool{pool}})
	d := NewDependencies(CapAgentPool)
	require.NoError(t, d.Link(CapAgentPool, pool))

	// THEN the economy is reached through the pool
	assert.Same(t, e, d.Economy())
}
