package cmd

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlab/tokensim/sim"
)

func TestValidateScenario_WellFormedScenario_Succeeds(t *testing.T) {
	// GIVEN a scenario that parses and builds
	path := writeScenario(t, depletingScenario)

	// WHEN it is validated
	err := validateScenario(path)

	// THEN no error is reported
	assert.NoError(t, err)
}

func TestValidateScenario_UnknownKey_Rejected(t *testing.T) {
	// GIVEN a scenario with a misspelled field
	path := writeScenario(t, `
economies:
  - name: tokenA
    intial_price: 1
`)

	// WHEN it is validated
	err := validateScenario(path)

	// THEN the typo is reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intial_price")
}

func TestValidateScenario_InvalidComponent_ReportsConfigError(t *testing.T) {
	// GIVEN a scenario whose pool names an unknown user growth
	path := writeScenario(t, `
economies:
  - name: tokenA
    initial_price: 1
    initial_supply: 1000
    agent_pools:
      - name: buyers
        users: {type: exploding, users: 5}
        transactions: {type: constant, average: 1}
`)

	// WHEN it is validated
	err := validateScenario(path)

	// THEN the error wraps ErrInvalidConfig
	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrInvalidConfig), "got %v", err)
}

func TestValidateScenario_MissingFile_ReturnsError(t *testing.T) {
	assert.Error(t, validateScenario(filepath.Join(t.TempDir(), "absent.yaml")))
}
