package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlab/tokensim/sim"
)

func TestComposeScenarios_WritesLoadableEcosystem(t *testing.T) {
	// GIVEN two scenario files with distinct economy names
	a := writeScenario(t, depletingScenario)
	b := writeScenario(t, strings.Replace(depletingScenario, "name: tokenA", "name: tokenB", 1))
	var buf bytes.Buffer

	// WHEN they are composed
	require.NoError(t, composeScenarios([]string{a, b}, &buf))

	// THEN the output parses back into a two-economy scenario
	sc, err := sim.ParseScenario(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, sc.Economies, 2)
	assert.Equal(t, "tokenB", sc.Economies[1].Name)
	assert.Equal(t, 20, sc.Iterations)
}

func TestComposeScenarios_NoPaths_ReturnsError(t *testing.T) {
	assert.Error(t, composeScenarios(nil, &bytes.Buffer{}))
}
