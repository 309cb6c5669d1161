package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlab/tokensim/sim"
	"github.com/tokenlab/tokensim/sim/export"
	"github.com/tokenlab/tokensim/sim/trace"
)

// depletingScenario burns 400 of 1000 tokens per step, so each repetition
// records two rows and halts.
const depletingScenario = `
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

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func loadScenario(t *testing.T, content string) *sim.Scenario {
	t.Helper()
	sc, err := sim.LoadScenario(writeScenario(t, content))
	require.NoError(t, err)
	return sc
}

// newRunFlags returns a command with its own run-count flags bound to the
// package globals, so tests can mark flags changed without touching runCmd.
func newRunFlags(t *testing.T) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "run"}
	c.Flags().IntVar(&iterations, "iterations", 60, "")
	c.Flags().IntVar(&repetitions, "repetitions", 100, "")
	c.Flags().Int64Var(&seed, "seed", 42, "")
	t.Cleanup(func() { iterations, repetitions, seed = 60, 100, 42 })
	return c
}

func TestResolveOptions_ScenarioValuesUsedWhenFlagsUnset(t *testing.T) {
	// GIVEN a scenario with its own iterations, repetitions and seed
	sc := loadScenario(t, depletingScenario)
	c := newRunFlags(t)

	// WHEN no flag is changed
	opts := resolveOptions(c, sc)

	// THEN the scenario's values are used
	assert.Equal(t, 20, opts.Iterations)
	assert.Equal(t, 2, opts.Repetitions)
	assert.Equal(t, int64(3), opts.Seed)
}

func TestResolveOptions_ExplicitFlagsWin(t *testing.T) {
	// GIVEN a scenario and explicitly set flags
	sc := loadScenario(t, depletingScenario)
	c := newRunFlags(t)
	require.NoError(t, c.Flags().Set("iterations", "5"))
	require.NoError(t, c.Flags().Set("seed", "99"))

	// WHEN options are resolved
	opts := resolveOptions(c, sc)

	// THEN the flags override the scenario, untouched settings do not
	assert.Equal(t, 5, opts.Iterations)
	assert.Equal(t, int64(99), opts.Seed)
	assert.Equal(t, 2, opts.Repetitions)
}

func TestResolveOptions_MissingScenarioCountsFallBackToFlagDefaults(t *testing.T) {
	// GIVEN a scenario without iterations or repetitions
	sc := loadScenario(t, depletingScenario)
	sc.Iterations, sc.Repetitions = 0, 0
	c := newRunFlags(t)

	// WHEN options are resolved
	opts := resolveOptions(c, sc)

	// THEN the flag defaults apply
	assert.Equal(t, 60, opts.Iterations)
	assert.Equal(t, 100, opts.Repetitions)
}

func TestRunScenario_WritesEveryRequestedOutput(t *testing.T) {
	// GIVEN a depleting scenario and every output enabled
	sc := loadScenario(t, depletingScenario)
	dir := t.TempDir()
	opts := runOptions{
		Iterations:  sc.Iterations,
		Repetitions: sc.Repetitions,
		Seed:        sc.Seed,
		Workers:     2,
		CSV:         filepath.Join(dir, "out.csv"),
		SQLite:      filepath.Join(dir, "out.db"),
		Report:      true,
		Timeseries:  []string{"num_users"},
		Trace:       trace.TraceLevelDecisions,
	}
	var buf bytes.Buffer

	// WHEN the scenario runs
	require.NoError(t, runScenario(context.Background(), sc, opts, &buf))

	// THEN the report, timeseries and trace summary are printed
	out := buf.String()
	assert.Contains(t, out, "=== Report ===")
	assert.Contains(t, out, "=== Timeseries: num_users ===")
	assert.Contains(t, out, "num_users_mean,num_users_median,sd,quant_10%,quant_90%")
	assert.Contains(t, out, "=== Trace ===")
	assert.Contains(t, out, "Halts: 2, Spawns: 0")
	assert.Less(t, strings.Index(out, "=== Report ==="), strings.Index(out, "=== Trace ==="))

	// AND the CSV file holds both repetitions
	f, err := os.Open(opts.CSV)
	require.NoError(t, err)
	defer f.Close()
	tbl, err := export.ReadCSV(f)
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.Len())

	// AND the database holds one run with both halts
	db, err := export.OpenSQLite(opts.SQLite)
	require.NoError(t, err)
	defer db.Close()
	ids, err := db.RunIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	n, err := db.CountHalts(ids[0])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunScenario_UnknownTimeseriesFeature_ReturnsError(t *testing.T) {
	// GIVEN a timeseries request for a column that does not exist
	sc := loadScenario(t, depletingScenario)
	opts := runOptions{Iterations: 3, Repetitions: 1, Seed: 1, Workers: 1, Timeseries: []string{"nope"}}

	// WHEN the scenario runs
	err := runScenario(context.Background(), sc, opts, &bytes.Buffer{})

	// THEN the feature is named in the error
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestRunScenario_NoOutputsRequested_PrintsNothing(t *testing.T) {
	// GIVEN no outputs enabled
	sc := loadScenario(t, depletingScenario)
	opts := runOptions{Iterations: 3, Repetitions: 1, Seed: 1, Workers: 1, Trace: trace.TraceLevelNone}
	var buf bytes.Buffer

	// WHEN the scenario runs
	require.NoError(t, runScenario(context.Background(), sc, opts, &buf))

	// THEN stdout stays empty
	assert.Empty(t, buf.String())
}
