package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlab/tokensim/sim/export"
	"github.com/tokenlab/tokensim/sim/trace"
)

func TestConvertRun_LatestRunWrittenAsCSV(t *testing.T) {
	// GIVEN a database holding one run of the depleting scenario
	sc := loadScenario(t, depletingScenario)
	dbPath := filepath.Join(t.TempDir(), "results.db")
	opts := runOptions{Iterations: 20, Repetitions: 2, Seed: 3, Workers: 1, SQLite: dbPath, Trace: trace.TraceLevelNone}
	require.NoError(t, runScenario(context.Background(), sc, opts, &bytes.Buffer{}))

	// WHEN it is converted without a run id
	var buf bytes.Buffer
	require.NoError(t, convertRun(dbPath, "", &buf))

	// THEN the CSV holds a header and one line per stored row
	table, err := export.ReadCSV(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())
	assert.Contains(t, table.Columns, "repetition_run")
}

func TestConvertRun_EmptyDatabase_ReturnsError(t *testing.T) {
	err := convertRun(filepath.Join(t.TempDir(), "empty.db"), "", &bytes.Buffer{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runs stored")
}

func TestConvertRun_MalformedID_ReturnsError(t *testing.T) {
	err := convertRun(filepath.Join(t.TempDir(), "empty.db"), "not-a-uuid", &bytes.Buffer{})

	assert.Error(t, err)
}
