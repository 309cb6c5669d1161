package montecarlo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlab/tokensim/sim"
	"github.com/tokenlab/tokensim/sim/internal/testutil"
	"github.com/tokenlab/tokensim/sim/trace"
)

func buildScenario(t *testing.T, content string) (sim.Simulation, *sim.Scenario) {
	t.Helper()
	sc, err := sim.LoadScenario(testutil.WriteScenario(t, content))
	require.NoError(t, err)
	s, err := sc.Build()
	require.NoError(t, err)
	return s, sc
}

func runMeta(t *testing.T, content string, cfg Config) *MetaSimulator {
	t.Helper()
	s, sc := buildScenario(t, content)
	cfg.Seed = sc.Seed
	m := NewMetaSimulator(s, cfg)
	_, err := m.Execute(context.Background(), sc.Iterations, sc.Repetitions)
	require.NoError(t, err)
	return m
}

func TestExecute_AddsRepetitionAndIterationTime(t *testing.T) {
	// GIVEN the constant scenario: 3 repetitions of 12 iterations
	m := runMeta(t, testutil.ConstantScenario, Config{Workers: 2})

	data := m.Data()
	require.Equal(t, 36, data.Len())
	assert.Equal(t, 3, m.Repetitions())
	assert.Equal(t, []string{ColRepetition, ColIterationTime}, data.Columns[len(data.Columns)-2:])

	reps, err := data.Column(ColRepetition)
	require.NoError(t, err)
	times, err := data.Column(ColIterationTime)
	require.NoError(t, err)

	// THEN rows are grouped by repetition in order and time restarts at 0
	for i := range reps {
		assert.Equal(t, float64(i/12), reps[i])
		assert.Equal(t, float64(i%12), times[i])
	}
}

func TestExecute_RepetitionsStartFromCanonicalState(t *testing.T) {
	m := runMeta(t, testutil.ConstantScenario, Config{Workers: 3})

	iters, err := m.Data().Column("iteration")
	require.NoError(t, err)
	users, err := m.Data().Column("num_users")
	require.NoError(t, err)
	for i := range iters {
		assert.Equal(t, float64(i%12+1), iters[i])
		assert.Equal(t, 100.0, users[i])
	}
}

func TestExecute_SameSeedAnyWorkerCount_SameData(t *testing.T) {
	one := runMeta(t, testutil.StochasticScenario, Config{Workers: 1})
	four := runMeta(t, testutil.StochasticScenario, Config{Workers: 4})

	assert.Equal(t, one.Data().Rows, four.Data().Rows)
}

func TestExecute_RepetitionsDiffer(t *testing.T) {
	m := runMeta(t, testutil.StochasticScenario, Config{Workers: 2})

	price, err := m.Data().Column("token_price")
	require.NoError(t, err)
	// 10 iterations per repetition
	assert.NotEqual(t, price[0:10], price[10:20])
}

func TestExecute_HaltedRepetitionsKeepTheirRows(t *testing.T) {
	m := runMeta(t, testutil.DepletingScenario, Config{Workers: 2, Trace: trace.TraceConfig{Level: trace.TraceLevelDecisions}})

	// 2 repetitions of 2 rows each
	assert.Equal(t, 4, m.Data().Len())

	st := m.Trace()
	require.NotNil(t, st)
	require.Len(t, st.Halts, 2)
	for _, h := range st.Halts {
		assert.Equal(t, trace.HaltSupplyDepleted, h.Reason)
		assert.Equal(t, 2, h.Iteration)
	}
}

func TestTrace_NilWhenDisabled(t *testing.T) {
	m := runMeta(t, testutil.ConstantScenario, Config{})
	assert.Nil(t, m.Trace())
}

func TestExecute_CancelledContext(t *testing.T) {
	s, sc := buildScenario(t, testutil.ConstantScenario)
	m := NewMetaSimulator(s, Config{Workers: 2, Seed: sc.Seed})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Execute(ctx, sc.Iterations, sc.Repetitions)

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Nil(t, m.Data())
}

func TestExecute_NegativeCounts(t *testing.T) {
	s, _ := buildScenario(t, testutil.ConstantScenario)
	m := NewMetaSimulator(s, Config{})

	_, err := m.Execute(context.Background(), -1, 1)
	assert.True(t, errors.Is(err, sim.ErrInvalidConfig))
	_, err = m.Execute(context.Background(), 1, -1)
	assert.True(t, errors.Is(err, sim.ErrInvalidConfig))
}

func TestExecute_ZeroRepetitions_EmptyTable(t *testing.T) {
	s, _ := buildScenario(t, testutil.ConstantScenario)
	m := NewMetaSimulator(s, Config{})

	tbl, err := m.Execute(context.Background(), 5, 0)

	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestNewMetaSimulator_CanonicalIsSnapshot(t *testing.T) {
	s, sc := buildScenario(t, testutil.ConstantScenario)
	m := NewMetaSimulator(s, Config{Seed: sc.Seed})

	// WHEN the caller keeps running its own copy
	for i := 0; i < 3; i++ {
		_, err := s.Execute()
		require.NoError(t, err)
	}
	_, err := m.Execute(context.Background(), 2, 1)
	require.NoError(t, err)

	// THEN the batch starts from the state at construction
	iters, err := m.Data().Column("iteration")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, iters)
	assert.Equal(t, "month", m.UnitOfTime())
	assert.NotEqual(t, [16]byte{}, [16]byte(m.RunID()))
}

func TestReport_BeforeExecute(t *testing.T) {
	s, _ := buildScenario(t, testutil.ConstantScenario)
	m := NewMetaSimulator(s, Config{})

	_, err := m.Report(nil, AllRows())
	assert.True(t, errors.Is(err, ErrNoData))
	_, err = m.Timeseries("supply", 1)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestReport_DefaultStatistics(t *testing.T) {
	m := runMeta(t, testutil.ConstantScenario, Config{Workers: 2})

	r, err := m.Report(nil, AllRows())
	require.NoError(t, err)

	assert.Equal(t, []string{"mean", "std", "max", "min", "quantile_10", "quantile_90"}, r.Statistics)
	assert.NotContains(t, r.Features, ColRepetition)
	assert.Contains(t, r.Features, ColIterationTime)

	users, err := r.Value("num_users", "mean")
	require.NoError(t, err)
	assert.Equal(t, 100.0, users)
	spread, err := r.Value("num_users", "std")
	require.NoError(t, err)
	assert.Equal(t, 0.0, spread)
	// mean of 0..11
	tm, err := r.Value(ColIterationTime, "max")
	require.NoError(t, err)
	assert.Equal(t, 5.5, tm)

	_, err = r.Value("num_users", "median")
	assert.Error(t, err)
}

func TestReport_Segments(t *testing.T) {
	m := runMeta(t, testutil.StochasticScenario, Config{Workers: 2})
	stats := []Statistic{Mean, Max, Min}

	t.Run("window is exclusive", func(t *testing.T) {
		r, err := m.Report(stats, Window(0, 4))
		require.NoError(t, err)
		lo, err := r.Value(ColIterationTime, "min")
		require.NoError(t, err)
		// per-repetition mean of 1, 2 and 3
		assert.Equal(t, 2.0, lo)
	})

	t.Run("single repetition has no spread", func(t *testing.T) {
		r, err := m.Report(stats, SingleRepetition(2))
		require.NoError(t, err)
		hi, err := r.Value("token_price", "max")
		require.NoError(t, err)
		lo, err := r.Value("token_price", "min")
		require.NoError(t, err)
		assert.Equal(t, hi, lo)
	})

	t.Run("last equals final repetition", func(t *testing.T) {
		last, err := m.Report(stats, LastRepetition())
		require.NoError(t, err)
		single, err := m.Report(stats, SingleRepetition(m.Repetitions()-1))
		require.NoError(t, err)
		assert.Equal(t, single.Values, last.Values)
	})

	t.Run("empty selection", func(t *testing.T) {
		_, err := m.Report(stats, Window(100, 200))
		assert.Error(t, err)
	})
}

func TestSegment_String(t *testing.T) {
	assert.Equal(t, "all", AllRows().String())
	assert.Equal(t, "window(1,5)", Window(1, 5).String())
	assert.Equal(t, "repetition 3", SingleRepetition(3).String())
	assert.Equal(t, "last", LastRepetition().String())
}

func TestTimeseries_ColumnsAndScaling(t *testing.T) {
	m := runMeta(t, testutil.ConstantScenario, Config{Workers: 2})

	ts, err := m.Timeseries("num_users", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"num_users_mean", "num_users_median", "sd", "quant_10%", "quant_90%", "month"}, ts.Columns)
	require.Equal(t, 12, ts.Len())
	for step, row := range ts.Rows {
		assert.Equal(t, []float64{200, 200, 0, 200, 200, float64(step)}, row)
	}
}

func TestTimeseries_UnknownFeature(t *testing.T) {
	m := runMeta(t, testutil.ConstantScenario, Config{})
	_, err := m.Timeseries("market_mood", 1)
	assert.Error(t, err)
}
