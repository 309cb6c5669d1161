// Package montecarlo repeats a simulation many times and aggregates the
// resulting time series.
package montecarlo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tokenlab/tokensim/sim"
	"github.com/tokenlab/tokensim/sim/trace"
)

// Columns added to every repetition's table.
const (
	ColRepetition    = "repetition_run"
	ColIterationTime = "iteration_time"
)

// ErrNoData is returned by the reporting methods before Execute has run.
var ErrNoData = errors.New("no Monte Carlo data, run Execute first")

// Config controls a batch of repetitions.
type Config struct {
	// Workers bounds the repetitions running at once. Values below 1 mean 1.
	Workers int
	// Seed is the master seed every repetition key is derived from.
	Seed int64
	// Trace enables halt and spawn recording when its level is "decisions".
	Trace trace.TraceConfig
}

// MetaSimulator runs independent repetitions of a canonical simulation.
// The canonical copy is taken at construction and never executed.
type MetaSimulator struct {
	canonical sim.Simulation
	cfg       Config
	runID     uuid.UUID

	data        *sim.Table
	repetitions int
	traces      []*trace.SimulationTrace
}

// NewMetaSimulator snapshots s as the canonical simulation.
func NewMetaSimulator(s sim.Simulation, cfg Config) *MetaSimulator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &MetaSimulator{
		canonical: s.Snapshot(),
		cfg:       cfg,
		runID:     uuid.New(),
	}
}

// RunID identifies this batch in exported results.
func (m *MetaSimulator) RunID() uuid.UUID { return m.runID }

// UnitOfTime is the label of the timeseries x-axis.
func (m *MetaSimulator) UnitOfTime() string { return m.canonical.UnitOfTime() }

// Data returns the combined table of the last Execute, or nil.
func (m *MetaSimulator) Data() *sim.Table { return m.data }

// Repetitions returns the repetition count of the last Execute.
func (m *MetaSimulator) Repetitions() int { return m.repetitions }

// Execute runs repetitions copies for at most iterations steps each and
// returns their tables concatenated in repetition order. A repetition that
// halts keeps the rows it recorded. ctx is checked before each repetition.
func (m *MetaSimulator) Execute(ctx context.Context, iterations, repetitions int) (*sim.Table, error) {
	if iterations < 0 || repetitions < 0 {
		return nil, fmt.Errorf("%w: iterations and repetitions must be non-negative, got %d and %d",
			sim.ErrInvalidConfig, iterations, repetitions)
	}
	logrus.Infof("Monte Carlo run %s: %d repetitions x %d iterations on %d workers",
		m.runID, repetitions, iterations, m.cfg.Workers)

	results := make([]*sim.Table, repetitions)
	traces := make([]*trace.SimulationTrace, repetitions)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for r := 0; r < repetitions; r++ {
		// Snapshots are taken here so the canonical copy is only ever read
		// from this goroutine.
		copied := m.canonical.Snapshot()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tbl, st, err := m.runRepetition(copied, r, iterations)
			if err != nil {
				return fmt.Errorf("repetition %d: %w", r, err)
			}
			results[r], traces[r] = tbl, st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var combined *sim.Table
	for _, tbl := range results {
		if combined == nil {
			combined = sim.NewTable(tbl.Columns...)
		}
		if err := combined.AppendTable(tbl); err != nil {
			return nil, err
		}
	}
	if combined == nil {
		combined = sim.NewTable()
	}
	m.data, m.repetitions, m.traces = combined, repetitions, traces
	logrus.Infof("Monte Carlo run %s: %d rows", m.runID, combined.Len())
	return combined, nil
}

func (m *MetaSimulator) runRepetition(s sim.Simulation, r, iterations int) (*sim.Table, *trace.SimulationTrace, error) {
	s.Reset()
	key := sim.NewSimulationKey(m.cfg.Seed).Derive(sim.SubsystemRepetition(r))
	s.Reseed(sim.NewPartitionedRNG(key))

	var st *trace.SimulationTrace
	if m.cfg.Trace.Level == trace.TraceLevelDecisions {
		st = trace.NewSimulationTrace(m.cfg.Trace)
		if t, ok := s.(sim.Traced); ok {
			t.SetTrace(st)
		}
	}

	for i := 0; i < iterations; i++ {
		ok, err := s.Execute()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			logrus.Debugf("repetition %d halted after %d iterations", r, i)
			break
		}
	}

	tbl := s.Data()
	reps := make([]float64, tbl.Len())
	times := make([]float64, tbl.Len())
	for i := range reps {
		reps[i] = float64(r)
		times[i] = float64(i)
	}
	if err := tbl.AddColumn(ColRepetition, reps); err != nil {
		return nil, nil, err
	}
	if err := tbl.AddColumn(ColIterationTime, times); err != nil {
		return nil, nil, err
	}
	return tbl, st, nil
}

// Trace returns every repetition's records merged in repetition order, or
// nil when tracing is off.
func (m *MetaSimulator) Trace() *trace.SimulationTrace {
	if m.cfg.Trace.Level != trace.TraceLevelDecisions {
		return nil
	}
	merged := trace.NewSimulationTrace(m.cfg.Trace)
	for _, st := range m.traces {
		merged.Merge(st)
	}
	return merged
}
