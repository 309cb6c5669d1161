package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tokenlab/tokensim/sim"
	"github.com/tokenlab/tokensim/sim/export"
	"github.com/tokenlab/tokensim/sim/montecarlo"
	"github.com/tokenlab/tokensim/sim/trace"
)

var (
	scenarioPath string // Path to the YAML scenario
	iterations   int    // Steps per repetition
	repetitions  int    // Monte Carlo repetitions
	seed         int64  // Master seed
	workers      int    // Repetitions run at once
	csvPath      string // CSV output of the combined table
	sqlitePath   string // SQLite results database
	showReport   bool   // Print the summary report
	timeseries   []string
	traceLevel   string // Decision trace level
	logLevel     string // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "tokensim",
	Short: "Monte Carlo simulator for token economies",
}

// runOptions carries the resolved settings of one run command.
type runOptions struct {
	Iterations  int
	Repetitions int
	Seed        int64
	Workers     int
	CSV         string
	SQLite      string
	Report      bool
	Timeseries  []string
	Trace       trace.TraceLevel
}

// resolveOptions merges the scenario's run settings with the flags the user
// set explicitly. Explicit flags win.
func resolveOptions(cmd *cobra.Command, sc *sim.Scenario) runOptions {
	opts := runOptions{
		Iterations:  sc.Iterations,
		Repetitions: sc.Repetitions,
		Seed:        sc.Seed,
		Workers:     workers,
		CSV:         csvPath,
		SQLite:      sqlitePath,
		Report:      showReport,
		Timeseries:  timeseries,
		Trace:       trace.TraceLevel(traceLevel),
	}
	if cmd.Flags().Changed("iterations") || opts.Iterations == 0 {
		opts.Iterations = iterations
	}
	if cmd.Flags().Changed("repetitions") || opts.Repetitions == 0 {
		opts.Repetitions = repetitions
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed = seed
	}
	return opts
}

// runCmd executes the scenario's Monte Carlo batch
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario for many repetitions",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if scenarioPath == "" {
			logrus.Fatalf("--scenario is required")
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}
		sc, err := sim.LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		opts := resolveOptions(cmd, sc)

		startTime := time.Now()
		if err := runScenario(cmd.Context(), sc, opts, os.Stdout); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startTime))
	},
}

// runScenario builds the scenario, runs it, and writes every requested
// output. Reports go to out.
func runScenario(ctx context.Context, sc *sim.Scenario, opts runOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := sc.Build()
	if err != nil {
		return err
	}
	logrus.Infof("Starting %d repetitions of %d iterations, seed=%d", opts.Repetitions, opts.Iterations, opts.Seed)

	meta := montecarlo.NewMetaSimulator(s, montecarlo.Config{
		Workers: opts.Workers,
		Seed:    opts.Seed,
		Trace:   trace.TraceConfig{Level: opts.Trace},
	})
	data, err := meta.Execute(ctx, opts.Iterations, opts.Repetitions)
	if err != nil {
		return err
	}

	info := export.RunInfo{
		ID:          meta.RunID(),
		Seed:        opts.Seed,
		Iterations:  opts.Iterations,
		Repetitions: opts.Repetitions,
		UnitOfTime:  meta.UnitOfTime(),
		CreatedAt:   time.Now().UTC(),
	}
	if opts.CSV != "" {
		if err := export.ExportCSV(info, data, "", opts.CSV); err != nil {
			return err
		}
		logrus.Infof("Wrote %d rows to %s", data.Len(), opts.CSV)
	}
	if opts.SQLite != "" {
		db, err := export.OpenSQLite(opts.SQLite)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.SaveRun(info, data, meta.Trace()); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		logrus.Infof("Saved run %s to %s", info.ID, opts.SQLite)
	}

	if opts.Report {
		report, err := meta.Report(nil, montecarlo.AllRows())
		if err != nil {
			return err
		}
		printReport(out, report)
	}
	for _, feature := range opts.Timeseries {
		ts, err := meta.Timeseries(feature, 1)
		if err != nil {
			return fmt.Errorf("timeseries %q: %w", feature, err)
		}
		fmt.Fprintf(out, "=== Timeseries: %s ===\n", feature)
		if err := export.WriteCSV(out, ts); err != nil {
			return err
		}
	}
	if st := meta.Trace(); st != nil {
		printTraceSummary(out, trace.Summarize(st))
	}
	return nil
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&scenarioPath, "scenario", "", "Path to the YAML scenario")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().IntVar(&iterations, "iterations", 60, "Iterations per repetition (overrides the scenario)")
	runCmd.Flags().IntVar(&repetitions, "repetitions", 100, "Number of repetitions (overrides the scenario)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed (overrides the scenario)")
	runCmd.Flags().IntVar(&workers, "workers", 4, "Repetitions run in parallel")

	// Outputs
	runCmd.Flags().StringVar(&csvPath, "csv", "", "Write the combined table to this CSV file")
	runCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Save the run to this SQLite database")
	runCmd.Flags().BoolVar(&showReport, "report", false, "Print summary statistics across repetitions")
	runCmd.Flags().StringSliceVar(&timeseries, "timeseries", nil, "Print per-iteration aggregates of these columns")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Decision trace level (none, decisions)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
