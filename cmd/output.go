package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/tokenlab/tokensim/sim/montecarlo"
	"github.com/tokenlab/tokensim/sim/trace"
)

// printReport writes the report as an aligned table, one row per feature.
func printReport(out io.Writer, r *montecarlo.Report) {
	fmt.Fprintln(out, "=== Report ===")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "feature")
	for _, s := range r.Statistics {
		fmt.Fprintf(w, "\t%s", s)
	}
	fmt.Fprintln(w)
	for i, f := range r.Features {
		fmt.Fprint(w, f)
		for _, v := range r.Values[i] {
			fmt.Fprintf(w, "\t%.6g", v)
		}
		fmt.Fprintln(w)
	}
	_ = w.Flush()
}

func printTraceSummary(out io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(out, "=== Trace ===")
	fmt.Fprintf(out, "Halts: %d, Spawns: %d\n", s.TotalHalts, s.TotalSpawns)
	reasons := make([]string, 0, len(s.HaltsByReason))
	for r := range s.HaltsByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(out, "  %s: %d\n", r, s.HaltsByReason[trace.HaltReason(r)])
	}
	if s.TotalHalts > 0 {
		fmt.Fprintf(out, "Earliest halt at iteration %d, mean %.2f\n", s.EarliestHalt, s.MeanHaltIteration)
	}
}
