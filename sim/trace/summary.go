package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalHalts        int
	TotalSpawns       int
	HaltsByReason     map[HaltReason]int
	SpawnsByKind      map[string]int
	MeanHaltIteration float64
	EarliestHalt      int // -1 when nothing halted
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		HaltsByReason: make(map[HaltReason]int),
		SpawnsByKind:  make(map[string]int),
		EarliestHalt:  -1,
	}
	if st == nil {
		return summary
	}

	summary.TotalHalts = len(st.Halts)
	summary.TotalSpawns = len(st.Spawns)
	for _, s := range st.Spawns {
		summary.SpawnsByKind[s.Kind]++
	}

	if len(st.Halts) > 0 {
		total := 0
		for _, h := range st.Halts {
			summary.HaltsByReason[h.Reason]++
			total += h.Iteration
			if summary.EarliestHalt < 0 || h.Iteration < summary.EarliestHalt {
				summary.EarliestHalt = h.Iteration
			}
		}
		summary.MeanHaltIteration = float64(total) / float64(len(st.Halts))
	}

	return summary
}
