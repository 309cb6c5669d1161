package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every halt and spawn.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during one economy run.
type SimulationTrace struct {
	Config TraceConfig
	Halts  []HaltRecord
	Spawns []SpawnRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config: config,
		Halts:  make([]HaltRecord, 0),
		Spawns: make([]SpawnRecord, 0),
	}
}

// Enabled reports whether records should be kept. Safe on a nil trace.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordHalt appends a halt record.
func (st *SimulationTrace) RecordHalt(record HaltRecord) {
	if !st.Enabled() {
		return
	}
	st.Halts = append(st.Halts, record)
}

// RecordSpawn appends a spawn record.
func (st *SimulationTrace) RecordSpawn(record SpawnRecord) {
	if !st.Enabled() {
		return
	}
	st.Spawns = append(st.Spawns, record)
}

// Merge appends other's records, e.g. to collect every repetition of a batch.
func (st *SimulationTrace) Merge(other *SimulationTrace) {
	if st == nil || other == nil {
		return
	}
	st.Halts = append(st.Halts, other.Halts...)
	st.Spawns = append(st.Spawns, other.Spawns...)
}
