// Package trace records the notable decisions a token economy takes while it
// runs: early halts and pools spawned by agent pools.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// HaltReason names why a repetition stopped before its iteration limit.
type HaltReason string

const (
	// HaltSupplyDepleted: circulating supply reached zero or below.
	HaltSupplyDepleted HaltReason = "supply_depleted"
	// HaltZeroPrice: price hit zero while a fiat pool needed to divide by it.
	HaltZeroPrice HaltReason = "zero_price"
	// HaltExhausted: a data-driven controller ran out of values.
	HaltExhausted HaltReason = "data_exhausted"
)

// HaltRecord captures the step at which an economy stopped.
type HaltRecord struct {
	Economy   string
	Iteration int
	Reason    HaltReason
	Supply    float64
	Price     float64
	Detail    string
}

// SpawnRecord captures one pool returned by an agent pool during its step.
type SpawnRecord struct {
	Economy   string
	Iteration int
	Parent    string // the agent pool that produced it
	Kind      string // "agent_pool" or "supply_pool"
	Name      string
}
