package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical tables.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Derive returns the key of a child run, e.g. one Monte Carlo repetition.
// Derivation is pure: it never touches any RNG state.
func (k SimulationKey) Derive(name string) SimulationKey {
	return SimulationKey(int64(k) ^ int64(fnv1a64(name)))
}

// === Subsystem names ===

const (
	// SubsystemSupply drives the economy's core supply controller.
	SubsystemSupply = "supply"
	// SubsystemHoldingTime drives the holding-time controller.
	SubsystemHoldingTime = "holding_time"
	// SubsystemPrice drives the price function controller.
	SubsystemPrice = "price"
	// SubsystemShuffle orders economies inside an Ecosystem.
	SubsystemShuffle = "shuffle"
)

// SubsystemPool returns the scope name for agent pool i.
func SubsystemPool(i int) string {
	return fmt.Sprintf("pool_%d", i)
}

// SubsystemSupplyPool returns the scope name for auxiliary supply pool i.
func SubsystemSupplyPool(i int) string {
	return fmt.Sprintf("supply_pool_%d", i)
}

// SubsystemRepetition returns the name a repetition key is derived from.
func SubsystemRepetition(r int) string {
	return fmt.Sprintf("repetition_%d", r)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG streams per component scope.
//
// Derivation: each scope gets a PCG stream seeded with (masterKey, fnv1a64(scope)),
// so drawing from one component never shifts another component's sequence.
//
// Thread-safety: NOT thread-safe. Each repetition owns its own PartitionedRNG.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named scope.
// The same name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewPCG(uint64(p.key), fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// Reseeder is implemented by every component that draws random numbers.
// Composite components forward the call to their children with a longer scope.
type Reseeder interface {
	Reseed(p *PartitionedRNG, scope string)
}

// reseed forwards to x when it draws random numbers; a no-op otherwise.
func reseed(x any, p *PartitionedRNG, scope string) {
	if r, ok := x.(Reseeder); ok && r != nil {
		r.Reseed(p, scope)
	}
}

// randomness is embedded by stochastic components. A component that was never
// reseeded falls back to a fixed default stream so it stays usable standalone.
type randomness struct {
	rng *rand.Rand
}

// Reseed binds the component to the stream for scope.
func (r *randomness) Reseed(p *PartitionedRNG, scope string) {
	r.rng = p.ForSubsystem(scope)
}

func (r *randomness) stream() *rand.Rand {
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(0, fnv1a64("default")))
	}
	return r.rng
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
