package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Capability tags a dependency slot. Each tag maps to exactly one interface.
type Capability string

const (
	// CapAgentPool slots hold a PoolView.
	CapAgentPool Capability = "agent_pool"
	// CapTokenEconomy slots hold an EconomyState.
	CapTokenEconomy Capability = "token_economy"
)

// ValidCapabilities is the set of recognized capability tags.
var ValidCapabilities = map[Capability]bool{CapAgentPool: true, CapTokenEconomy: true}

// UserSource reports an active user count.
type UserSource interface {
	NumUsers() float64
}

// EconomyState is the read view of a token economy handed to controllers.
type EconomyState interface {
	UserSource
	Name() string
	Fiat() string
	Token() string
	Price() float64
	Supply() float64
	HoldingTime() float64
	TransactionsValueInFiat() float64
	TransactionsVolumeInTokens() float64
	// LastTransactionsVolumeInTokens and LastTransactionsValueInFiat are the
	// volumes recorded by the previous completed iteration (0 before the first).
	// Supply controllers run before this iteration's volumes accumulate.
	LastTransactionsVolumeInTokens() float64
	LastTransactionsValueInFiat() float64
	Iteration() int
}

// SupplyAdjuster is an economy whose circulating supply can be moved by a
// controller (bonding curves, treasuries, dependent economies).
type SupplyAdjuster interface {
	EconomyState
	AdjustSupply(delta float64)
}

// PoolView is the read-only face of an agent pool exposed to linked controllers.
type PoolView interface {
	UserSource
	Name() string
	Currency() string
	Transactions() float64
	// Economy returns the economy the pool belongs to, or nil before it is added.
	Economy() EconomyState
	// Treasury returns the pool's treasury, or nil.
	Treasury() *Treasury
}

// Dependencies is a fixed set of typed slots plus the tags a component declared.
type Dependencies struct {
	declared []Capability
	pool     PoolView
	economy  EconomyState
}

// NewDependencies declares the given capability slots, all unset.
func NewDependencies(caps ...Capability) Dependencies {
	d := Dependencies{}
	for _, c := range caps {
		d.declare(c)
	}
	return d
}

func (d *Dependencies) declare(c Capability) {
	for _, existing := range d.declared {
		if existing == c {
			return
		}
	}
	d.declared = append(d.declared, c)
}

// Link stores dep in the slot for c. It fails with ErrIncompatibleDependency
// when dep does not provide the capability.
func (d *Dependencies) Link(c Capability, dep any) error {
	switch c {
	case CapAgentPool:
		p, ok := dep.(PoolView)
		if !ok || p == nil {
			return fmt.Errorf("%w: slot %s cannot hold %T", ErrIncompatibleDependency, c, dep)
		}
		d.pool = p
	case CapTokenEconomy:
		e, ok := dep.(EconomyState)
		if !ok || e == nil {
			return fmt.Errorf("%w: slot %s cannot hold %T", ErrIncompatibleDependency, c, dep)
		}
		d.economy = e
	default:
		return fmt.Errorf("%w: unknown capability %q", ErrIncompatibleDependency, c)
	}
	d.declare(c)
	return nil
}

func (d *Dependencies) isSet(c Capability) bool {
	switch c {
	case CapAgentPool:
		return d.pool != nil
	case CapTokenEconomy:
		return d.economy != nil
	}
	return false
}

// Integral is false only when every declared slot is unset. A component with
// one of several slots unset still counts as integral, and one with no
// declared slots never does.
func (d *Dependencies) Integral() bool {
	for _, c := range d.declared {
		if d.isSet(c) {
			return true
		}
	}
	return false
}

// Pool returns the linked pool, or nil.
func (d *Dependencies) Pool() PoolView { return d.pool }

// Economy returns the linked economy, falling back to the linked pool's economy.
func (d *Dependencies) Economy() EconomyState {
	if d.economy != nil {
		return d.economy
	}
	if d.pool != nil {
		return d.pool.Economy()
	}
	return nil
}

// users reads the user count from the slot selected by src.
func (d *Dependencies) users(src Capability) (float64, error) {
	switch src {
	case CapTokenEconomy:
		if d.economy == nil {
			return 0, fmt.Errorf("%w: no %s linked", ErrIntegrity, src)
		}
		return d.economy.NumUsers(), nil
	case CapAgentPool, "":
		if d.pool == nil {
			return 0, fmt.Errorf("%w: no %s linked", ErrIntegrity, CapAgentPool)
		}
		return d.pool.NumUsers(), nil
	}
	return 0, fmt.Errorf("%w: unknown user source %q", ErrInvalidConfig, src)
}

// unlinked returns a copy with the same declared tags and every slot cleared.
func (d Dependencies) unlinked() Dependencies {
	return NewDependencies(d.declared...)
}

// Controller is the base embedded by every controller: a name, an iteration
// counter and the dependency slots.
type Controller struct {
	name      string
	iteration int
	deps      Dependencies
}

func newController(name string, caps ...Capability) Controller {
	return Controller{name: name, deps: NewDependencies(caps...)}
}

// Name returns the controller's identifier (may be empty).
func (c *Controller) Name() string { return c.name }

// Iteration returns the number of completed executions since the last reset.
func (c *Controller) Iteration() int { return c.iteration }

// Link wires dep into the slot for tag.
func (c *Controller) Link(tag Capability, dep any) error { return c.deps.Link(tag, dep) }

// TestIntegrity reports whether at least one declared dependency is linked.
func (c *Controller) TestIntegrity() bool { return c.deps.Integral() }

// Dependencies maps each declared tag to the linked component's name ("" if unset).
func (c *Controller) Dependencies() map[Capability]string {
	out := make(map[Capability]string, len(c.deps.declared))
	for _, tag := range c.deps.declared {
		name := ""
		switch tag {
		case CapAgentPool:
			if c.deps.pool != nil {
				name = c.deps.pool.Name()
			}
		case CapTokenEconomy:
			if c.deps.economy != nil {
				name = c.deps.economy.Name()
			}
		}
		out[tag] = name
	}
	logrus.Debugf("dependencies of %q: %v", c.name, out)
	return out
}

// cloneBase copies name and iteration and drops every link.
func (c *Controller) cloneBase() Controller {
	return Controller{name: c.name, iteration: c.iteration, deps: c.deps.unlinked()}
}

// Linker is implemented by every component that takes dependencies.
type Linker interface {
	Link(tag Capability, dep any) error
}

// linkAll links dep into every component that is non-nil.
func linkAll(tag Capability, dep any, components ...Linker) error {
	for _, c := range components {
		if c == nil {
			continue
		}
		if err := c.Link(tag, dep); err != nil {
			return err
		}
	}
	return nil
}
