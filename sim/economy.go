package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/tokenlab/tokensim/sim/trace"
)

// effectiveEpsilon keeps the diagnostic holding time finite with no fiat flow.
const effectiveEpsilon = 1e-9

// Simulation is anything the Monte Carlo engine can repeat: a single economy
// or an ecosystem of several.
type Simulation interface {
	// Execute advances one step. It returns false when the run halted early.
	Execute() (bool, error)
	Reset()
	Data() *Table
	Reseed(p *PartitionedRNG)
	// Snapshot returns an independent deep copy.
	Snapshot() Simulation
	UnitOfTime() string
}

// Traced simulations accept a decision trace.
type Traced interface {
	SetTrace(st *trace.SimulationTrace)
}

// EconomyConfig configures a TokenEconomy.
type EconomyConfig struct {
	Name  string
	Fiat  string // default "$"
	Token string // default "token"

	InitialPrice float64
	// Supply is the core supply controller. Nil means a ConstantSupply of
	// InitialSupply.
	Supply        SupplyController
	InitialSupply float64
	// SupplyIsAdded adds the controller's output to supply; false treats it
	// as the circulating supply. Nil means true.
	SupplyIsAdded          *bool
	IgnoreSupplyController bool

	HoldingTime HoldingTimeController
	// PriceFunction defaults to an unsmoothed equation of exchange.
	PriceFunction PriceFunctionController

	AgentPools  []AgentPool
	SupplyPools []SupplyController

	// BurnToken removes each step's token volume from supply after recording.
	BurnToken bool
	// SafeguardSupply caps token volume at supply from the second step on.
	SafeguardSupply bool
	// DependsOn is a parent economy whose supply this economy's fiat volume
	// consumes every step.
	DependsOn SupplyAdjuster

	UnitOfTime string // default "month"
}

type history struct {
	price, supply, holdingTime, effective, numUsers, fiat, tokens, iteration []float64
}

func (h *history) len() int { return len(h.price) }

// TokenEconomy runs the per-step state machine over its controllers and pools.
type TokenEconomy struct {
	name, fiat, token, unitOfTime string

	price, supply, holdingTime float64
	txFiat, txTokens           float64
	lastFiat, lastTokens       float64
	numUsers                   float64
	effectiveHoldingTime       float64
	iteration                  int

	supplyCtl   SupplyController
	holdingCtl  HoldingTimeController
	priceCtl    PriceFunctionController
	pools       []AgentPool
	supplyPools []SupplyController

	spawnedPools  []AgentPool
	spawnedSupply []SupplyController
	spawns        []Spawn

	supplyIsAdded bool
	ignoreSupply  bool
	burnToken     bool
	safeguard     bool
	dependsOn     SupplyAdjuster
	initialised   bool

	hist  history
	trace *trace.SimulationTrace
}

// NewTokenEconomy validates cfg and links every controller and pool.
func NewTokenEconomy(cfg EconomyConfig) (*TokenEconomy, error) {
	if cfg.HoldingTime == nil {
		return nil, fmt.Errorf("%w: economy %q needs a holding time controller", ErrInvalidConfig, cfg.Name)
	}
	if cfg.InitialPrice < 0 {
		return nil, fmt.Errorf("%w: initial price must be non-negative, got %v", ErrInvalidConfig, cfg.InitialPrice)
	}
	e := &TokenEconomy{
		name:          cfg.Name,
		fiat:          defaultString(cfg.Fiat, "$"),
		token:         defaultString(cfg.Token, "token"),
		unitOfTime:    defaultString(cfg.UnitOfTime, "month"),
		price:         cfg.InitialPrice,
		supplyCtl:     cfg.Supply,
		holdingCtl:    cfg.HoldingTime,
		priceCtl:      cfg.PriceFunction,
		supplyIsAdded: cfg.SupplyIsAdded == nil || *cfg.SupplyIsAdded,
		ignoreSupply:  cfg.IgnoreSupplyController,
		burnToken:     cfg.BurnToken,
		safeguard:     cfg.SafeguardSupply,
		dependsOn:     cfg.DependsOn,
	}
	if e.fiat == e.token {
		return nil, fmt.Errorf("%w: fiat and token are both %q", ErrInvalidConfig, e.fiat)
	}
	if e.supplyCtl == nil {
		e.supplyCtl = NewConstantSupply(cfg.InitialSupply)
	}
	if e.priceCtl == nil {
		eoe, err := NewEquationOfExchange(EquationOfExchangeConfig{})
		if err != nil {
			return nil, err
		}
		e.priceCtl = eoe
	}
	if err := e.linkControllers(); err != nil {
		return nil, err
	}
	e.holdingTime = e.holdingCtl.HoldingTime()
	for _, p := range cfg.AgentPools {
		if err := e.AddAgentPool(p); err != nil {
			return nil, err
		}
	}
	for _, sp := range cfg.SupplyPools {
		if err := e.AddSupplyPool(sp); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (e *TokenEconomy) linkControllers() error {
	return linkAll(CapTokenEconomy, e, e.supplyCtl, e.holdingCtl, e.priceCtl)
}

// AddAgentPool links pool to the economy. The pool's currency must be the
// economy's fiat or token.
func (e *TokenEconomy) AddAgentPool(pool AgentPool) error {
	if pool == nil {
		return fmt.Errorf("%w: nil agent pool", ErrInvalidConfig)
	}
	if c := pool.Currency(); c != e.fiat && c != e.token {
		return fmt.Errorf("%w: pool %q trades %q, economy %q uses %q and %q",
			ErrInvalidConfig, pool.Name(), c, e.name, e.fiat, e.token)
	}
	if err := pool.Link(CapTokenEconomy, e); err != nil {
		return err
	}
	e.pools = append(e.pools, pool)
	e.initialised = false
	return nil
}

// AddSupplyPool links an auxiliary supply controller to the economy.
func (e *TokenEconomy) AddSupplyPool(sp SupplyController) error {
	if sp == nil {
		return fmt.Errorf("%w: nil supply pool", ErrInvalidConfig)
	}
	if err := sp.Link(CapTokenEconomy, e); err != nil {
		return err
	}
	e.supplyPools = append(e.supplyPools, sp)
	return nil
}

// Initialise wires Initialisable pools. It is idempotent.
func (e *TokenEconomy) Initialise() error {
	if len(e.pools) == 0 {
		return fmt.Errorf("%w: economy %q has no agent pools", ErrIntegrity, e.name)
	}
	for _, p := range e.pools {
		if ip, ok := p.(Initialisable); ok && !ip.Initialised() {
			if err := ip.Initialise(e); err != nil {
				return fmt.Errorf("initialising pool %q: %w", p.Name(), err)
			}
		}
	}
	e.initialised = true
	return nil
}

// TestIntegrity fails when there are no pools or any pool is not integral.
func (e *TokenEconomy) TestIntegrity() error {
	if len(e.pools) == 0 {
		return fmt.Errorf("%w: economy %q has no agent pools", ErrIntegrity, e.name)
	}
	seen := make(map[AgentPool]bool, len(e.pools))
	for _, p := range e.pools {
		if !p.TestIntegrity() {
			return fmt.Errorf("%w: agent pool %q is not linked", ErrIntegrity, p.Name())
		}
		if seen[p] {
			logrus.Warnf("economy %q: agent pool %q added twice", e.name, p.Name())
		}
		seen[p] = true
	}
	return nil
}

// Execute runs one step. It returns false, without error, when supply is
// depleted, when a fiat pool meets a zero price, or when a data-driven
// controller runs out of values.
func (e *TokenEconomy) Execute() (bool, error) {
	if !e.initialised {
		if err := e.Initialise(); err != nil {
			return false, err
		}
	}
	if err := e.TestIntegrity(); err != nil {
		return false, err
	}

	e.lastFiat, e.lastTokens = e.txFiat, e.txTokens
	e.txFiat, e.txTokens = 0, 0
	e.spawnedPools, e.spawnedSupply, e.spawns = nil, nil, nil

	v, err := e.supplyCtl.Execute()
	if err != nil {
		return e.fail(err)
	}
	if !e.ignoreSupply {
		if e.supplyIsAdded {
			e.supply += v
		} else {
			e.supply = v
		}
	}
	for _, sp := range e.supplyPools {
		v, err := sp.Execute()
		if err != nil {
			return e.fail(err)
		}
		e.supply += v
	}

	if e.supply == 0 {
		logrus.Warnf("economy %q: supply reached 0 at iteration %d", e.name, e.iteration)
	}
	if e.supply <= 0 {
		return e.halt(trace.HaltSupplyDepleted, fmt.Sprintf("supply %v", e.supply))
	}

	e.holdingTime = e.holdingCtl.HoldingTime()

	for _, pool := range e.pools {
		spawned, err := pool.Execute()
		if err != nil {
			return e.fail(err)
		}
		tx := pool.Transactions()
		switch pool.Currency() {
		case e.token:
			if tx > 0 {
				e.txTokens += tx
				e.txFiat += tx * e.price
			} else {
				e.supply += math.Abs(tx)
			}
		case e.fiat:
			if e.price <= 0 {
				return e.halt(trace.HaltZeroPrice, fmt.Sprintf("pool %q", pool.Name()))
			}
			if tx > 0 {
				e.txFiat += tx
				e.txTokens += tx / e.price
			} else {
				e.supply += math.Abs(tx / e.price)
			}
			if e.safeguard && e.iteration > 0 && e.txTokens > e.supply {
				e.txTokens = e.supply
				e.txFiat = e.txTokens * e.price
			}
		default:
			return false, fmt.Errorf("%w: pool %q trades %q", ErrInvalidConfig, pool.Name(), pool.Currency())
		}
		e.buffer(pool, spawned)
	}

	e.numUsers = 0
	for _, pool := range e.pools {
		e.numUsers += pool.NumUsers()
	}

	if err := e.priceCtl.Execute(); err != nil {
		return e.fail(err)
	}
	if err := e.holdingCtl.Execute(); err != nil {
		return e.fail(err)
	}
	e.price = e.priceCtl.Price()
	if e.supply < 0 {
		return e.halt(trace.HaltSupplyDepleted, fmt.Sprintf("supply %v after pricing", e.supply))
	}

	e.effectiveHoldingTime = e.price * e.supply / (e.txFiat + effectiveEpsilon)
	e.record()

	if e.burnToken {
		e.supply -= e.txTokens
	}
	if e.dependsOn != nil {
		e.dependsOn.AdjustSupply(-e.txFiat)
	}
	e.iteration++
	return true, nil
}

// buffer keeps the pools a pool spawned this step. The buffers are cleared at
// the start of every step and never executed.
func (e *TokenEconomy) buffer(parent AgentPool, spawned []Spawn) {
	for _, s := range spawned {
		switch s.Kind {
		case SpawnAgentPool:
			e.spawnedPools = append(e.spawnedPools, s.Pool)
		case SpawnSupplyPool:
			e.spawnedSupply = append(e.spawnedSupply, s.Supply)
		default:
			logrus.Warnf("economy %q: pool %q spawned unknown kind %q", e.name, parent.Name(), s.Kind)
			continue
		}
		e.spawns = append(e.spawns, s)
		logrus.Debugf("economy %q: pool %q spawned %s %q", e.name, parent.Name(), s.Kind, s.Name())
		e.trace.RecordSpawn(trace.SpawnRecord{
			Economy:   e.name,
			Iteration: e.iteration,
			Parent:    parent.Name(),
			Kind:      string(s.Kind),
			Name:      s.Name(),
		})
	}
}

func (e *TokenEconomy) record() {
	e.hist.price = append(e.hist.price, e.price)
	e.hist.supply = append(e.hist.supply, e.supply)
	e.hist.holdingTime = append(e.hist.holdingTime, e.holdingTime)
	e.hist.effective = append(e.hist.effective, e.effectiveHoldingTime)
	e.hist.numUsers = append(e.hist.numUsers, e.numUsers)
	e.hist.fiat = append(e.hist.fiat, e.txFiat)
	e.hist.tokens = append(e.hist.tokens, e.txTokens)
	e.hist.iteration = append(e.hist.iteration, float64(e.iteration+1))
}

func (e *TokenEconomy) halt(reason trace.HaltReason, detail string) (bool, error) {
	logrus.Warnf("economy %q halted at iteration %d: %s (%s)", e.name, e.iteration, reason, detail)
	e.trace.RecordHalt(trace.HaltRecord{
		Economy:   e.name,
		Iteration: e.iteration,
		Reason:    reason,
		Supply:    e.supply,
		Price:     e.price,
		Detail:    detail,
	})
	return false, nil
}

// fail turns data exhaustion into a halt and passes other errors through.
func (e *TokenEconomy) fail(err error) (bool, error) {
	if errors.Is(err, ErrExhaustedSequence) {
		return e.halt(trace.HaltExhausted, err.Error())
	}
	return false, fmt.Errorf("economy %q iteration %d: %w", e.name, e.iteration, err)
}

// Reset resets every agent pool and the step counter. History is kept.
func (e *TokenEconomy) Reset() {
	for _, p := range e.pools {
		p.Reset()
	}
	e.iteration = 0
}

// Data returns one row per recorded step.
func (e *TokenEconomy) Data() *Table {
	t := NewTable(e.token+"_price", "transactions_"+e.fiat, "num_users", "iteration",
		"holding_time", "effective_holding_time", "supply", "transactions_"+e.token)
	h := &e.hist
	for i := 0; i < h.len(); i++ {
		t.Rows = append(t.Rows, []float64{
			h.price[i], h.fiat[i], h.numUsers[i], h.iteration[i],
			h.holdingTime[i], h.effective[i], h.supply[i], h.tokens[i],
		})
	}
	return t
}

// Reseed binds every stochastic component to a stream of p.
func (e *TokenEconomy) Reseed(p *PartitionedRNG) { e.reseedUnder(p, "") }

func (e *TokenEconomy) reseedUnder(p *PartitionedRNG, prefix string) {
	reseed(e.supplyCtl, p, prefix+SubsystemSupply)
	reseed(e.holdingCtl, p, prefix+SubsystemHoldingTime)
	reseed(e.priceCtl, p, prefix+SubsystemPrice)
	for i, pool := range e.pools {
		reseed(pool, p, prefix+SubsystemPool(i))
	}
	for i, sp := range e.supplyPools {
		reseed(sp, p, prefix+SubsystemSupplyPool(i))
	}
}

// Clone returns a deep copy with empty history. Controllers shared inside
// the economy stay shared in the copy.
func (e *TokenEconomy) Clone() *TokenEconomy {
	c := NewCloner()
	cp := e.cloneWith(c)
	c.Finish()
	return cp
}

// Snapshot implements Simulation.
func (e *TokenEconomy) Snapshot() Simulation { return e.Clone() }

func (e *TokenEconomy) cloneWith(c *Cloner) *TokenEconomy {
	return cloneOnce(c, e, func() *TokenEconomy {
		cp := &TokenEconomy{
			name: e.name, fiat: e.fiat, token: e.token, unitOfTime: e.unitOfTime,
			price: e.price, supply: e.supply, holdingTime: e.holdingTime,
			txFiat: e.txFiat, txTokens: e.txTokens,
			lastFiat: e.lastFiat, lastTokens: e.lastTokens,
			numUsers: e.numUsers, effectiveHoldingTime: e.effectiveHoldingTime,
			iteration:     e.iteration,
			supplyCtl:     e.supplyCtl.Clone(c),
			holdingCtl:    e.holdingCtl.Clone(c),
			priceCtl:      e.priceCtl.Clone(c),
			supplyIsAdded: e.supplyIsAdded,
			ignoreSupply:  e.ignoreSupply,
			burnToken:     e.burnToken,
			safeguard:     e.safeguard,
			dependsOn:     e.dependsOn,
		}
		if err := cp.linkControllers(); err != nil {
			logrus.Warnf("economy %q: relinking copied controllers: %v", e.name, err)
		}
		for _, p := range e.pools {
			if err := cp.AddAgentPool(p.Clone(c)); err != nil {
				logrus.Warnf("economy %q: re-adding copied pool: %v", e.name, err)
			}
		}
		for _, sp := range e.supplyPools {
			if err := cp.AddSupplyPool(sp.Clone(c)); err != nil {
				logrus.Warnf("economy %q: re-adding copied supply pool: %v", e.name, err)
			}
		}
		if e.dependsOn != nil {
			c.later(func() {
				if d, ok := c.resolve(e.dependsOn).(SupplyAdjuster); ok {
					cp.dependsOn = d
				}
			})
		}
		return cp
	})
}

// SetTrace records halts and spawns into st. Nil disables tracing.
func (e *TokenEconomy) SetTrace(st *trace.SimulationTrace) { e.trace = st }

// AdjustSupply moves circulating supply by delta.
func (e *TokenEconomy) AdjustSupply(delta float64) { e.supply += delta }

// SpawnedLastIteration returns what the pools spawned during the last step.
// These pools are never executed.
func (e *TokenEconomy) SpawnedLastIteration() []Spawn {
	return append([]Spawn(nil), e.spawns...)
}

// AgentPools returns the economy's pools in execution order.
func (e *TokenEconomy) AgentPools() []AgentPool { return append([]AgentPool(nil), e.pools...) }

// Variable exposes the economy's state to conditions.
func (e *TokenEconomy) Variable(name string) (float64, error) {
	switch name {
	case "price":
		return e.price, nil
	case "supply":
		return e.supply, nil
	case "holding_time":
		return e.holdingTime, nil
	case "effective_holding_time":
		return e.effectiveHoldingTime, nil
	case "num_users":
		return e.numUsers, nil
	case "transactions_value_in_fiat":
		return e.txFiat, nil
	case "transactions_volume_in_tokens":
		return e.txTokens, nil
	case "iteration":
		return float64(e.iteration), nil
	}
	return 0, fmt.Errorf("%w: economy %q has no variable %q", ErrInvalidConfig, e.name, name)
}

func (e *TokenEconomy) Name() string { return e.name }
func (e *TokenEconomy) Fiat() string { return e.fiat }
func (e *TokenEconomy) Token() string { return e.token }
func (e *TokenEconomy) UnitOfTime() string { return e.unitOfTime }
func (e *TokenEconomy) Price() float64 { return e.price }
func (e *TokenEconomy) Supply() float64 { return e.supply }
func (e *TokenEconomy) HoldingTime() float64 { return e.holdingTime }
func (e *TokenEconomy) EffectiveHoldingTime() float64 { return e.effectiveHoldingTime }
func (e *TokenEconomy) NumUsers() float64 { return e.numUsers }
func (e *TokenEconomy) Iteration() int { return e.iteration }
func (e *TokenEconomy) TransactionsValueInFiat() float64 { return e.txFiat }
func (e *TokenEconomy) TransactionsVolumeInTokens() float64 { return e.txTokens }
func (e *TokenEconomy) LastTransactionsValueInFiat() float64 { return e.lastFiat }
func (e *TokenEconomy) LastTransactionsVolumeInTokens() float64 { return e.lastTokens }
