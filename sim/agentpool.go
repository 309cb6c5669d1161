package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// AgentPool is a cohort of actors sharing a currency. Each step it produces
// a user count and a signed transaction value, and may return new pools.
type AgentPool interface {
	PoolView
	Linker
	Iteration() int
	TestIntegrity() bool
	Execute() ([]Spawn, error)
	NumTransactions() float64
	Reset()
	Clone(c *Cloner) AgentPool
}

// Initialisable pools finish wiring once they know their economy. The
// economy calls Initialise before its first step.
type Initialisable interface {
	Initialise(econ EconomyState) error
	Initialised() bool
}

// SpawnKind tags a pool returned from AgentPool.Execute.
type SpawnKind string

const (
	SpawnAgentPool  SpawnKind = "agent_pool"
	SpawnSupplyPool SpawnKind = "supply_pool"
)

// Spawn is one pool created by an agent pool during its step. Exactly one of
// Pool and Supply is set, matching Kind.
type Spawn struct {
	Kind   SpawnKind
	Pool   AgentPool
	Supply SupplyController
}

// Name returns the spawned component's name.
func (s Spawn) Name() string {
	if s.Pool != nil {
		return s.Pool.Name()
	}
	if s.Supply != nil {
		return s.Supply.Name()
	}
	return ""
}

// FeeType selects how a pool's treasury fee is computed.
type FeeType string

const (
	// FeePercentage charges fee × transaction value.
	FeePercentage FeeType = "perc"
	// FeeFixed charges fee per transaction.
	FeeFixed FeeType = "fixed"
)

// ValidFeeTypes is the set of recognized fee types.
var ValidFeeTypes = map[FeeType]bool{FeePercentage: true, FeeFixed: true}

// PoolConfig configures a BasicPool and the pools built on it.
type PoolConfig struct {
	Name string
	// Users defaults to a constant single user.
	Users UserGrowth
	// Transactions defaults to one unit per user.
	Transactions TransactionManagement
	// Currency defaults to "$"; it must be the economy's fiat or token.
	Currency string
	// Chained pools read Users without executing it; another pool owns it.
	Chained  bool
	Treasury *Treasury
	Fee      *float64
	FeeType  FeeType
	// ActivationIteration keeps the pool inert for that many steps.
	ActivationIteration int
}

// BasicPool runs a user growth and a transaction controller each step and
// routes fees to an optional treasury.
type BasicPool struct {
	Controller
	users        UserGrowth
	transactions TransactionManagement
	currency     string
	chained      bool
	treasury     *Treasury
	fee          float64
	hasFee       bool
	feeType      FeeType
	activation   int

	numUsers    float64
	txValue     float64
	initialised bool
}

// NewAgentPool validates cfg and links the pool's controllers to it.
func NewAgentPool(cfg PoolConfig) (*BasicPool, error) {
	p := &BasicPool{}
	if err := p.configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *BasicPool) configure(cfg PoolConfig) error {
	if cfg.FeeType == "" {
		cfg.FeeType = FeePercentage
	}
	if !ValidFeeTypes[cfg.FeeType] {
		return fmt.Errorf("%w: fee_type must be perc or fixed, got %q", ErrInvalidConfig, cfg.FeeType)
	}
	if cfg.Treasury != nil && cfg.Fee == nil {
		return fmt.Errorf("%w: pool %q has a treasury but no fee", ErrInvalidConfig, cfg.Name)
	}
	if cfg.ActivationIteration < 0 {
		return fmt.Errorf("%w: activation iteration must be non-negative, got %d", ErrInvalidConfig, cfg.ActivationIteration)
	}
	if cfg.Currency == "" {
		cfg.Currency = "$"
	}
	if cfg.Users == nil {
		logrus.Warnf("agent pool %q: no user growth given, using a single constant user", cfg.Name)
		cfg.Users = NewConstantUsers(1)
	}
	if cfg.Transactions == nil {
		tx, err := NewConstantTransactions(ConstantTransactionsConfig{Average: 1})
		if err != nil {
			return err
		}
		cfg.Transactions = tx
	}
	*p = BasicPool{
		Controller:   newController(cfg.Name, CapTokenEconomy),
		users:        cfg.Users,
		transactions: cfg.Transactions,
		currency:     cfg.Currency,
		chained:      cfg.Chained,
		treasury:     cfg.Treasury,
		feeType:      cfg.FeeType,
		activation:   cfg.ActivationIteration,
	}
	if cfg.Fee != nil {
		p.fee, p.hasFee = *cfg.Fee, true
	}
	return p.linkControllers()
}

// linkControllers points the pool's own controllers at the pool. A chained
// pool leaves the shared growth controller linked to its owner.
func (p *BasicPool) linkControllers() error {
	if !p.chained {
		if err := p.users.Link(CapAgentPool, p); err != nil {
			return err
		}
	}
	return p.transactions.Link(CapAgentPool, p)
}

// Link stores dep and forwards economy links to the pool's controllers.
func (p *BasicPool) Link(tag Capability, dep any) error {
	if err := p.Controller.Link(tag, dep); err != nil {
		return err
	}
	if tag != CapTokenEconomy {
		return nil
	}
	if p.chained {
		return p.transactions.Link(tag, dep)
	}
	return linkAll(tag, dep, p.users, p.transactions)
}

func (p *BasicPool) NumUsers() float64 { return p.numUsers }
func (p *BasicPool) Currency() string { return p.currency }
func (p *BasicPool) Transactions() float64 { return p.txValue }
func (p *BasicPool) NumTransactions() float64 { return p.transactions.NumTransactions() }
func (p *BasicPool) Economy() EconomyState { return p.deps.Economy() }
func (p *BasicPool) Treasury() *Treasury { return p.treasury }

// Variable exposes the pool's state to conditions.
func (p *BasicPool) Variable(name string) (float64, error) {
	switch name {
	case "num_users":
		return p.numUsers, nil
	case "transactions":
		return p.txValue, nil
	case "num_transactions":
		return p.NumTransactions(), nil
	case "iteration":
		return float64(p.iteration), nil
	}
	return 0, fmt.Errorf("%w: pool %q has no variable %q", ErrInvalidConfig, p.name, name)
}

// Initialise links the treasury to the pool.
func (p *BasicPool) Initialise(EconomyState) error {
	if p.treasury != nil {
		if err := p.treasury.Link(CapAgentPool, p); err != nil {
			return err
		}
	}
	p.initialised = true
	return nil
}

func (p *BasicPool) Initialised() bool { return p.initialised }

// TestIntegrity requires both controllers to be integral.
func (p *BasicPool) TestIntegrity() bool {
	return p.users.TestIntegrity() && p.transactions.TestIntegrity()
}

// step runs the growth and transaction controllers.
func (p *BasicPool) step() error {
	if p.chained {
		p.numUsers = p.users.NumUsers()
	} else {
		n, err := p.users.Execute()
		if err != nil {
			return fmt.Errorf("pool %q users: %w", p.name, err)
		}
		if n < 0 {
			return fmt.Errorf("%w: negative users (%v) in pool %q", ErrInvalidConfig, n, p.name)
		}
		p.numUsers = n
	}
	tx, err := p.transactions.Execute()
	if err != nil {
		return fmt.Errorf("pool %q transactions: %w", p.name, err)
	}
	p.txValue = tx
	return nil
}

// collectFee routes the pool's fee to its treasury.
func (p *BasicPool) collectFee() {
	if p.treasury == nil || !p.hasFee {
		return
	}
	value := p.txValue * p.fee
	if p.feeType == FeeFixed {
		value = p.NumTransactions() * p.fee
	}
	p.treasury.Execute(p.currency, value)
}

func (p *BasicPool) Execute() ([]Spawn, error) {
	if p.iteration < p.activation {
		p.iteration++
		return nil, nil
	}
	if err := p.step(); err != nil {
		return nil, err
	}
	p.collectFee()
	p.iteration++
	return nil, nil
}

func (p *BasicPool) Reset() {
	p.iteration = 0
	p.numUsers = 0
	p.txValue = 0
	p.users.Reset()
	p.transactions.Reset()
	if p.treasury != nil {
		p.treasury.Reset()
	}
}

// Reseed binds the pool's controllers to streams under scope.
func (p *BasicPool) Reseed(r *PartitionedRNG, scope string) {
	if !p.chained {
		reseed(p.users, r, scope+"/users")
	}
	reseed(p.transactions, r, scope+"/transactions")
}

// copyInto fills dst with a copy of p and relinks the copied controllers.
func (p *BasicPool) copyInto(dst *BasicPool, c *Cloner) {
	*dst = BasicPool{
		Controller:   p.cloneBase(),
		users:        p.users.Clone(c),
		transactions: p.transactions.Clone(c),
		currency:     p.currency,
		chained:      p.chained,
		treasury:     p.treasury.Clone(c),
		fee:          p.fee,
		hasFee:       p.hasFee,
		feeType:      p.feeType,
		activation:   p.activation,
		numUsers:     p.numUsers,
		txValue:      p.txValue,
	}
	if err := dst.linkControllers(); err != nil {
		logrus.Warnf("pool %q: relinking copied controllers: %v", p.name, err)
	}
}

func (p *BasicPool) Clone(c *Cloner) AgentPool {
	return cloneOnce(c, p, func() *BasicPool {
		cp := &BasicPool{}
		p.copyInto(cp, c)
		return cp
	})
}

// === Buy-back ===

// BuyBackPool spends its fiat transactions buying tokens back and returns a
// one-shot burn of the purchased amount.
type BuyBackPool struct {
	BasicPool
}

func NewBuyBackPool(cfg PoolConfig) (*BuyBackPool, error) {
	p := &BuyBackPool{}
	if err := p.configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *BuyBackPool) Execute() ([]Spawn, error) {
	if err := p.step(); err != nil {
		return nil, err
	}
	p.collectFee()
	p.iteration++
	econ := p.Economy()
	if econ == nil {
		return nil, fmt.Errorf("%w: buy-back pool %q is not in an economy", ErrIntegrity, p.name)
	}
	if econ.Price() <= 0 {
		logrus.Warnf("buy-back pool %q: price is %v, skipping buy-back", p.name, econ.Price())
		return nil, nil
	}
	burn, err := NewBurnSupply(p.name+"/burn", BurnFixed, p.txValue/econ.Price(), true)
	if err != nil {
		return nil, err
	}
	if err := burn.Link(CapTokenEconomy, econ); err != nil {
		return nil, err
	}
	return []Spawn{{Kind: SpawnSupplyPool, Supply: burn}}, nil
}

func (p *BuyBackPool) Clone(c *Cloner) AgentPool {
	return cloneOnce(c, p, func() *BuyBackPool {
		cp := &BuyBackPool{}
		p.copyInto(&cp.BasicPool, c)
		return cp
	})
}

// === Staking ===

// StakerKind selects the staking position a StakingPool creates.
type StakerKind string

const (
	StakerKindLockup  StakerKind = "lockup"
	StakerKindMonthly StakerKind = "monthly"
)

// maxSpawnedStakers bounds the positions one staking step may create.
const maxSpawnedStakers = 10000

// StakingPoolConfig adds the staking position template to a PoolConfig.
type StakingPoolConfig struct {
	PoolConfig
	Kind   StakerKind
	Staker StakerConfig
	// Duration is the lockup length, or the reward period for monthly stakers.
	Duration int
}

// StakingPool converts its transaction volume into new staking positions.
type StakingPool struct {
	BasicPool
	randomness
	kind     StakerKind
	template StakerConfig
	duration int

	prng  *PartitionedRNG
	scope string
}

func NewStakingPool(cfg StakingPoolConfig) (*StakingPool, error) {
	if cfg.Kind == "" {
		cfg.Kind = StakerKindLockup
	}
	if cfg.Kind != StakerKindLockup && cfg.Kind != StakerKindMonthly {
		return nil, fmt.Errorf("%w: unknown staker kind %q", ErrInvalidConfig, cfg.Kind)
	}
	if err := cfg.Staker.validate(); err != nil {
		return nil, err
	}
	p := &StakingPool{kind: cfg.Kind, template: cfg.Staker, duration: cfg.Duration}
	if err := p.configure(cfg.PoolConfig); err != nil {
		return nil, err
	}
	if _, err := p.newStaker(0); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *StakingPool) newStaker(i int) (Staker, error) {
	cfg := p.template
	cfg.Name = fmt.Sprintf("%s/staker_%d_%d", p.name, p.iteration, i)
	if p.kind == StakerKindMonthly {
		return NewStakerMonthly(cfg, p.duration)
	}
	return NewStakerLockup(cfg, p.duration)
}

func (p *StakingPool) Execute() ([]Spawn, error) {
	if err := p.step(); err != nil {
		return nil, err
	}
	p.iteration++
	econ := p.Economy()
	if econ == nil {
		return nil, fmt.Errorf("%w: staking pool %q is not in an economy", ErrIntegrity, p.name)
	}
	if supply := econ.Supply(); p.txValue > supply {
		p.txValue = supply * p.stream().Float64()
	}
	amount, err := p.template.Amount.Draw(p.stream())
	if err != nil {
		return nil, err
	}
	if p.hasFee && p.feeType == FeePercentage {
		amount -= amount * p.fee
	}
	p.collectStakingFee()
	if amount <= 0 || p.txValue <= 0 {
		return nil, nil
	}
	n := int(p.txValue / amount)
	if n > maxSpawnedStakers {
		logrus.Warnf("staking pool %q: capping %d new stakers at %d", p.name, n, maxSpawnedStakers)
		n = maxSpawnedStakers
	}
	spawns := make([]Spawn, 0, n)
	for i := 0; i < n; i++ {
		st, err := p.newStaker(i)
		if err != nil {
			return nil, err
		}
		if err := st.Link(CapAgentPool, p); err != nil {
			return nil, err
		}
		if p.prng != nil {
			reseed(st, p.prng, fmt.Sprintf("%s/staker_%d_%d", p.scope, p.iteration, i))
		}
		if _, err := st.Execute(); err != nil {
			return nil, err
		}
		spawns = append(spawns, Spawn{Kind: SpawnSupplyPool, Supply: st})
	}
	return spawns, nil
}

// collectStakingFee charges fee × volume, or the flat fee once per step.
func (p *StakingPool) collectStakingFee() {
	if p.treasury == nil || !p.hasFee {
		return
	}
	value := p.fee
	if p.feeType == FeePercentage {
		value = p.txValue * p.fee
	}
	p.treasury.Execute(p.currency, value)
}

func (p *StakingPool) Reseed(r *PartitionedRNG, scope string) {
	p.BasicPool.Reseed(r, scope)
	p.randomness.Reseed(r, scope+"/staking")
	p.prng, p.scope = r, scope
}

func (p *StakingPool) Clone(c *Cloner) AgentPool {
	return cloneOnce(c, p, func() *StakingPool {
		cp := &StakingPool{kind: p.kind, template: p.template, duration: p.duration}
		p.copyInto(&cp.BasicPool, c)
		return cp
	})
}

// === Conditional ===

// ConditionalPoolConfig configures a pool whose extra controllers run only
// while their condition holds.
type ConditionalPoolConfig struct {
	Name         string
	Currency     string
	Users        UserGrowth
	Transactions TransactionManagement
	// ConnectToEconomy links controllers and default conditions to the
	// economy; otherwise they read from the pool. Nil means true.
	ConnectToEconomy *bool
	Treasury         *Treasury
	Fee              *float64
}

type conditional struct {
	cond         *Condition
	users        UserGrowth
	transactions TransactionManagement
}

func (a conditional) controller() Linker {
	if a.users != nil {
		return a.users
	}
	return a.transactions
}

// ConditionalPool adds the output of (condition, controller) pairs to its
// own unconditional controllers.
type ConditionalPool struct {
	Controller
	users        UserGrowth
	transactions TransactionManagement
	actions      []conditional
	currency     string
	toEconomy    bool
	treasury     *Treasury
	fee          float64

	numUsers    float64
	txValue     float64
	initialised bool
}

func NewConditionalPool(cfg ConditionalPoolConfig) (*ConditionalPool, error) {
	if cfg.Treasury != nil && cfg.Fee == nil {
		return nil, fmt.Errorf("%w: pool %q has a treasury but no fee", ErrInvalidConfig, cfg.Name)
	}
	if cfg.Currency == "" {
		cfg.Currency = "$"
	}
	p := &ConditionalPool{
		Controller:   newController(cfg.Name, CapTokenEconomy),
		users:        cfg.Users,
		transactions: cfg.Transactions,
		currency:     cfg.Currency,
		toEconomy:    cfg.ConnectToEconomy == nil || *cfg.ConnectToEconomy,
		treasury:     cfg.Treasury,
	}
	if cfg.Fee != nil {
		p.fee = *cfg.Fee
	}
	if err := p.linkToSelf(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ConditionalPool) linkers() []Linker {
	out := make([]Linker, 0, 2+len(p.actions))
	if p.users != nil {
		out = append(out, p.users)
	}
	if p.transactions != nil {
		out = append(out, p.transactions)
	}
	for _, a := range p.actions {
		out = append(out, a.controller())
	}
	return out
}

func (p *ConditionalPool) linkToSelf() error {
	return linkAll(CapAgentPool, p, p.linkers()...)
}

// AddCondition runs controller whenever cond holds. The controller must be a
// UserGrowth or a TransactionManagement.
func (p *ConditionalPool) AddCondition(cond *Condition, controller Linker) error {
	if cond == nil {
		return fmt.Errorf("%w: nil condition", ErrInvalidConfig)
	}
	a := conditional{cond: cond}
	switch ctl := controller.(type) {
	case UserGrowth:
		a.users = ctl
	case TransactionManagement:
		a.transactions = ctl
	default:
		return fmt.Errorf("%w: condition attached to %T, want user growth or transactions", ErrInvalidConfig, controller)
	}
	if err := controller.Link(CapAgentPool, p); err != nil {
		return err
	}
	p.actions = append(p.actions, a)
	p.initialised = false
	return nil
}

func (p *ConditionalPool) NumUsers() float64 { return p.numUsers }
func (p *ConditionalPool) Currency() string { return p.currency }
func (p *ConditionalPool) Transactions() float64 { return p.txValue }
func (p *ConditionalPool) Economy() EconomyState { return p.deps.Economy() }
func (p *ConditionalPool) Treasury() *Treasury { return p.treasury }

func (p *ConditionalPool) NumTransactions() float64 {
	if p.transactions == nil {
		return 0
	}
	return p.transactions.NumTransactions()
}

// Variable exposes the pool's state to conditions.
func (p *ConditionalPool) Variable(name string) (float64, error) {
	switch name {
	case "num_users":
		return p.numUsers, nil
	case "transactions":
		return p.txValue, nil
	case "iteration":
		return float64(p.iteration), nil
	}
	return 0, fmt.Errorf("%w: pool %q has no variable %q", ErrInvalidConfig, p.name, name)
}

// Initialise links every controller to the economy (or the pool) and points
// conditions without a source at the economy.
func (p *ConditionalPool) Initialise(econ EconomyState) error {
	if econ == nil {
		econ = p.Economy()
	}
	if p.toEconomy && econ != nil {
		if err := linkAll(CapTokenEconomy, econ, p.linkers()...); err != nil {
			return err
		}
	}
	for _, a := range p.actions {
		if a.cond.source != nil {
			continue
		}
		src, ok := econ.(Inspectable)
		if !p.toEconomy {
			src, ok = p, true
		}
		if !ok {
			return fmt.Errorf("%w: condition in pool %q has no source to read", ErrIntegrity, p.name)
		}
		a.cond.source = src
	}
	if p.treasury != nil {
		if err := p.treasury.Link(CapAgentPool, p); err != nil {
			return err
		}
	}
	p.initialised = true
	return nil
}

func (p *ConditionalPool) Initialised() bool { return p.initialised }

// TestIntegrity requires an economy and integral unconditional controllers.
func (p *ConditionalPool) TestIntegrity() bool {
	if p.Economy() == nil {
		return false
	}
	if p.users != nil && !p.users.TestIntegrity() {
		return false
	}
	return p.transactions == nil || p.transactions.TestIntegrity()
}

func (p *ConditionalPool) Execute() ([]Spawn, error) {
	p.iteration++
	p.numUsers, p.txValue = 0, 0
	if !p.initialised {
		if err := p.Initialise(p.Economy()); err != nil {
			return nil, err
		}
	}
	if p.users != nil {
		n, err := p.users.Execute()
		if err != nil {
			return nil, err
		}
		p.numUsers += n
	}
	if p.transactions != nil {
		tx, err := p.transactions.Execute()
		if err != nil {
			return nil, err
		}
		p.txValue += tx
	}
	if p.treasury != nil {
		p.treasury.Execute(p.currency, p.txValue*p.fee)
	}
	for _, a := range p.actions {
		ok, err := a.cond.Evaluate()
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if a.users != nil {
			n, err := a.users.Execute()
			if err != nil {
				return nil, err
			}
			p.numUsers += n
			continue
		}
		tx, err := a.transactions.Execute()
		if err != nil {
			return nil, err
		}
		p.txValue += tx
	}
	return nil, nil
}

func (p *ConditionalPool) Reset() {
	p.iteration = 0
	p.numUsers, p.txValue = 0, 0
	for _, a := range p.actions {
		a.cond.result = false
		if a.users != nil {
			a.users.Reset()
		} else {
			a.transactions.Reset()
		}
	}
	if p.users != nil {
		p.users.Reset()
	}
	if p.transactions != nil {
		p.transactions.Reset()
	}
	if p.treasury != nil {
		p.treasury.Reset()
	}
}

func (p *ConditionalPool) Reseed(r *PartitionedRNG, scope string) {
	if p.users != nil {
		reseed(p.users, r, scope+"/users")
	}
	if p.transactions != nil {
		reseed(p.transactions, r, scope+"/transactions")
	}
	for i, a := range p.actions {
		reseed(a.controller(), r, fmt.Sprintf("%s/condition_%d", scope, i))
	}
}

func (p *ConditionalPool) Clone(c *Cloner) AgentPool {
	return cloneOnce(c, p, func() *ConditionalPool {
		cp := &ConditionalPool{
			Controller: p.cloneBase(),
			currency:   p.currency,
			toEconomy:  p.toEconomy,
			treasury:   p.treasury.Clone(c),
			fee:        p.fee,
			numUsers:   p.numUsers,
			txValue:    p.txValue,
		}
		if p.users != nil {
			cp.users = p.users.Clone(c)
		}
		if p.transactions != nil {
			cp.transactions = p.transactions.Clone(c)
		}
		for _, a := range p.actions {
			ca := conditional{cond: a.cond.clone(c)}
			if a.users != nil {
				ca.users = a.users.Clone(c)
			} else {
				ca.transactions = a.transactions.Clone(c)
			}
			cp.actions = append(cp.actions, ca)
		}
		if err := cp.linkToSelf(); err != nil {
			logrus.Warnf("pool %q: relinking copied controllers: %v", p.name, err)
		}
		return cp
	})
}

