package sim

import (
	"fmt"
	"math"
	"slices"
)

// TransactionManagement produces the signed aggregate transaction value of a
// pool per iteration.
type TransactionManagement interface {
	Linker
	Name() string
	Iteration() int
	TestIntegrity() bool
	Execute() (float64, error)
	// Transactions returns the value produced by the last Execute.
	Transactions() float64
	// NumTransactions returns the transaction count behind the last value,
	// where the variant models one.
	NumTransactions() float64
	Reset()
	Clone(c *Cloner) TransactionManagement
}

// TransactionType constrains the sign of a transaction value.
type TransactionType string

const (
	TransactionPositive TransactionType = "positive"
	TransactionNegative TransactionType = "negative"
	TransactionMixed    TransactionType = "mixed"
)

// ValidTransactionTypes is the set of recognized sign policies.
var ValidTransactionTypes = map[TransactionType]bool{TransactionPositive: true, TransactionNegative: true, TransactionMixed: true}

func (t TransactionType) clamp(v float64) float64 {
	switch {
	case t == TransactionPositive && v < 0:
		return 0
	case t == TransactionNegative && v > 0:
		return 0
	}
	return v
}

// txBase carries the shared transaction state.
type txBase struct {
	Controller
	from            Capability
	transactions    float64
	numTransactions float64
}

func newTxBase(name string, source Capability) (txBase, error) {
	if source == "" {
		source = CapAgentPool
	}
	if !ValidCapabilities[source] {
		return txBase{}, fmt.Errorf("%w: user source must be %s or %s, got %q", ErrInvalidConfig, CapAgentPool, CapTokenEconomy, source)
	}
	return txBase{Controller: newController(name, CapAgentPool, CapTokenEconomy), from: source}, nil
}

func (t *txBase) Transactions() float64    { return t.transactions }
func (t *txBase) NumTransactions() float64 { return t.numTransactions }

func (t *txBase) record(v float64) float64 {
	t.transactions = v
	t.iteration++
	return v
}

func (t *txBase) resetBase() {
	t.iteration = 0
	t.transactions = 0
	t.numTransactions = 0
}

func (t *txBase) cloneTx() txBase {
	cp := *t
	cp.Controller = t.cloneBase()
	return cp
}

// === Constant ===

// ConstantTransactionsConfig configures a fixed average per user.
type ConstantTransactionsConfig struct {
	Name    string
	Average float64
	Noise   AddOn
	Source  Capability
}

// ConstantTransactions returns users × average, optionally perturbed.
type ConstantTransactions struct {
	txBase
	randomness
	average float64
	noise   AddOn
}

func NewConstantTransactions(cfg ConstantTransactionsConfig) (*ConstantTransactions, error) {
	base, err := newTxBase(cfg.Name, cfg.Source)
	if err != nil {
		return nil, err
	}
	return &ConstantTransactions{txBase: base, average: cfg.Average, noise: cfg.Noise}, nil
}

func (t *ConstantTransactions) Execute() (float64, error) {
	users, err := t.deps.users(t.from)
	if err != nil {
		return 0, err
	}
	t.numTransactions = users
	v := applyAddOn(t.noise, users*t.average, t.stream(), t.iteration)
	return t.record(v), nil
}

func (t *ConstantTransactions) Reset() { t.resetBase() }

func (t *ConstantTransactions) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *ConstantTransactions {
		return &ConstantTransactions{txBase: t.cloneTx(), average: t.average, noise: t.noise}
	})
}

// === From data ===

// TransactionsFromData replays a recorded series of aggregate values.
type TransactionsFromData struct {
	txBase
	data   []float64
	policy Exhaustion
}

// NewTransactionsFromData replays data; policy defaults to repeating the last value.
func NewTransactionsFromData(name string, data []float64, policy Exhaustion) (*TransactionsFromData, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: transaction data is empty", ErrInvalidConfig)
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	base, _ := newTxBase(name, CapAgentPool)
	return &TransactionsFromData{txBase: base, data: slices.Clone(data), policy: policy.or(ExhaustRepeatLast)}, nil
}

func (t *TransactionsFromData) Execute() (float64, error) {
	v, err := seqAt(t.data, t.iteration, t.policy, "transaction data")
	if err != nil {
		return 0, err
	}
	return t.record(v), nil
}

func (t *TransactionsFromData) Reset() { t.resetBase() }

func (t *TransactionsFromData) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *TransactionsFromData {
		return &TransactionsFromData{txBase: t.cloneTx(), data: slices.Clone(t.data), policy: t.policy}
	})
}

// === Assumptions ===

// AssumptionTransactionsConfig configures a per-user value series.
type AssumptionTransactionsConfig struct {
	Name    string
	PerUser []float64
	// IgnoreUsers emits PerUser values as aggregates.
	IgnoreUsers bool
	OnExhausted Exhaustion
	Source      Capability
}

// AssumptionTransactions multiplies an assumed per-user value series by users.
type AssumptionTransactions struct {
	txBase
	cfg AssumptionTransactionsConfig
}

func NewAssumptionTransactions(cfg AssumptionTransactionsConfig) (*AssumptionTransactions, error) {
	if len(cfg.PerUser) == 0 {
		return nil, fmt.Errorf("%w: per-user assumptions are empty", ErrInvalidConfig)
	}
	if err := cfg.OnExhausted.validate(); err != nil {
		return nil, err
	}
	base, err := newTxBase(cfg.Name, cfg.Source)
	if err != nil {
		return nil, err
	}
	cfg.PerUser = slices.Clone(cfg.PerUser)
	return &AssumptionTransactions{txBase: base, cfg: cfg}, nil
}

func (t *AssumptionTransactions) Execute() (float64, error) {
	v, err := seqAt(t.cfg.PerUser, t.iteration, t.cfg.OnExhausted.or(ExhaustFail), "transaction assumptions")
	if err != nil {
		return 0, err
	}
	if !t.cfg.IgnoreUsers {
		users, err := t.deps.users(t.from)
		if err != nil {
			return 0, err
		}
		t.numTransactions = users
		v *= users
	}
	return t.record(v), nil
}

func (t *AssumptionTransactions) Reset() { t.resetBase() }

func (t *AssumptionTransactions) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *AssumptionTransactions {
		cp := &AssumptionTransactions{txBase: t.cloneTx(), cfg: t.cfg}
		cp.cfg.PerUser = slices.Clone(t.cfg.PerUser)
		return cp
	})
}

// === Trend ===

// TrendTransactionsConfig configures a spaced per-user average.
type TrendTransactionsConfig struct {
	Name     string
	Initial  float64
	Final    float64
	NumSteps int
	Space    SpaceFunc
	// Noise perturbs the aggregate; a negative perturbed value falls back to
	// the unperturbed one.
	Noise       AddOn
	OnExhausted Exhaustion
	Source      Capability
}

// TrendTransactions follows a precomputed per-user average curve.
type TrendTransactions struct {
	txBase
	randomness
	cfg   TrendTransactionsConfig
	means []float64
}

func NewTrendTransactions(cfg TrendTransactionsConfig) (*TrendTransactions, error) {
	if cfg.NumSteps <= 0 {
		return nil, fmt.Errorf("%w: num_steps must be positive, got %d", ErrInvalidConfig, cfg.NumSteps)
	}
	if err := cfg.OnExhausted.validate(); err != nil {
		return nil, err
	}
	base, err := newTxBase(cfg.Name, cfg.Source)
	if err != nil {
		return nil, err
	}
	space := cfg.Space
	if space == nil {
		space = LinearSpace
	}
	return &TrendTransactions{txBase: base, cfg: cfg, means: space(cfg.Initial, cfg.Final, cfg.NumSteps)}, nil
}

func (t *TrendTransactions) Execute() (float64, error) {
	mean, err := seqAt(t.means, t.iteration, t.cfg.OnExhausted.or(ExhaustFail), "transaction trend")
	if err != nil {
		return 0, err
	}
	users, err := t.deps.users(t.from)
	if err != nil {
		return 0, err
	}
	t.numTransactions = users
	v := mean * users
	if noisy := applyAddOn(t.cfg.Noise, v, t.stream(), t.iteration); noisy >= 0 {
		v = noisy
	}
	return t.record(v), nil
}

func (t *TrendTransactions) Reset() { t.resetBase() }

func (t *TrendTransactions) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *TrendTransactions {
		return &TrendTransactions{txBase: t.cloneTx(), cfg: t.cfg, means: slices.Clone(t.means)}
	})
}

// === Simple trend ===

// SimpleTrendTransactions grows linearly from Start by Increment per iteration.
// Noise can only raise the value above the trend line.
type SimpleTrendTransactions struct {
	txBase
	randomness
	start, increment float64
	noise            AddOn
}

func NewSimpleTrendTransactions(name string, start, increment float64, noise AddOn) *SimpleTrendTransactions {
	base, _ := newTxBase(name, CapAgentPool)
	return &SimpleTrendTransactions{txBase: base, start: start, increment: increment, noise: noise}
}

func (t *SimpleTrendTransactions) Execute() (float64, error) {
	base := t.start + float64(t.iteration)*t.increment
	v := math.Max(applyAddOn(t.noise, base, t.stream(), t.iteration), base)
	return t.record(v), nil
}

func (t *SimpleTrendTransactions) Reset() { t.resetBase() }

func (t *SimpleTrendTransactions) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *SimpleTrendTransactions {
		return &SimpleTrendTransactions{txBase: t.cloneTx(), start: t.start, increment: t.increment, noise: t.noise}
	})
}

// === Stochastic ===

// sampleMeanSize is how many draws are averaged for per-user value and count.
const sampleMeanSize = 1000

// StochasticTransactionsConfig configures binomial activity × sampled value × sampled count.
type StochasticTransactionsConfig struct {
	Name string
	// Activity is the probability a user transacts. One entry is used on every
	// iteration; several entries form a per-iteration schedule. Empty means 1.
	Activity []float64
	// Value is the distribution of value per transaction; ignored when
	// FixedValue is set. Nil defaults to normal(loc=1, scale=10).
	Value      *DistSpec
	FixedValue *float64
	ValueDrift map[string]float64
	// Count is the distribution of transactions per active user; ignored when
	// FixedCount is set. Nil defaults to poisson(mu=1).
	Count      *DistSpec
	FixedCount *float64
	CountDrift map[string]float64
	// Type clamps the sign of the total; empty means positive.
	Type   TransactionType
	Source Capability
}

// StochasticTransactions models active users as Binomial(users, activity).
type StochasticTransactions struct {
	txBase
	randomness
	cfg         StochasticTransactionsConfig
	value       *distribution
	count       *distribution
	activeUsers float64
}

func NewStochasticTransactions(cfg StochasticTransactionsConfig) (*StochasticTransactions, error) {
	if cfg.Type == "" {
		cfg.Type = TransactionPositive
	}
	if !ValidTransactionTypes[cfg.Type] {
		return nil, fmt.Errorf("%w: type_transaction must be positive, negative or mixed, got %q", ErrInvalidConfig, cfg.Type)
	}
	if len(cfg.Activity) == 0 {
		cfg.Activity = []float64{1}
	}
	for _, p := range cfg.Activity {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("%w: activity probability must be in [0,1], got %v", ErrInvalidConfig, p)
		}
	}
	base, err := newTxBase(cfg.Name, cfg.Source)
	if err != nil {
		return nil, err
	}
	t := &StochasticTransactions{txBase: base, cfg: cfg}
	t.cfg.Activity = slices.Clone(cfg.Activity)

	var lengths []int
	if len(cfg.Activity) > 1 {
		lengths = append(lengths, len(cfg.Activity))
	}
	if cfg.FixedValue == nil {
		spec := DistSpec{Type: "normal", Params: map[string]float64{"loc": 1, "scale": 10}}
		if cfg.Value != nil {
			spec = *cfg.Value
		}
		if t.value, err = newDistribution(spec); err != nil {
			return nil, fmt.Errorf("value distribution: %w", err)
		}
		if n := spec.Len(); n > 0 {
			lengths = append(lengths, n)
		}
	}
	if cfg.FixedCount == nil {
		spec := DistSpec{Type: "poisson", Params: map[string]float64{"mu": 1}}
		if cfg.Count != nil {
			spec = *cfg.Count
		}
		if t.count, err = newDistribution(spec); err != nil {
			return nil, fmt.Errorf("transactions distribution: %w", err)
		}
		if n := spec.Len(); n > 0 {
			lengths = append(lengths, n)
		}
	}
	for _, n := range lengths {
		if n != lengths[0] {
			return nil, fmt.Errorf("%w: parameter schedules must all have the same length, got %v", ErrInvalidConfig, lengths)
		}
	}
	return t, nil
}

func (t *StochasticTransactions) activity() float64 {
	if t.iteration < len(t.cfg.Activity) {
		return t.cfg.Activity[t.iteration]
	}
	return t.cfg.Activity[len(t.cfg.Activity)-1]
}

func (t *StochasticTransactions) Execute() (float64, error) {
	users, err := t.deps.users(t.from)
	if err != nil {
		return 0, err
	}
	rng := t.stream()
	t.activeUsers = binomial(users, t.activity(), rng)

	perUser := 0.0
	if t.cfg.FixedCount != nil {
		perUser = math.Trunc(*t.cfg.FixedCount)
	} else if perUser, err = t.count.meanOf(rng, t.iteration, sampleMeanSize); err != nil {
		return 0, err
	}
	t.numTransactions = perUser

	valueMean := 0.0
	if t.cfg.FixedValue != nil {
		valueMean = *t.cfg.FixedValue
	} else if valueMean, err = t.value.meanOf(rng, t.iteration, sampleMeanSize); err != nil {
		return 0, err
	}

	total := t.cfg.Type.clamp(perUser * valueMean * t.activeUsers)
	if t.value != nil {
		t.value.addDrift(t.cfg.ValueDrift)
	}
	if t.count != nil {
		t.count.addDrift(t.cfg.CountDrift)
	}
	return t.record(total), nil
}

// ActiveUsers returns the active-user draw of the last Execute.
func (t *StochasticTransactions) ActiveUsers() float64 { return t.activeUsers }

func (t *StochasticTransactions) Reset() {
	t.resetBase()
	t.activeUsers = 0
	if t.value != nil {
		t.value.reset()
	}
	if t.count != nil {
		t.count.reset()
	}
}

func (t *StochasticTransactions) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *StochasticTransactions {
		cp := &StochasticTransactions{txBase: t.cloneTx(), cfg: t.cfg, value: t.value.clone(), count: t.count.clone(), activeUsers: t.activeUsers}
		cp.cfg.Activity = slices.Clone(t.cfg.Activity)
		return cp
	})
}

// === Market cap ===

// MarketcapTransactions trades a sampled fraction of the linked economy's
// market capitalisation (price × supply).
type MarketcapTransactions struct {
	txBase
	randomness
	dist *distribution
	sign TransactionType
}

// NewMarketcapTransactions draws the traded fraction from dist; sign clamps
// the result (empty means mixed).
func NewMarketcapTransactions(name string, dist DistSpec, sign TransactionType) (*MarketcapTransactions, error) {
	if sign == "" {
		sign = TransactionMixed
	}
	if !ValidTransactionTypes[sign] {
		return nil, fmt.Errorf("%w: unknown sign %q", ErrInvalidConfig, sign)
	}
	d, err := newDistribution(dist)
	if err != nil {
		return nil, err
	}
	base, _ := newTxBase(name, CapAgentPool)
	return &MarketcapTransactions{txBase: base, dist: d, sign: sign}, nil
}

func (t *MarketcapTransactions) Execute() (float64, error) {
	econ := t.deps.Economy()
	if econ == nil {
		return 0, fmt.Errorf("%w: market cap transactions need an economy", ErrIntegrity)
	}
	frac, err := t.dist.sample(t.stream(), t.iteration)
	if err != nil {
		return 0, err
	}
	return t.record(t.sign.clamp(frac * econ.Price() * econ.Supply())), nil
}

func (t *MarketcapTransactions) Reset() {
	t.resetBase()
	t.dist.reset()
}

func (t *MarketcapTransactions) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *MarketcapTransactions {
		return &MarketcapTransactions{txBase: t.cloneTx(), dist: t.dist.clone(), sign: t.sign}
	})
}

// === Channeled ===

// ChannelMeasure picks which volume of the source economy is siphoned.
type ChannelMeasure string

const (
	ChannelFiat   ChannelMeasure = "fiat"
	ChannelTokens ChannelMeasure = "tokens"
)

// ChanneledTransactions takes a share of another economy's current volume,
// e.g. a fee economy fed by a primary economy within one Ecosystem.
type ChanneledTransactions struct {
	txBase
	randomness
	from       EconomyState
	percentage float64
	measure    ChannelMeasure
	noise      AddOn
}

func NewChanneledTransactions(name string, from EconomyState, percentage float64, measure ChannelMeasure, noise AddOn) (*ChanneledTransactions, error) {
	if from == nil {
		return nil, fmt.Errorf("%w: channeled transactions need a source economy", ErrInvalidConfig)
	}
	if measure == "" {
		measure = ChannelFiat
	}
	if measure != ChannelFiat && measure != ChannelTokens {
		return nil, fmt.Errorf("%w: unknown channel measure %q", ErrInvalidConfig, measure)
	}
	base, _ := newTxBase(name, CapAgentPool)
	return &ChanneledTransactions{txBase: base, from: from, percentage: percentage, measure: measure, noise: noise}, nil
}

func (t *ChanneledTransactions) Execute() (float64, error) {
	vol := t.from.TransactionsValueInFiat()
	if t.measure == ChannelTokens {
		vol = t.from.TransactionsVolumeInTokens()
	}
	v := applyAddOn(t.noise, t.percentage*vol, t.stream(), t.iteration)
	return t.record(v), nil
}

func (t *ChanneledTransactions) Reset() { t.resetBase() }

func (t *ChanneledTransactions) Clone(c *Cloner) TransactionManagement {
	return cloneOnce(c, t, func() *ChanneledTransactions {
		cp := &ChanneledTransactions{txBase: t.cloneTx(), from: t.from, percentage: t.percentage, measure: t.measure, noise: t.noise}
		c.later(func() {
			if e, ok := c.resolve(t.from).(EconomyState); ok {
				cp.from = e
			}
		})
		return cp
	})
}
