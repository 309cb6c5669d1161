package sim

import (
	"fmt"
	"math"
	"slices"
)

// SupplyController produces a per-iteration supply delta or level. The owning
// economy decides whether the value is added to supply or replaces it.
type SupplyController interface {
	Linker
	Name() string
	Iteration() int
	TestIntegrity() bool
	Execute() (float64, error)
	// Supply returns the value produced by the last Execute.
	Supply() float64
	Reset()
	Clone(c *Cloner) SupplyController
}

type supplyBase struct {
	Controller
	supply float64
}

func (s *supplyBase) Supply() float64 { return s.supply }

func (s *supplyBase) emit(v float64) float64 {
	s.supply = v
	s.iteration++
	return v
}

func (s *supplyBase) resetBase() {
	s.iteration = 0
	s.supply = 0
}

func (s *supplyBase) cloneSupply() supplyBase {
	return supplyBase{Controller: s.cloneBase(), supply: s.supply}
}

// === Constant ===

// ConstantSupply emits its full amount on the first execution and 0 afterwards.
type ConstantSupply struct {
	supplyBase
	amount float64
}

func NewConstantSupply(amount float64) *ConstantSupply {
	return &ConstantSupply{supplyBase: supplyBase{Controller: newController("")}, amount: amount}
}

func (s *ConstantSupply) Execute() (float64, error) {
	if s.iteration == 0 {
		return s.emit(s.amount), nil
	}
	return s.emit(0), nil
}

func (s *ConstantSupply) Reset() { s.resetBase() }

func (s *ConstantSupply) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *ConstantSupply {
		return &ConstantSupply{supplyBase: s.cloneSupply(), amount: s.amount}
	})
}

// === From data ===

// SupplyFromData replays a recorded series of deltas.
type SupplyFromData struct {
	supplyBase
	data   []float64
	policy Exhaustion
}

// NewSupplyFromData replays data; policy defaults to failing once exhausted.
func NewSupplyFromData(name string, data []float64, policy Exhaustion) (*SupplyFromData, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: supply data is empty", ErrInvalidConfig)
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &SupplyFromData{supplyBase: supplyBase{Controller: newController(name)}, data: slices.Clone(data), policy: policy.or(ExhaustFail)}, nil
}

func (s *SupplyFromData) Execute() (float64, error) {
	v, err := seqAt(s.data, s.iteration, s.policy, "supply data")
	if err != nil {
		return 0, err
	}
	return s.emit(v), nil
}

func (s *SupplyFromData) Reset() { s.resetBase() }

func (s *SupplyFromData) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *SupplyFromData {
		return &SupplyFromData{supplyBase: s.cloneSupply(), data: slices.Clone(s.data), policy: s.policy}
	})
}

// === Cliff vesting ===

// CliffVesting releases Amount in equal chunks over VestingPeriod iterations,
// after Delay+Cliff iterations of nothing.
type CliffVesting struct {
	supplyBase
	schedule []float64
}

func NewCliffVesting(name string, amount float64, vestingPeriod, cliff, delay int) (*CliffVesting, error) {
	if amount < 0 || vestingPeriod < 0 || cliff < 0 || delay < 0 {
		return nil, fmt.Errorf("%w: vesting parameters must be non-negative", ErrInvalidConfig)
	}
	chunk := amount
	if vestingPeriod > 0 {
		chunk = amount / float64(vestingPeriod)
	}
	remaining := amount
	schedule := make([]float64, 0, delay+cliff+vestingPeriod)
	for period := 0; period < delay+cliff+vestingPeriod; period++ {
		if period < delay+cliff {
			schedule = append(schedule, 0)
			continue
		}
		release := math.Min(remaining, chunk)
		remaining -= release
		schedule = append(schedule, release)
	}
	return &CliffVesting{supplyBase: supplyBase{Controller: newController(name)}, schedule: schedule}, nil
}

func (s *CliffVesting) Execute() (float64, error) {
	if s.iteration < len(s.schedule) {
		return s.emit(s.schedule[s.iteration]), nil
	}
	return s.emit(0), nil
}

func (s *CliffVesting) Reset() { s.resetBase() }

func (s *CliffVesting) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *CliffVesting {
		return &CliffVesting{supplyBase: s.cloneSupply(), schedule: slices.Clone(s.schedule)}
	})
}

// === Burn ===

// BurnStyle selects how a burn amount is computed.
type BurnStyle string

const (
	BurnPercentage BurnStyle = "perc"
	BurnFixed      BurnStyle = "fixed"
)

// ValidBurnStyles is the set of recognized burn styles.
var ValidBurnStyles = map[BurnStyle]bool{BurnPercentage: true, BurnFixed: true}

// BurnSupply removes a percentage of current supply or a fixed amount each
// iteration. A self-destructing burn fires once and then emits 0.
type BurnSupply struct {
	supplyBase
	style        BurnStyle
	rate         float64
	initialRate  float64
	selfDestruct bool
}

func NewBurnSupply(name string, style BurnStyle, rate float64, selfDestruct bool) (*BurnSupply, error) {
	if !ValidBurnStyles[style] {
		return nil, fmt.Errorf("%w: burn_style must be perc or fixed, got %q", ErrInvalidConfig, style)
	}
	return &BurnSupply{
		supplyBase:   supplyBase{Controller: newController(name, CapTokenEconomy)},
		style:        style,
		rate:         rate,
		initialRate:  rate,
		selfDestruct: selfDestruct,
	}, nil
}

func (s *BurnSupply) Execute() (float64, error) {
	v := -s.rate
	if s.style == BurnPercentage {
		econ := s.deps.Economy()
		if econ == nil {
			return 0, fmt.Errorf("%w: percentage burn needs an economy", ErrIntegrity)
		}
		v = -econ.Supply() * s.rate
	}
	if s.selfDestruct {
		s.rate = 0
	}
	return s.emit(v), nil
}

func (s *BurnSupply) Reset() {
	s.resetBase()
	s.rate = s.initialRate
}

func (s *BurnSupply) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *BurnSupply {
		cp := *s
		cp.supplyBase = s.cloneSupply()
		return &cp
	})
}

// === Investor dumper ===

// InvestorDumperConfig configures a spaced sell-off schedule.
type InvestorDumperConfig struct {
	Name     string
	Initial  float64
	Final    float64
	NumSteps int
	Space    SpaceFunc
	// Noise may only enlarge a step's dump.
	Noise       AddOn
	OnExhausted Exhaustion
}

// InvestorDumper releases tokens into circulation on a precomputed schedule.
type InvestorDumper struct {
	supplyBase
	randomness
	cfg      InvestorDumperConfig
	baseline []float64
	store    []float64
}

func NewInvestorDumper(cfg InvestorDumperConfig) (*InvestorDumper, error) {
	if cfg.NumSteps <= 0 {
		return nil, fmt.Errorf("%w: num_steps must be positive, got %d", ErrInvalidConfig, cfg.NumSteps)
	}
	if err := cfg.OnExhausted.validate(); err != nil {
		return nil, err
	}
	space := cfg.Space
	if space == nil {
		space = LinearSpace
	}
	baseline := space(cfg.Initial, cfg.Final, cfg.NumSteps)
	for i, v := range baseline {
		baseline[i] = math.Round(v)
	}
	d := &InvestorDumper{supplyBase: supplyBase{Controller: newController(cfg.Name)}, cfg: cfg, baseline: baseline}
	d.drawNoise()
	return d, nil
}

func (s *InvestorDumper) drawNoise() {
	s.store = slices.Clone(s.baseline)
	if s.cfg.Noise == nil {
		return
	}
	rng := s.stream()
	for i, base := range s.baseline {
		s.store[i] = math.Max(s.cfg.Noise.Apply(base, rng, i), base)
	}
}

func (s *InvestorDumper) Execute() (float64, error) {
	v, err := seqAt(s.store, s.iteration, s.cfg.OnExhausted.or(ExhaustFail), "investor dump schedule")
	if err != nil {
		return 0, err
	}
	return s.emit(v), nil
}

// Schedule returns the dump schedule, noise included.
func (s *InvestorDumper) Schedule() []float64 { return slices.Clone(s.store) }

func (s *InvestorDumper) Reset() {
	s.resetBase()
	s.drawNoise()
}

func (s *InvestorDumper) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *InvestorDumper {
		return &InvestorDumper{supplyBase: s.cloneSupply(), cfg: s.cfg, baseline: slices.Clone(s.baseline), store: slices.Clone(s.store)}
	})
}

// === Adaptive stochastic ===

// AdaptiveStochasticConfig configures the circulating/inactive split.
type AdaptiveStochasticConfig struct {
	Name string
	// Removal is the fraction of recent purchases that goes inactive.
	// Nil defaults to uniform(0, 0.1).
	Removal *DistSpec
	// Return is the fraction of inactive tokens that comes back.
	// Nil defaults to uniform(0, 0.05).
	Return *DistSpec
	// ClampNegative replaces a net removal by the returning tokens alone.
	// By default the delta may be negative.
	ClampNegative bool
}

// AdaptiveStochasticSupply moves tokens between circulation and an inactive
// reserve based on the previous iteration's purchases.
type AdaptiveStochasticSupply struct {
	supplyBase
	randomness
	cfg      AdaptiveStochasticConfig
	removal  *distribution
	back     *distribution
	inactive float64
}

func NewAdaptiveStochasticSupply(cfg AdaptiveStochasticConfig) (*AdaptiveStochasticSupply, error) {
	removal := DistSpec{Type: "uniform", Params: map[string]float64{"loc": 0, "scale": 0.1}}
	if cfg.Removal != nil {
		removal = *cfg.Removal
	}
	back := DistSpec{Type: "uniform", Params: map[string]float64{"loc": 0, "scale": 0.05}}
	if cfg.Return != nil {
		back = *cfg.Return
	}
	r, err := newDistribution(removal)
	if err != nil {
		return nil, fmt.Errorf("removal distribution: %w", err)
	}
	b, err := newDistribution(back)
	if err != nil {
		return nil, fmt.Errorf("return distribution: %w", err)
	}
	return &AdaptiveStochasticSupply{
		supplyBase: supplyBase{Controller: newController(cfg.Name, CapTokenEconomy)},
		cfg:        cfg,
		removal:    r,
		back:       b,
	}, nil
}

func (s *AdaptiveStochasticSupply) Execute() (float64, error) {
	econ := s.deps.Economy()
	if econ == nil {
		return 0, fmt.Errorf("%w: adaptive supply needs an economy", ErrIntegrity)
	}
	purchases := 0.0
	if p := econ.Price(); p > 0 {
		purchases = econ.LastTransactionsVolumeInTokens() * econ.HoldingTime() / p
	}
	rng := s.stream()
	removedFrac, err := s.removal.sample(rng, s.iteration)
	if err != nil {
		return 0, err
	}
	backFrac, err := s.back.sample(rng, s.iteration)
	if err != nil {
		return 0, err
	}
	removed := purchases * removedFrac
	s.inactive += removed
	returning := s.inactive * backFrac
	s.inactive -= returning

	delta := returning - removed
	if delta < 0 && s.cfg.ClampNegative {
		delta = returning
	}
	return s.emit(delta), nil
}

// Inactive returns the tokens currently held out of circulation.
func (s *AdaptiveStochasticSupply) Inactive() float64 { return s.inactive }

func (s *AdaptiveStochasticSupply) Reset() {
	s.resetBase()
	s.inactive = 0
}

func (s *AdaptiveStochasticSupply) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *AdaptiveStochasticSupply {
		return &AdaptiveStochasticSupply{
			supplyBase: s.cloneSupply(),
			cfg:        s.cfg,
			removal:    s.removal.clone(),
			back:       s.back.clone(),
			inactive:   s.inactive,
		}
	})
}

// === Bonding ===

// BondingSupply reports the previous iteration's token volume as the supply
// level. Pair it with a bonding curve and SupplyIsAdded=false.
type BondingSupply struct {
	supplyBase
}

func NewBondingSupply() *BondingSupply {
	return &BondingSupply{supplyBase: supplyBase{Controller: newController("", CapTokenEconomy)}}
}

func (s *BondingSupply) Execute() (float64, error) {
	econ := s.deps.Economy()
	if econ == nil {
		return 0, fmt.Errorf("%w: bonding supply needs an economy", ErrIntegrity)
	}
	return s.emit(econ.LastTransactionsVolumeInTokens()), nil
}

func (s *BondingSupply) Reset() { s.resetBase() }

func (s *BondingSupply) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *BondingSupply {
		return &BondingSupply{supplyBase: s.cloneSupply()}
	})
}
