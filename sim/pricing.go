package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// PriceFunctionController computes the economy's price once per iteration,
// after the agent loop. The previous price is read from the economy.
type PriceFunctionController interface {
	Linker
	Name() string
	Iteration() int
	TestIntegrity() bool
	Execute() error
	Price() float64
	Reset()
	Clone(c *Cloner) PriceFunctionController
}

// Velocity coefficients of the empirical holding-time/velocity fit.
const (
	velocityIntercept = 0.03358
	velocitySlope     = 1.20329
)

func velocity(holdingTime, floor float64) float64 {
	v := velocityIntercept + velocitySlope/holdingTime
	if v <= 0 {
		return floor
	}
	return v
}

type priceBase struct {
	Controller
	price float64
}

func (p *priceBase) Price() float64 { return p.price }

func (p *priceBase) economy() (EconomyState, error) {
	econ := p.deps.Economy()
	if econ == nil {
		return nil, fmt.Errorf("%w: price function needs an economy", ErrIntegrity)
	}
	return econ, nil
}

func (p *priceBase) set(v float64) {
	p.price = v
	p.iteration++
}

func (p *priceBase) resetBase() {
	p.iteration = 0
	p.price = 0
}

func (p *priceBase) clonePrice() priceBase {
	return priceBase{Controller: p.cloneBase(), price: p.price}
}

// === Equation of exchange ===

// EquationOfExchangeConfig configures P = H × T / M pricing.
type EquationOfExchangeConfig struct {
	// Smoothing weighs the new price against the previous one; nil means 1.
	Smoothing *float64
	// UseVelocity prices as T / (M × V) with V = a + b/H.
	UseVelocity bool
	// Noise perturbs the smoothed price unless that would make it negative.
	Noise AddOn
}

// EquationOfExchange prices from holding time, fiat volume and supply.
type EquationOfExchange struct {
	priceBase
	randomness
	smoothing   float64
	useVelocity bool
	noise       AddOn
}

func NewEquationOfExchange(cfg EquationOfExchangeConfig) (*EquationOfExchange, error) {
	s := 1.0
	if cfg.Smoothing != nil {
		s = *cfg.Smoothing
	}
	if s < 0 || s > 1 {
		return nil, fmt.Errorf("%w: smoothing must be in [0,1], got %v", ErrInvalidConfig, s)
	}
	return &EquationOfExchange{
		priceBase:   priceBase{Controller: newController("", CapTokenEconomy)},
		smoothing:   s,
		useVelocity: cfg.UseVelocity,
		noise:       cfg.Noise,
	}, nil
}

func (f *EquationOfExchange) Execute() error {
	econ, err := f.economy()
	if err != nil {
		return err
	}
	supply, fiat, ht := econ.Supply(), econ.TransactionsValueInFiat(), econ.HoldingTime()
	raw := 0.0
	if supply > 0 {
		if f.useVelocity {
			raw = fiat / (supply * velocity(ht, 0.01))
		} else {
			raw = ht * fiat / supply
		}
	}
	smoothed := f.smoothing*raw + (1-f.smoothing)*econ.Price()
	price := smoothed
	if f.noise != nil {
		if noisy := f.noise.Apply(smoothed, f.stream(), f.iteration); noisy >= 0 {
			price = noisy
		}
	}
	f.set(price)
	return nil
}

func (f *EquationOfExchange) Reset() { f.resetBase() }

func (f *EquationOfExchange) Clone(c *Cloner) PriceFunctionController {
	return cloneOnce(c, f, func() *EquationOfExchange {
		return &EquationOfExchange{priceBase: f.clonePrice(), smoothing: f.smoothing, useVelocity: f.useVelocity, noise: f.noise}
	})
}

// === Curves ===

// Curve maps a token supply to a price.
type Curve func(supply float64) float64

// CurveSpec is the configuration-file form of a Curve.
//
//	linear:      intercept + slope·s
//	power:       coefficient·s^exponent
//	exponential: coefficient·e^(rate·s)
//	sigmoid:     ceiling / (1 + e^(-steepness·(s - midpoint)))
type CurveSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// ValidCurves is the set of recognized curve types.
var ValidCurves = map[string]bool{"linear": true, "power": true, "exponential": true, "sigmoid": true}

// NewCurve builds a Curve from its spec.
func NewCurve(spec CurveSpec) (Curve, error) {
	p := spec.Params
	switch spec.Type {
	case "linear":
		if err := requireParam(p, "slope"); err != nil {
			return nil, err
		}
		a, b := param(p, "intercept", 0), p["slope"]
		return func(s float64) float64 { return a + b*s }, nil
	case "power":
		if err := requireParam(p, "exponent"); err != nil {
			return nil, err
		}
		k, e := param(p, "coefficient", 1), p["exponent"]
		return func(s float64) float64 { return k * math.Pow(s, e) }, nil
	case "exponential":
		if err := requireParam(p, "rate"); err != nil {
			return nil, err
		}
		k, r := param(p, "coefficient", 1), p["rate"]
		return func(s float64) float64 { return k * math.Exp(r*s) }, nil
	case "sigmoid":
		if err := requireParam(p, "ceiling", "midpoint"); err != nil {
			return nil, err
		}
		c, m, k := p["ceiling"], p["midpoint"], param(p, "steepness", 1)
		return func(s float64) float64 { return c / (1 + math.Exp(-k*(s-m))) }, nil
	}
	return nil, fmt.Errorf("%w: unknown curve %q", ErrInvalidConfig, spec.Type)
}

// BondingCurve mints the iteration's token volume into circulation (up to
// MaxSupply) and prices from the resulting circulating supply.
type BondingCurve struct {
	priceBase
	curve     Curve
	maxSupply float64
}

// NewBondingCurve prices with curve; maxSupply <= 0 means unbounded.
func NewBondingCurve(curve Curve, maxSupply float64) (*BondingCurve, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: bonding curve needs a function", ErrInvalidConfig)
	}
	if maxSupply <= 0 {
		maxSupply = math.Inf(1)
	}
	return &BondingCurve{priceBase: priceBase{Controller: newController("", CapTokenEconomy)}, curve: curve, maxSupply: maxSupply}, nil
}

func (f *BondingCurve) Execute() error {
	econ, err := f.economy()
	if err != nil {
		return err
	}
	adj, ok := econ.(SupplyAdjuster)
	if !ok {
		return fmt.Errorf("%w: bonding curve needs an economy whose supply it can adjust", ErrIncompatibleDependency)
	}
	minted := math.Min(econ.TransactionsVolumeInTokens(), f.maxSupply-econ.Supply())
	adj.AdjustSupply(minted)
	f.set(f.curve(adj.Supply()))
	return nil
}

func (f *BondingCurve) Reset() { f.resetBase() }

func (f *BondingCurve) Clone(c *Cloner) PriceFunctionController {
	return cloneOnce(c, f, func() *BondingCurve {
		return &BondingCurve{priceBase: f.clonePrice(), curve: f.curve, maxSupply: f.maxSupply}
	})
}

// IssuanceCurve mints like BondingCurve but prices from every token ever
// issued, so burns and sell pressure do not lower the price.
type IssuanceCurve struct {
	priceBase
	curve     Curve
	maxSupply float64
	issued    float64
}

// NewIssuanceCurve prices with curve; maxSupply <= 0 means unbounded.
func NewIssuanceCurve(curve Curve, maxSupply float64) (*IssuanceCurve, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: issuance curve needs a function", ErrInvalidConfig)
	}
	if maxSupply <= 0 {
		maxSupply = math.Inf(1)
	}
	return &IssuanceCurve{priceBase: priceBase{Controller: newController("", CapTokenEconomy)}, curve: curve, maxSupply: maxSupply}, nil
}

func (f *IssuanceCurve) Execute() error {
	econ, err := f.economy()
	if err != nil {
		return err
	}
	adj, ok := econ.(SupplyAdjuster)
	if !ok {
		return fmt.Errorf("%w: issuance curve needs an economy whose supply it can adjust", ErrIncompatibleDependency)
	}
	minted := math.Max(0, math.Min(econ.TransactionsVolumeInTokens(), f.maxSupply-f.issued))
	adj.AdjustSupply(minted)
	f.issued += minted
	f.set(f.curve(f.issued))
	return nil
}

// Issued returns the tokens issued since the last reset.
func (f *IssuanceCurve) Issued() float64 { return f.issued }

func (f *IssuanceCurve) Reset() {
	f.resetBase()
	f.issued = 0
}

func (f *IssuanceCurve) Clone(c *Cloner) PriceFunctionController {
	return cloneOnce(c, f, func() *IssuanceCurve {
		return &IssuanceCurve{priceBase: f.clonePrice(), curve: f.curve, maxSupply: f.maxSupply, issued: f.issued}
	})
}

// === Regression ===

// RegressionPriceConfig configures the empirical log-linear model. Zero
// values take the defaults 0.3, 0.1 and 0.1.
type RegressionPriceConfig struct {
	// TopAppreciation caps growth per step as a fraction of the previous price.
	TopAppreciation float64
	// StdPrior scales the Student-t noise on the log price.
	StdPrior float64
	// Anchoring pulls the result towards the previous price.
	Anchoring float64
	// ProportionateNoise multiplies the noise by the previous price.
	ProportionateNoise bool
}

const (
	regressionDF    = 13000
	regressionFloor = 1e-4
)

// RegressionPrice applies log p = 0.88·ln T + 0.84·ln(1/M) + 1.15·ln(1/V).
type RegressionPrice struct {
	priceBase
	randomness
	cfg RegressionPriceConfig
}

func NewRegressionPrice(cfg RegressionPriceConfig) (*RegressionPrice, error) {
	if cfg.TopAppreciation == 0 {
		cfg.TopAppreciation = 0.3
	}
	if cfg.StdPrior == 0 {
		cfg.StdPrior = 0.1
	}
	if cfg.Anchoring == 0 {
		cfg.Anchoring = 0.1
	}
	if cfg.Anchoring < 0 || cfg.Anchoring > 1 {
		return nil, fmt.Errorf("%w: anchoring must be in [0,1], got %v", ErrInvalidConfig, cfg.Anchoring)
	}
	return &RegressionPrice{priceBase: priceBase{Controller: newController("", CapTokenEconomy)}, cfg: cfg}, nil
}

func (f *RegressionPrice) Execute() error {
	econ, err := f.economy()
	if err != nil {
		return err
	}
	prev := econ.Price()
	v := velocity(econ.HoldingTime(), 0.001)
	logPrice := 0.88*math.Log(econ.TransactionsValueInFiat()) + 0.84*math.Log(1/econ.Supply()) + 1.15*math.Log(1/v)

	scale := f.cfg.StdPrior
	if f.cfg.ProportionateNoise {
		scale *= prev
	}
	logPrice += distuv.StudentsT{Mu: 0, Sigma: 1, Nu: regressionDF, Src: f.stream()}.Rand() * scale

	price := (1-f.cfg.Anchoring)*math.Exp(logPrice) + f.cfg.Anchoring*prev
	if ceiling := prev * (1 + f.cfg.TopAppreciation); price > ceiling {
		price = ceiling
	}
	if !(price > 0) {
		price = regressionFloor
	}
	f.set(price)
	return nil
}

func (f *RegressionPrice) Reset() { f.resetBase() }

func (f *RegressionPrice) Clone(c *Cloner) PriceFunctionController {
	return cloneOnce(c, f, func() *RegressionPrice {
		return &RegressionPrice{priceBase: f.clonePrice(), cfg: f.cfg}
	})
}
