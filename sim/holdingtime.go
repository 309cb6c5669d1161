package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// HoldingTimeController provides the economy's holding time. The economy
// reads HoldingTime before the agent loop and calls Execute after pricing.
type HoldingTimeController interface {
	Linker
	Name() string
	Iteration() int
	TestIntegrity() bool
	HoldingTime() float64
	Execute() error
	Reset()
	Clone(c *Cloner) HoldingTimeController
}

// === Constant ===

// ConstantHoldingTime never changes.
type ConstantHoldingTime struct {
	Controller
	value float64
}

func NewConstantHoldingTime(value float64) (*ConstantHoldingTime, error) {
	if value <= 0 {
		return nil, fmt.Errorf("%w: holding time must be positive, got %v", ErrInvalidConfig, value)
	}
	return &ConstantHoldingTime{Controller: newController("", CapTokenEconomy), value: value}, nil
}

func (h *ConstantHoldingTime) HoldingTime() float64 { return h.value }

func (h *ConstantHoldingTime) Execute() error {
	h.iteration++
	return nil
}

func (h *ConstantHoldingTime) Reset() { h.iteration = 0 }

func (h *ConstantHoldingTime) Clone(c *Cloner) HoldingTimeController {
	return cloneOnce(c, h, func() *ConstantHoldingTime {
		return &ConstantHoldingTime{Controller: h.cloneBase(), value: h.value}
	})
}

// === Stochastic ===

// StochasticHoldingTime draws a new holding time every iteration, floored at
// a minimum.
type StochasticHoldingTime struct {
	Controller
	randomness
	dist    *distribution
	minimum float64
	current float64
	sampled bool
}

// NewStochasticHoldingTime samples from dist; nil defaults to lognormal(s=1).
// A non-positive minimum defaults to 0.1.
func NewStochasticHoldingTime(dist *DistSpec, minimum float64) (*StochasticHoldingTime, error) {
	spec := DistSpec{Type: "lognormal", Params: map[string]float64{"loc": 0, "s": 1}}
	if dist != nil {
		spec = *dist
	}
	d, err := newDistribution(spec)
	if err != nil {
		return nil, err
	}
	if minimum <= 0 {
		minimum = 0.1
	}
	return &StochasticHoldingTime{Controller: newController("", CapTokenEconomy), dist: d, minimum: minimum}, nil
}

func (h *StochasticHoldingTime) draw() error {
	v, err := h.dist.sample(h.stream(), h.iteration)
	if err != nil {
		return err
	}
	h.current = math.Max(v, h.minimum)
	h.sampled = true
	return nil
}

// HoldingTime returns the current draw, sampling the first one lazily.
// A failed draw falls back to the minimum; Execute reports the error.
func (h *StochasticHoldingTime) HoldingTime() float64 {
	if !h.sampled {
		if err := h.draw(); err != nil {
			logrus.Warnf("holding time %q: sampling failed at iteration %d, using minimum %v: %v",
				h.name, h.iteration, h.minimum, err)
			return h.minimum
		}
	}
	return h.current
}

func (h *StochasticHoldingTime) Execute() error {
	h.iteration++
	return h.draw()
}

// Reseed rebinds the stream and discards the current draw.
func (h *StochasticHoldingTime) Reseed(p *PartitionedRNG, scope string) {
	h.randomness.Reseed(p, scope)
	h.sampled = false
}

func (h *StochasticHoldingTime) Reset() {
	h.iteration = 0
	h.sampled = false
	h.dist.reset()
}

func (h *StochasticHoldingTime) Clone(c *Cloner) HoldingTimeController {
	return cloneOnce(c, h, func() *StochasticHoldingTime {
		return &StochasticHoldingTime{Controller: h.cloneBase(), dist: h.dist.clone(), minimum: h.minimum}
	})
}

// === Adaptive ===

// AdaptiveHoldingTimeConfig configures a holding time derived from volumes.
type AdaptiveHoldingTimeConfig struct {
	Initial float64
	// Minimum and Maximum default to 0.01 and 12.
	Minimum float64
	Maximum float64
	// Noise is added when the result stays positive.
	Noise AddOn
}

// AdaptiveHoldingTime recomputes price × token volume / fiat volume each
// iteration, clamped to [Minimum, Maximum].
type AdaptiveHoldingTime struct {
	Controller
	randomness
	cfg     AdaptiveHoldingTimeConfig
	current float64
}

func NewAdaptiveHoldingTime(cfg AdaptiveHoldingTimeConfig) (*AdaptiveHoldingTime, error) {
	if cfg.Initial <= 0 {
		return nil, fmt.Errorf("%w: holding time must be positive, got %v", ErrInvalidConfig, cfg.Initial)
	}
	if cfg.Minimum <= 0 {
		cfg.Minimum = 0.01
	}
	if cfg.Maximum <= 0 {
		cfg.Maximum = 12
	}
	if cfg.Minimum > cfg.Maximum {
		return nil, fmt.Errorf("%w: minimum holding time %v above maximum %v", ErrInvalidConfig, cfg.Minimum, cfg.Maximum)
	}
	return &AdaptiveHoldingTime{Controller: newController("", CapTokenEconomy), cfg: cfg, current: cfg.Initial}, nil
}

func (h *AdaptiveHoldingTime) HoldingTime() float64 { return h.current }

func (h *AdaptiveHoldingTime) Execute() error {
	econ := h.deps.Economy()
	if econ == nil {
		return fmt.Errorf("%w: adaptive holding time needs an economy", ErrIntegrity)
	}
	ht := econ.Price() * econ.TransactionsVolumeInTokens() / (econ.TransactionsValueInFiat() + effectiveEpsilon)
	if h.cfg.Noise != nil {
		if noisy := h.cfg.Noise.Apply(ht, h.stream(), h.iteration); noisy > 0 {
			ht = noisy
		}
	}
	h.current = math.Min(math.Max(ht, h.cfg.Minimum), h.cfg.Maximum)
	h.iteration++
	return nil
}

func (h *AdaptiveHoldingTime) Reset() {
	h.iteration = 0
	h.current = h.cfg.Initial
}

func (h *AdaptiveHoldingTime) Clone(c *Cloner) HoldingTimeController {
	return cloneOnce(c, h, func() *AdaptiveHoldingTime {
		return &AdaptiveHoldingTime{Controller: h.cloneBase(), cfg: h.cfg, current: h.current}
	})
}
