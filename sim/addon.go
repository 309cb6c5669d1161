package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// AddOn perturbs a controller's output. Add-ons hold configuration only; the
// owning controller supplies randomness and the iteration, so one add-on may
// be shared between cloned economies.
type AddOn interface {
	Apply(value float64, rng *rand.Rand, iteration int) float64
}

// AddOnSpec is the configuration-file form of an add-on.
type AddOnSpec struct {
	Type       string    `yaml:"type"`
	Dist       *DistSpec `yaml:"dist,omitempty"`
	Mean       float64   `yaml:"mean,omitempty"`
	StdParam   float64   `yaml:"std_param,omitempty"`
	Multiplier float64   `yaml:"multiplier,omitempty"`
	From       int       `yaml:"from,omitempty"`
	To         int       `yaml:"to,omitempty"`
}

// ValidAddOns is the set of recognized add-on types.
var ValidAddOns = map[string]bool{"noise": true, "proportional_noise": true, "reduction": true, "multiplier": true}

// NewAddOn builds an add-on from its spec. A nil spec yields a nil add-on.
func NewAddOn(spec *AddOnSpec) (AddOn, error) {
	if spec == nil {
		return nil, nil
	}
	switch spec.Type {
	case "noise":
		if spec.Dist == nil {
			return nil, fmt.Errorf("%w: noise add-on needs a distribution", ErrInvalidConfig)
		}
		return NewRandomNoise(*spec.Dist)
	case "proportional_noise":
		return NewProportionalNoise(spec.Mean, spec.StdParam)
	case "reduction":
		if spec.Dist == nil {
			return nil, fmt.Errorf("%w: reduction add-on needs a distribution", ErrInvalidConfig)
		}
		return NewRandomReduction(*spec.Dist)
	case "multiplier":
		return &TimedMultiplier{Multiplier: spec.Multiplier, From: spec.From, To: spec.To}, nil
	}
	return nil, fmt.Errorf("%w: unknown add-on %q", ErrInvalidConfig, spec.Type)
}

// RandomNoise adds a draw from a distribution.
type RandomNoise struct {
	sampler Sampler
}

// NewRandomNoise returns additive noise drawn from dist.
func NewRandomNoise(dist DistSpec) (*RandomNoise, error) {
	s, err := NewSampler(dist.Type, dist.Params)
	if err != nil {
		return nil, err
	}
	return &RandomNoise{sampler: s}, nil
}

func (n *RandomNoise) Apply(value float64, rng *rand.Rand, _ int) float64 {
	return value + n.sampler.Sample(rng)
}

// ProportionalNoise redraws the value from a normal centred on value+mean
// whose spread is |value|/stdParam.
type ProportionalNoise struct {
	mean, stdParam float64
}

// NewProportionalNoise validates stdParam > 0.
func NewProportionalNoise(mean, stdParam float64) (*ProportionalNoise, error) {
	if stdParam <= 0 {
		return nil, fmt.Errorf("%w: std_param must be positive, got %v", ErrInvalidConfig, stdParam)
	}
	return &ProportionalNoise{mean: mean, stdParam: stdParam}, nil
}

func (n *ProportionalNoise) Apply(value float64, rng *rand.Rand, _ int) float64 {
	scale := math.Abs(value) / n.stdParam
	if scale == 0 {
		return value + n.mean
	}
	return n.mean + value + rng.NormFloat64()*scale
}

// RandomReduction shrinks the value by a drawn fraction.
type RandomReduction struct {
	sampler Sampler
}

// NewRandomReduction draws the reduced fraction from dist.
func NewRandomReduction(dist DistSpec) (*RandomReduction, error) {
	s, err := NewSampler(dist.Type, dist.Params)
	if err != nil {
		return nil, err
	}
	return &RandomReduction{sampler: s}, nil
}

func (n *RandomReduction) Apply(value float64, rng *rand.Rand, _ int) float64 {
	return value * (1 - n.sampler.Sample(rng))
}

// TimedMultiplier scales the value while From <= iteration <= To.
type TimedMultiplier struct {
	Multiplier float64
	From, To   int
}

func (m *TimedMultiplier) Apply(value float64, _ *rand.Rand, iteration int) float64 {
	if iteration >= m.From && iteration <= m.To {
		return value * m.Multiplier
	}
	return value
}

// applyAddOn is a nil-safe Apply.
func applyAddOn(a AddOn, value float64, rng *rand.Rand, iteration int) float64 {
	if a == nil {
		return value
	}
	return a.Apply(value, rng, iteration)
}
