package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// DistSpec names a distribution family and its parameters. Params holds one
// parameter set used on every iteration; Schedule, when non-empty, holds one
// set per iteration and repeats its last entry once exhausted.
type DistSpec struct {
	Type     string               `yaml:"type"`
	Params   map[string]float64   `yaml:"params,omitempty"`
	Schedule []map[string]float64 `yaml:"schedule,omitempty"`
}

// ValidDistributions is the set of recognized distribution families.
// Shared by Validate() and NewSampler() to avoid duplication.
var ValidDistributions = map[string]bool{
	"normal": true, "lognormal": true, "uniform": true, "binomial": true,
	"poisson": true, "exponential": true, "gamma": true, "studentst": true,
	"weibull": true, "pareto": true, "constant": true,
}

// Sampler draws one value per call.
type Sampler interface {
	Sample(rng *rand.Rand) float64
}

type samplerFunc func(rng *rand.Rand) float64

func (f samplerFunc) Sample(rng *rand.Rand) float64 { return f(rng) }

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("%w: distribution requires parameter %q", ErrInvalidConfig, k)
		}
	}
	return nil
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// NewSampler creates a Sampler for one parameter set. Parameter names follow
// the loc/scale convention: every family accepts "loc" as a shift and, where
// it has one, "scale" as its scale.
func NewSampler(kind string, params map[string]float64) (Sampler, error) {
	loc := param(params, "loc", 0)
	scale := param(params, "scale", 1)
	if scale <= 0 {
		return nil, fmt.Errorf("%w: %s scale must be positive, got %v", ErrInvalidConfig, kind, scale)
	}
	switch kind {
	case "normal":
		return samplerFunc(func(rng *rand.Rand) float64 {
			return distuv.Normal{Mu: loc, Sigma: scale, Src: rng}.Rand()
		}), nil
	case "lognormal":
		if err := requireParam(params, "s"); err != nil {
			return nil, err
		}
		s := params["s"]
		return samplerFunc(func(rng *rand.Rand) float64 {
			return loc + distuv.LogNormal{Mu: math.Log(scale), Sigma: s, Src: rng}.Rand()
		}), nil
	case "uniform":
		return samplerFunc(func(rng *rand.Rand) float64 {
			return distuv.Uniform{Min: loc, Max: loc + scale, Src: rng}.Rand()
		}), nil
	case "binomial":
		if err := requireParam(params, "n", "p"); err != nil {
			return nil, err
		}
		n, p := params["n"], params["p"]
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("%w: binomial p must be in [0,1], got %v", ErrInvalidConfig, p)
		}
		return samplerFunc(func(rng *rand.Rand) float64 {
			return loc + binomial(n, p, rng)
		}), nil
	case "poisson":
		if err := requireParam(params, "mu"); err != nil {
			return nil, err
		}
		mu := params["mu"]
		return samplerFunc(func(rng *rand.Rand) float64 {
			if mu <= 0 {
				return loc
			}
			return loc + distuv.Poisson{Lambda: mu, Src: rng}.Rand()
		}), nil
	case "exponential":
		return samplerFunc(func(rng *rand.Rand) float64 {
			return loc + distuv.Exponential{Rate: 1 / scale, Src: rng}.Rand()
		}), nil
	case "gamma":
		if err := requireParam(params, "a"); err != nil {
			return nil, err
		}
		a := params["a"]
		if a <= 0 {
			return nil, fmt.Errorf("%w: %s parameter a must be positive, got %v", ErrInvalidConfig, kind, a)
		}
		return samplerFunc(func(rng *rand.Rand) float64 {
			return loc + distuv.Gamma{Alpha: a, Beta: 1 / scale, Src: rng}.Rand()
		}), nil
	case "studentst":
		if err := requireParam(params, "df"); err != nil {
			return nil, err
		}
		df := params["df"]
		if df <= 0 {
			return nil, fmt.Errorf("%w: %s parameter df must be positive, got %v", ErrInvalidConfig, kind, df)
		}
		return samplerFunc(func(rng *rand.Rand) float64 {
			return distuv.StudentsT{Mu: loc, Sigma: scale, Nu: df, Src: rng}.Rand()
		}), nil
	case "weibull":
		if err := requireParam(params, "c"); err != nil {
			return nil, err
		}
		c := params["c"]
		if c <= 0 {
			return nil, fmt.Errorf("%w: %s parameter c must be positive, got %v", ErrInvalidConfig, kind, c)
		}
		return samplerFunc(func(rng *rand.Rand) float64 {
			return loc + distuv.Weibull{K: c, Lambda: scale, Src: rng}.Rand()
		}), nil
	case "pareto":
		if err := requireParam(params, "b"); err != nil {
			return nil, err
		}
		b := params["b"]
		if b <= 0 {
			return nil, fmt.Errorf("%w: %s parameter b must be positive, got %v", ErrInvalidConfig, kind, b)
		}
		return samplerFunc(func(rng *rand.Rand) float64 {
			return loc + distuv.Pareto{Xm: scale, Alpha: b, Src: rng}.Rand()
		}), nil
	case "constant":
		if err := requireParam(params, "value"); err != nil {
			return nil, err
		}
		v := params["value"]
		return samplerFunc(func(*rand.Rand) float64 { return v }), nil
	}
	return nil, fmt.Errorf("%w: unknown distribution %q", ErrInvalidConfig, kind)
}

// binomial draws from Binomial(n, p), treating an empty population as zero.
func binomial(n, p float64, rng *rand.Rand) float64 {
	n = math.Floor(n)
	if n <= 0 || p == 0 {
		return 0
	}
	if p == 1 {
		return n
	}
	return distuv.Binomial{N: n, P: p, Src: rng}.Rand()
}

// Validate checks the family and every parameter set.
func (d DistSpec) Validate() error {
	if !ValidDistributions[d.Type] {
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidConfig, d.Type)
	}
	if len(d.Schedule) == 0 {
		_, err := NewSampler(d.Type, d.Params)
		return err
	}
	for i, p := range d.Schedule {
		if _, err := NewSampler(d.Type, p); err != nil {
			return fmt.Errorf("schedule entry %d: %w", i, err)
		}
	}
	return nil
}

// Len returns the schedule length, or 0 for a constant parameter set.
func (d DistSpec) Len() int { return len(d.Schedule) }

// Clone deep-copies the parameter maps.
func (d DistSpec) Clone() DistSpec {
	out := DistSpec{Type: d.Type, Params: cloneParams(d.Params)}
	if d.Schedule != nil {
		out.Schedule = make([]map[string]float64, len(d.Schedule))
		for i, p := range d.Schedule {
			out.Schedule[i] = cloneParams(p)
		}
	}
	return out
}

func cloneParams(p map[string]float64) map[string]float64 {
	if p == nil {
		return nil
	}
	out := make(map[string]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// distribution is a DistSpec in use: it tracks accumulated drift and warns
// once when its schedule runs out.
type distribution struct {
	spec   DistSpec
	drift  map[string]float64
	warned bool
}

func newDistribution(spec DistSpec) (*distribution, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &distribution{spec: spec.Clone()}, nil
}

// params returns the parameter set active at iteration, drift included.
func (d *distribution) params(iteration int) map[string]float64 {
	base := d.spec.Params
	if n := len(d.spec.Schedule); n > 0 {
		idx := iteration
		if idx >= n {
			if !d.warned {
				logrus.Warnf("%s schedule exhausted after %d entries, repeating the last", d.spec.Type, n)
				d.warned = true
			}
			idx = n - 1
		}
		base = d.spec.Schedule[idx]
	}
	if len(d.drift) == 0 {
		return base
	}
	out := cloneParams(base)
	if out == nil {
		out = make(map[string]float64, len(d.drift))
	}
	keys := make([]string, 0, len(d.drift))
	for k := range d.drift {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] += d.drift[k]
	}
	return out
}

func (d *distribution) sampler(iteration int) (Sampler, error) {
	return NewSampler(d.spec.Type, d.params(iteration))
}

func (d *distribution) sample(rng *rand.Rand, iteration int) (float64, error) {
	s, err := d.sampler(iteration)
	if err != nil {
		return 0, err
	}
	return s.Sample(rng), nil
}

// meanOf draws n values and returns their mean.
func (d *distribution) meanOf(rng *rand.Rand, iteration, n int) (float64, error) {
	s, err := d.sampler(iteration)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += s.Sample(rng)
	}
	return sum / float64(n), nil
}

// addDrift accumulates an additive shift applied to every future parameter set.
func (d *distribution) addDrift(drift map[string]float64) {
	if len(drift) == 0 {
		return
	}
	if d.drift == nil {
		d.drift = make(map[string]float64, len(drift))
	}
	for k, v := range drift {
		d.drift[k] += v
	}
}

func (d *distribution) reset() {
	d.drift = nil
	d.warned = false
}

func (d *distribution) clone() *distribution {
	if d == nil {
		return nil
	}
	return &distribution{spec: d.spec.Clone(), drift: cloneParams(d.drift), warned: d.warned}
}

// Quantity is a fixed value or, when Dist is set, a fresh draw per use.
type Quantity struct {
	Value float64   `yaml:"value"`
	Dist  *DistSpec `yaml:"dist,omitempty"`
}

// Draw returns Value or a sample from Dist.
func (q Quantity) Draw(rng *rand.Rand) (float64, error) {
	if q.Dist == nil {
		return q.Value, nil
	}
	s, err := NewSampler(q.Dist.Type, q.Dist.Params)
	if err != nil {
		return 0, err
	}
	return s.Sample(rng), nil
}
