package sim

import (
	"fmt"
	"math"
	"slices"
)

// UserGrowth produces the number of active users per iteration.
type UserGrowth interface {
	Linker
	Name() string
	Iteration() int
	TestIntegrity() bool
	// Execute returns the user count for the current iteration and advances it.
	Execute() (float64, error)
	// NumUsers returns the value produced by the last Execute.
	NumUsers() float64
	Reset()
	Clone(c *Cloner) UserGrowth
}

// === Constant ===

// ConstantUsers always reports the same number of users.
type ConstantUsers struct {
	Controller
	users float64
}

// NewConstantUsers returns a growth controller fixed at users.
func NewConstantUsers(users float64) *ConstantUsers {
	return &ConstantUsers{
		Controller: newController("", CapAgentPool, CapTokenEconomy),
		users:      users,
	}
}

func (u *ConstantUsers) Execute() (float64, error) {
	u.iteration++
	return u.users, nil
}

func (u *ConstantUsers) NumUsers() float64 { return u.users }

func (u *ConstantUsers) Reset() { u.iteration = 0 }

func (u *ConstantUsers) Clone(c *Cloner) UserGrowth {
	return cloneOnce(c, u, func() *ConstantUsers {
		return &ConstantUsers{Controller: u.cloneBase(), users: u.users}
	})
}

// === Spaced ===

// SpacedUsersConfig configures a precomputed growth curve.
type SpacedUsersConfig struct {
	Name    string
	Initial float64
	Max     float64
	// NumSteps is the length of the precomputed sequence.
	NumSteps int
	// Space shapes the curve; nil means linear.
	Space SpaceFunc
	// UseDifference emits per-step increments instead of cumulative levels.
	UseDifference bool
	// Noise perturbs each step; a perturbed value never drops below the
	// unperturbed one.
	Noise       AddOn
	OnExhausted Exhaustion
}

// SpacedUsers indexes a precomputed sequence by iteration.
type SpacedUsers struct {
	Controller
	randomness
	cfg      SpacedUsersConfig
	baseline []float64
	store    []float64
	users    float64
}

// NewSpacedUsers precomputes the curve and draws its noise.
func NewSpacedUsers(cfg SpacedUsersConfig) (*SpacedUsers, error) {
	if cfg.NumSteps <= 0 {
		return nil, fmt.Errorf("%w: num_steps must be positive, got %d", ErrInvalidConfig, cfg.NumSteps)
	}
	if cfg.Initial < 0 || cfg.Max < 0 {
		return nil, fmt.Errorf("%w: user counts must be non-negative", ErrInvalidConfig)
	}
	if err := cfg.OnExhausted.validate(); err != nil {
		return nil, err
	}
	space := cfg.Space
	if space == nil {
		space = LinearSpace
	}
	levels := space(cfg.Initial, cfg.Max, cfg.NumSteps)
	for i, v := range levels {
		levels[i] = math.Round(v)
	}
	if cfg.UseDifference {
		diffs := make([]float64, len(levels))
		diffs[0] = levels[0]
		for i := 1; i < len(levels); i++ {
			diffs[i] = levels[i] - levels[i-1]
		}
		levels = diffs
	}
	u := &SpacedUsers{
		Controller: newController(cfg.Name, CapAgentPool, CapTokenEconomy),
		cfg:        cfg,
		baseline:   levels,
	}
	u.drawNoise()
	return u, nil
}

func (u *SpacedUsers) drawNoise() {
	u.store = slices.Clone(u.baseline)
	if u.cfg.Noise == nil {
		return
	}
	rng := u.stream()
	for i, base := range u.baseline {
		u.store[i] = math.Round(math.Max(u.cfg.Noise.Apply(base, rng, i), base))
	}
}

func (u *SpacedUsers) Execute() (float64, error) {
	v, err := seqAt(u.store, u.iteration, u.cfg.OnExhausted.or(ExhaustFail), "spaced user growth")
	if err != nil {
		return 0, err
	}
	u.users = v
	u.iteration++
	return v, nil
}

func (u *SpacedUsers) NumUsers() float64 { return u.users }

// Sequence returns a copy of the precomputed sequence, noise included.
func (u *SpacedUsers) Sequence() []float64 { return slices.Clone(u.store) }

// Reset redraws the noise and rewinds to the first step.
func (u *SpacedUsers) Reset() {
	u.iteration = 0
	u.users = 0
	u.drawNoise()
}

func (u *SpacedUsers) Clone(c *Cloner) UserGrowth {
	return cloneOnce(c, u, func() *SpacedUsers {
		return &SpacedUsers{
			Controller: u.cloneBase(),
			cfg:        u.cfg,
			baseline:   slices.Clone(u.baseline),
			store:      slices.Clone(u.store),
			users:      u.users,
		}
	})
}

// === From data ===

// UsersFromData replays a recorded series.
type UsersFromData struct {
	Controller
	data   []float64
	policy Exhaustion
	users  float64
}

// NewUsersFromData replays data; policy defaults to repeating the last value.
func NewUsersFromData(name string, data []float64, policy Exhaustion) (*UsersFromData, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: user data is empty", ErrInvalidConfig)
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &UsersFromData{
		Controller: newController(name, CapAgentPool, CapTokenEconomy),
		data:       slices.Clone(data),
		policy:     policy.or(ExhaustRepeatLast),
	}, nil
}

func (u *UsersFromData) Execute() (float64, error) {
	v, err := seqAt(u.data, u.iteration, u.policy, "user data")
	if err != nil {
		return 0, err
	}
	u.users = v
	u.iteration++
	return v, nil
}

func (u *UsersFromData) NumUsers() float64 { return u.users }

func (u *UsersFromData) Reset() {
	u.iteration = 0
	u.users = 0
}

func (u *UsersFromData) Clone(c *Cloner) UserGrowth {
	return cloneOnce(c, u, func() *UsersFromData {
		cp := *u
		cp.Controller = u.cloneBase()
		cp.data = slices.Clone(u.data)
		return &cp
	})
}

// === Stochastic ===

// StochasticUsersConfig configures distribution-driven growth.
type StochasticUsersConfig struct {
	Name string
	Dist DistSpec
	// Initial is the user base before the first draw.
	Initial float64
	// AddToUserbase treats each draw as an increment to the current base.
	AddToUserbase bool
	Noise         AddOn
}

// StochasticUsers draws a fresh user count (or increment) every iteration.
type StochasticUsers struct {
	Controller
	randomness
	cfg   StochasticUsersConfig
	dist  *distribution
	users float64
}

// NewStochasticUsers validates the distribution.
func NewStochasticUsers(cfg StochasticUsersConfig) (*StochasticUsers, error) {
	dist, err := newDistribution(cfg.Dist)
	if err != nil {
		return nil, err
	}
	return &StochasticUsers{
		Controller: newController(cfg.Name, CapAgentPool, CapTokenEconomy),
		cfg:        cfg,
		dist:       dist,
		users:      cfg.Initial,
	}, nil
}

func (u *StochasticUsers) Execute() (float64, error) {
	rng := u.stream()
	draw, err := u.dist.sample(rng, u.iteration)
	if err != nil {
		return 0, err
	}
	if u.cfg.AddToUserbase {
		draw += u.users
	}
	draw = applyAddOn(u.cfg.Noise, draw, rng, u.iteration)
	u.users = math.Max(0, math.Round(draw))
	u.iteration++
	return u.users, nil
}

func (u *StochasticUsers) NumUsers() float64 { return u.users }

func (u *StochasticUsers) Reset() {
	u.iteration = 0
	u.users = u.cfg.Initial
	u.dist.reset()
}

func (u *StochasticUsers) Clone(c *Cloner) UserGrowth {
	return cloneOnce(c, u, func() *StochasticUsers {
		return &StochasticUsers{
			Controller: u.cloneBase(),
			cfg:        u.cfg,
			dist:       u.dist.clone(),
			users:      u.users,
		}
	})
}
