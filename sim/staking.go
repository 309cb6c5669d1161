package sim

import "fmt"

// StakerConfig is shared by lockup and periodic stakers.
type StakerConfig struct {
	Name string
	// Amount is locked on the first execution.
	Amount Quantity
	// Reward is a fraction of the stake when RewardAsPercentage, else an absolute amount.
	Reward             Quantity
	RewardAsPercentage bool
	// QuitProbability is the per-iteration chance of exiting early; the
	// principal is released without a reward.
	QuitProbability float64
}

func (c StakerConfig) validate() error {
	if c.QuitProbability < 0 || c.QuitProbability > 1 {
		return fmt.Errorf("%w: quit probability must be in [0,1], got %v", ErrInvalidConfig, c.QuitProbability)
	}
	return nil
}

// staker holds one staking position. Rewards come out of the linked pool's
// treasury when it has one and are minted otherwise; either way they enter
// circulation as a positive delta.
type staker struct {
	supplyBase
	randomness
	cfg    StakerConfig
	staked float64
	done   bool
}

func newStaker(cfg StakerConfig) (staker, error) {
	if err := cfg.validate(); err != nil {
		return staker{}, err
	}
	return staker{supplyBase: supplyBase{Controller: newController(cfg.Name, CapAgentPool)}, cfg: cfg}, nil
}

// stake locks the principal and returns the negative delta.
func (s *staker) stake() (float64, error) {
	amount, err := s.cfg.Amount.Draw(s.stream())
	if err != nil {
		return 0, err
	}
	s.staked = amount
	return -amount, nil
}

// reward computes the reward and funds it.
func (s *staker) reward() (float64, error) {
	r, err := s.cfg.Reward.Draw(s.stream())
	if err != nil {
		return 0, err
	}
	if s.cfg.RewardAsPercentage {
		r *= s.staked
	}
	if pool := s.deps.Pool(); pool != nil && pool.Treasury() != nil {
		r = pool.Treasury().Withdraw(pool.Currency(), r)
	}
	return r, nil
}

// quits draws the early-exit decision.
func (s *staker) quits() bool {
	return s.cfg.QuitProbability > 0 && s.stream().Float64() < s.cfg.QuitProbability
}

// release ends the position and returns the principal.
func (s *staker) release() float64 {
	v := s.staked
	s.staked = 0
	s.done = true
	return v
}

// Staked returns the currently locked amount.
func (s *staker) Staked() float64 { return s.staked }

func (s *staker) Reset() {
	s.resetBase()
	s.staked = 0
	s.done = false
}

func (s *staker) cloneStaker() staker {
	return staker{supplyBase: s.cloneSupply(), cfg: s.cfg, staked: s.staked, done: s.done}
}

// StakerLockup locks a stake for Duration iterations and returns it with the
// reward at expiry.
type StakerLockup struct {
	staker
	duration int
}

func NewStakerLockup(cfg StakerConfig, duration int) (*StakerLockup, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: lockup duration must be positive, got %d", ErrInvalidConfig, duration)
	}
	base, err := newStaker(cfg)
	if err != nil {
		return nil, err
	}
	return &StakerLockup{staker: base, duration: duration}, nil
}

func (s *StakerLockup) Execute() (float64, error) {
	switch {
	case s.done:
		return s.emit(0), nil
	case s.iteration == 0:
		v, err := s.stake()
		if err != nil {
			return 0, err
		}
		return s.emit(v), nil
	case s.iteration >= s.duration:
		r, err := s.reward()
		if err != nil {
			return 0, err
		}
		return s.emit(s.release() + r), nil
	case s.quits():
		return s.emit(s.release()), nil
	}
	return s.emit(0), nil
}

func (s *StakerLockup) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *StakerLockup {
		return &StakerLockup{staker: s.cloneStaker(), duration: s.duration}
	})
}

// StakerMonthly keeps the stake locked and pays a reward every Period iterations.
type StakerMonthly struct {
	staker
	period int
}

func NewStakerMonthly(cfg StakerConfig, period int) (*StakerMonthly, error) {
	if period <= 0 {
		period = 1
	}
	base, err := newStaker(cfg)
	if err != nil {
		return nil, err
	}
	return &StakerMonthly{staker: base, period: period}, nil
}

func (s *StakerMonthly) Execute() (float64, error) {
	switch {
	case s.done:
		return s.emit(0), nil
	case s.iteration == 0:
		v, err := s.stake()
		if err != nil {
			return 0, err
		}
		return s.emit(v), nil
	case s.quits():
		return s.emit(s.release()), nil
	case s.iteration%s.period == 0:
		r, err := s.reward()
		if err != nil {
			return 0, err
		}
		return s.emit(r), nil
	}
	return s.emit(0), nil
}

func (s *StakerMonthly) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *StakerMonthly {
		return &StakerMonthly{staker: s.cloneStaker(), period: s.period}
	})
}

// Staker is implemented by both staking positions.
type Staker interface {
	SupplyController
	Staked() float64
}
