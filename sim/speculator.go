package sim

import (
	"fmt"
	"math"
)

// SpeculatorConfig configures buy-and-hold speculation.
type SpeculatorConfig struct {
	Name string
	// Entry is the fraction of last iteration's fiat volume spent on a new
	// position. Nil defaults to uniform(0, 0.1).
	Entry *DistSpec
	// TakeProfit and StopLoss are price ratios to the entry price that close a
	// position. Defaults 1.1 and 0.9.
	TakeProfit float64
	StopLoss   float64
	// MaxShare caps tokens held across open positions as a share of supply.
	// Default 0.9.
	MaxShare float64
}

type position struct {
	tokens float64
	upper  float64
	lower  float64
}

// Speculator keeps open positions out of circulation and releases each one
// once the price leaves its take-profit/stop-loss band. The emitted delta is
// released tokens minus newly bought tokens.
type Speculator struct {
	supplyBase
	randomness
	cfg       SpeculatorConfig
	entry     *distribution
	positions []position
}

func NewSpeculator(cfg SpeculatorConfig) (*Speculator, error) {
	if cfg.TakeProfit == 0 {
		cfg.TakeProfit = 1.1
	}
	if cfg.StopLoss == 0 {
		cfg.StopLoss = 0.9
	}
	if cfg.MaxShare == 0 {
		cfg.MaxShare = 0.9
	}
	if cfg.StopLoss > cfg.TakeProfit {
		return nil, fmt.Errorf("%w: stop loss %v above take profit %v", ErrInvalidConfig, cfg.StopLoss, cfg.TakeProfit)
	}
	if cfg.MaxShare < 0 || cfg.MaxShare > 1 {
		return nil, fmt.Errorf("%w: max share must be in [0,1], got %v", ErrInvalidConfig, cfg.MaxShare)
	}
	spec := DistSpec{Type: "uniform", Params: map[string]float64{"loc": 0, "scale": 0.1}}
	if cfg.Entry != nil {
		spec = *cfg.Entry
	}
	entry, err := newDistribution(spec)
	if err != nil {
		return nil, err
	}
	return &Speculator{supplyBase: supplyBase{Controller: newController(cfg.Name, CapTokenEconomy)}, cfg: cfg, entry: entry}, nil
}

func (s *Speculator) Execute() (float64, error) {
	econ := s.deps.Economy()
	if econ == nil {
		return 0, fmt.Errorf("%w: speculator needs an economy", ErrIntegrity)
	}
	price := econ.Price()
	if price <= 0 {
		return s.emit(0), nil
	}

	released, held := 0.0, 0.0
	open := s.positions[:0]
	for _, p := range s.positions {
		if price > p.upper || price < p.lower {
			released += p.tokens
			continue
		}
		held += p.tokens
		open = append(open, p)
	}
	s.positions = open

	frac, err := s.entry.sample(s.stream(), s.iteration)
	if err != nil {
		return 0, err
	}
	bought := math.Max(0, econ.LastTransactionsValueInFiat()*frac/price)
	if limit := s.cfg.MaxShare * econ.Supply(); held+bought > limit {
		bought = math.Max(0, limit-held)
	}
	if bought > 0 {
		s.positions = append(s.positions, position{
			tokens: bought,
			upper:  price * s.cfg.TakeProfit,
			lower:  price * s.cfg.StopLoss,
		})
	}
	return s.emit(released - bought), nil
}

// Held returns the tokens in open positions.
func (s *Speculator) Held() float64 {
	total := 0.0
	for _, p := range s.positions {
		total += p.tokens
	}
	return total
}

func (s *Speculator) Reset() {
	s.resetBase()
	s.positions = nil
}

func (s *Speculator) Clone(c *Cloner) SupplyController {
	return cloneOnce(c, s, func() *Speculator {
		return &Speculator{
			supplyBase: s.cloneSupply(),
			cfg:        s.cfg,
			entry:      s.entry.clone(),
			positions:  append([]position(nil), s.positions...),
		}
	})
}
