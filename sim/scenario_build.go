package sim

import (
	"fmt"
)

// Build constructs the scenario's simulation: a TokenEconomy when there is
// one economy, an Ecosystem otherwise.
func (s *Scenario) Build() (Simulation, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	built := make(map[string]*TokenEconomy, len(s.Economies))
	economies := make([]*TokenEconomy, 0, len(s.Economies))
	for i := range s.Economies {
		spec := &s.Economies[i]
		e, err := buildEconomy(spec, s.UnitOfTime, built)
		if err != nil {
			return nil, fmt.Errorf("economy %q: %w", spec.Name, err)
		}
		built[spec.Name] = e
		economies = append(economies, e)
	}
	if len(economies) == 1 {
		return economies[0], nil
	}
	return NewEcosystem(economies, s.Shuffle, s.UnitOfTime)
}

func buildEconomy(spec *EconomySpec, unitOfTime string, earlier map[string]*TokenEconomy) (*TokenEconomy, error) {
	cfg := EconomyConfig{
		Name:                   spec.Name,
		Fiat:                   spec.Fiat,
		Token:                  spec.Token,
		InitialPrice:           spec.InitialPrice,
		InitialSupply:          spec.InitialSupply,
		SupplyIsAdded:          spec.SupplyIsAdded,
		IgnoreSupplyController: spec.IgnoreSupplyController,
		BurnToken:              spec.BurnToken,
		SafeguardSupply:        spec.SafeguardSupply,
		UnitOfTime:             unitOfTime,
	}
	if dep, ok := earlier[spec.DependsOn]; ok {
		cfg.DependsOn = dep
	}
	var err error
	if spec.Supply != nil {
		if cfg.Supply, err = buildSupply(spec.Supply); err != nil {
			return nil, fmt.Errorf("supply: %w", err)
		}
	}
	if cfg.HoldingTime, err = buildHoldingTime(&spec.HoldingTime); err != nil {
		return nil, fmt.Errorf("holding_time: %w", err)
	}
	if spec.Price != nil {
		if cfg.PriceFunction, err = buildPrice(spec.Price); err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
	}
	for i := range spec.SupplyPools {
		sp, err := buildSupply(&spec.SupplyPools[i])
		if err != nil {
			return nil, fmt.Errorf("supply_pools[%d]: %w", i, err)
		}
		cfg.SupplyPools = append(cfg.SupplyPools, sp)
	}

	treasuries := make(map[string]*Treasury, len(spec.Treasuries))
	for _, t := range spec.Treasuries {
		treasuries[t.Name] = NewTreasury(t.Name, t.Opening, t.Conversion)
	}
	growth := make(map[string]UserGrowth, len(spec.AgentPools))
	for i := range spec.AgentPools {
		ps := &spec.AgentPools[i]
		pool, users, err := buildPool(ps, treasuries, growth, earlier)
		if err != nil {
			return nil, fmt.Errorf("agent pool %q: %w", ps.Name, err)
		}
		growth[ps.Name] = users
		cfg.AgentPools = append(cfg.AgentPools, pool)
	}
	return NewTokenEconomy(cfg)
}

func buildPool(ps *PoolSpec, treasuries map[string]*Treasury, growth map[string]UserGrowth, earlier map[string]*TokenEconomy) (AgentPool, UserGrowth, error) {
	var users UserGrowth
	var err error
	if ps.ChainedTo != "" {
		users = growth[ps.ChainedTo]
	} else if ps.Users != nil {
		if users, err = buildUsers(ps.Users); err != nil {
			return nil, nil, err
		}
	}
	var tx TransactionManagement
	if ps.Transactions != nil {
		if tx, err = buildTransactions(ps.Transactions, earlier); err != nil {
			return nil, nil, err
		}
	}
	var treasury *Treasury
	if ps.Treasury != "" {
		treasury = treasuries[ps.Treasury]
	}

	if ps.Type == "conditional" {
		pool, err := NewConditionalPool(ConditionalPoolConfig{
			Name:             ps.Name,
			Currency:         ps.Currency,
			Users:            users,
			Transactions:     tx,
			ConnectToEconomy: ps.ConnectToEconomy,
			Treasury:         treasury,
			Fee:              ps.Fee,
		})
		if err != nil {
			return nil, nil, err
		}
		for i, cs := range ps.Conditions {
			cond, err := ThresholdCondition(cs.Variable, cs.Op, cs.Threshold)
			if err != nil {
				return nil, nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
			var ctl Linker
			if cs.Users != nil {
				ctl, err = buildUsers(cs.Users)
			} else {
				ctl, err = buildTransactions(cs.Transactions, earlier)
			}
			if err != nil {
				return nil, nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
			if err := pool.AddCondition(cond, ctl); err != nil {
				return nil, nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
		}
		return pool, users, nil
	}

	cfg := PoolConfig{
		Name:                ps.Name,
		Users:               users,
		Transactions:        tx,
		Currency:            ps.Currency,
		Chained:             ps.ChainedTo != "",
		Treasury:            treasury,
		Fee:                 ps.Fee,
		FeeType:             ps.FeeType,
		ActivationIteration: ps.ActivationIteration,
	}
	switch ps.Type {
	case "buyback":
		pool, err := NewBuyBackPool(cfg)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.users, nil
	case "staking":
		st := ps.Staker
		pool, err := NewStakingPool(StakingPoolConfig{
			PoolConfig: cfg,
			Kind:       st.Kind,
			Staker:     stakerConfig("", st),
			Duration:   st.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.users, nil
	}
	pool, err := NewAgentPool(cfg)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.users, nil
}

func stakerConfig(name string, st *StakerSpec) StakerConfig {
	return StakerConfig{
		Name:               name,
		Amount:             st.Amount,
		Reward:             st.Reward,
		RewardAsPercentage: st.RewardAsPercentage,
		QuitProbability:    st.QuitProbability,
	}
}

func buildUsers(u *UsersSpec) (UserGrowth, error) {
	noise, err := NewAddOn(u.Noise)
	if err != nil {
		return nil, err
	}
	switch u.Type {
	case "constant":
		return NewConstantUsers(u.Users), nil
	case "spaced":
		space, err := SpaceByName(u.Space)
		if err != nil {
			return nil, err
		}
		return NewSpacedUsers(SpacedUsersConfig{
			Name:          u.Name,
			Initial:       u.Initial,
			Max:           u.Max,
			NumSteps:      u.NumSteps,
			Space:         space,
			UseDifference: u.UseDifference,
			Noise:         noise,
			OnExhausted:   u.OnExhausted,
		})
	case "data":
		return NewUsersFromData(u.Name, u.Data, u.OnExhausted)
	case "stochastic":
		if u.Dist == nil {
			return nil, fmt.Errorf("%w: stochastic users need a distribution", ErrInvalidConfig)
		}
		return NewStochasticUsers(StochasticUsersConfig{
			Name:          u.Name,
			Dist:          *u.Dist,
			Initial:       u.Initial,
			AddToUserbase: u.AddToUserbase,
			Noise:         noise,
		})
	}
	return nil, fmt.Errorf("%w: unknown user growth %q", ErrInvalidConfig, u.Type)
}

func buildTransactions(t *TransactionsSpec, earlier map[string]*TokenEconomy) (TransactionManagement, error) {
	noise, err := NewAddOn(t.Noise)
	if err != nil {
		return nil, err
	}
	switch t.Type {
	case "constant":
		return NewConstantTransactions(ConstantTransactionsConfig{Name: t.Name, Average: t.Average, Noise: noise, Source: t.Source})
	case "data":
		return NewTransactionsFromData(t.Name, t.Data, t.OnExhausted)
	case "assumptions":
		return NewAssumptionTransactions(AssumptionTransactionsConfig{
			Name: t.Name, PerUser: t.PerUser, IgnoreUsers: t.IgnoreUsers, OnExhausted: t.OnExhausted, Source: t.Source,
		})
	case "trend":
		space, err := SpaceByName(t.Space)
		if err != nil {
			return nil, err
		}
		return NewTrendTransactions(TrendTransactionsConfig{
			Name: t.Name, Initial: t.Initial, Final: t.Final, NumSteps: t.NumSteps, Space: space,
			Noise: noise, OnExhausted: t.OnExhausted, Source: t.Source,
		})
	case "simple_trend":
		return NewSimpleTrendTransactions(t.Name, t.Initial, t.Increment, noise), nil
	case "stochastic":
		return NewStochasticTransactions(StochasticTransactionsConfig{
			Name:       t.Name,
			Activity:   t.Activity,
			Value:      t.Value,
			FixedValue: t.FixedValue,
			ValueDrift: t.ValueDrift,
			Count:      t.Count,
			FixedCount: t.FixedCount,
			CountDrift: t.CountDrift,
			Type:       t.TransactionType,
			Source:     t.Source,
		})
	case "marketcap":
		if t.Dist == nil {
			return nil, fmt.Errorf("%w: marketcap transactions need a distribution", ErrInvalidConfig)
		}
		return NewMarketcapTransactions(t.Name, *t.Dist, t.TransactionType)
	case "channeled":
		from, ok := earlier[t.From]
		if !ok {
			return nil, fmt.Errorf("%w: unknown source economy %q", ErrInvalidConfig, t.From)
		}
		return NewChanneledTransactions(t.Name, from, t.Percentage, t.Measure, noise)
	}
	return nil, fmt.Errorf("%w: unknown transactions type %q", ErrInvalidConfig, t.Type)
}

func buildSupply(s *SupplySpec) (SupplyController, error) {
	noise, err := NewAddOn(s.Noise)
	if err != nil {
		return nil, err
	}
	switch s.Type {
	case "constant":
		return NewConstantSupply(s.Amount), nil
	case "data":
		return NewSupplyFromData(s.Name, s.Data, s.OnExhausted)
	case "cliff_vesting":
		return NewCliffVesting(s.Name, s.Amount, s.VestingPeriod, s.Cliff, s.Delay)
	case "burn":
		return NewBurnSupply(s.Name, s.BurnStyle, s.Rate, s.SelfDestruct)
	case "investor_dumper":
		space, err := SpaceByName(s.Space)
		if err != nil {
			return nil, err
		}
		return NewInvestorDumper(InvestorDumperConfig{
			Name: s.Name, Initial: s.Initial, Final: s.Final, NumSteps: s.NumSteps,
			Space: space, Noise: noise, OnExhausted: s.OnExhausted,
		})
	case "adaptive_stochastic":
		return NewAdaptiveStochasticSupply(AdaptiveStochasticConfig{
			Name: s.Name, Removal: s.Removal, Return: s.Return, ClampNegative: s.ClampNegative,
		})
	case "bonding":
		return NewBondingSupply(), nil
	case "speculator":
		return NewSpeculator(SpeculatorConfig{
			Name: s.Name, Entry: s.Entry, TakeProfit: s.TakeProfit, StopLoss: s.StopLoss, MaxShare: s.MaxShare,
		})
	case "staker":
		cfg := stakerConfig(s.Name, s.Staker)
		if s.Staker.Kind == StakerKindMonthly {
			return NewStakerMonthly(cfg, s.Staker.Duration)
		}
		return NewStakerLockup(cfg, s.Staker.Duration)
	}
	return nil, fmt.Errorf("%w: unknown supply type %q", ErrInvalidConfig, s.Type)
}

func buildHoldingTime(h *HoldingTimeSpec) (HoldingTimeController, error) {
	noise, err := NewAddOn(h.Noise)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case "constant":
		return NewConstantHoldingTime(h.Value)
	case "stochastic":
		return NewStochasticHoldingTime(h.Dist, h.Minimum)
	case "adaptive":
		return NewAdaptiveHoldingTime(AdaptiveHoldingTimeConfig{
			Initial: h.Value, Minimum: h.Minimum, Maximum: h.Maximum, Noise: noise,
		})
	}
	return nil, fmt.Errorf("%w: unknown holding time %q", ErrInvalidConfig, h.Type)
}

func buildPrice(p *PriceSpec) (PriceFunctionController, error) {
	noise, err := NewAddOn(p.Noise)
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case "equation_of_exchange":
		return NewEquationOfExchange(EquationOfExchangeConfig{Smoothing: p.Smoothing, UseVelocity: p.UseVelocity, Noise: noise})
	case "bonding_curve", "issuance_curve":
		if p.Curve == nil {
			return nil, fmt.Errorf("%w: %s needs a curve", ErrInvalidConfig, p.Type)
		}
		curve, err := NewCurve(*p.Curve)
		if err != nil {
			return nil, err
		}
		if p.Type == "bonding_curve" {
			return NewBondingCurve(curve, p.MaxSupply)
		}
		return NewIssuanceCurve(curve, p.MaxSupply)
	case "regression":
		return NewRegressionPrice(RegressionPriceConfig{
			TopAppreciation:    p.TopAppreciation,
			StdPrior:           p.StdPrior,
			Anchoring:          p.Anchoring,
			ProportionateNoise: p.ProportionateNoise,
		})
	}
	return nil, fmt.Errorf("%w: unknown price function %q", ErrInvalidConfig, p.Type)
}
