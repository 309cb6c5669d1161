package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is the top-level configuration file: run settings plus one or
// more economies. Loaded from YAML via LoadScenario(path).
type Scenario struct {
	Seed        int64  `yaml:"seed"`
	Iterations  int    `yaml:"iterations"`
	Repetitions int    `yaml:"repetitions"`
	UnitOfTime  string `yaml:"unit_of_time,omitempty"`
	// Shuffle permutes the economies' order every step (ecosystems only).
	Shuffle   bool          `yaml:"shuffle,omitempty"`
	Economies []EconomySpec `yaml:"economies"`
}

// EconomySpec configures one TokenEconomy.
type EconomySpec struct {
	Name                   string          `yaml:"name"`
	Fiat                   string          `yaml:"fiat,omitempty"`
	Token                  string          `yaml:"token,omitempty"`
	InitialPrice           float64         `yaml:"initial_price"`
	InitialSupply          float64         `yaml:"initial_supply,omitempty"`
	Supply                 *SupplySpec     `yaml:"supply,omitempty"`
	SupplyIsAdded          *bool           `yaml:"supply_is_added,omitempty"`
	IgnoreSupplyController bool            `yaml:"ignore_supply_controller,omitempty"`
	BurnToken              bool            `yaml:"burn_token,omitempty"`
	SafeguardSupply        bool            `yaml:"safeguard_supply,omitempty"`
	DependsOn              string          `yaml:"depends_on,omitempty"` // name of an earlier economy
	HoldingTime            HoldingTimeSpec `yaml:"holding_time"`
	Price                  *PriceSpec      `yaml:"price,omitempty"`
	Treasuries             []TreasurySpec  `yaml:"treasuries,omitempty"`
	AgentPools             []PoolSpec      `yaml:"agent_pools"`
	SupplyPools            []SupplySpec    `yaml:"supply_pools,omitempty"`
}

// UsersSpec configures a UserGrowth controller.
type UsersSpec struct {
	Type          string     `yaml:"type"`
	Name          string     `yaml:"name,omitempty"`
	Users         float64    `yaml:"users,omitempty"`
	Initial       float64    `yaml:"initial,omitempty"`
	Max           float64    `yaml:"max,omitempty"`
	NumSteps      int        `yaml:"num_steps,omitempty"`
	Space         string     `yaml:"space,omitempty"`
	UseDifference bool       `yaml:"use_difference,omitempty"`
	Data          []float64  `yaml:"data,omitempty"`
	OnExhausted   Exhaustion `yaml:"on_exhausted,omitempty"`
	Dist          *DistSpec  `yaml:"dist,omitempty"`
	AddToUserbase bool       `yaml:"add_to_userbase,omitempty"`
	Noise         *AddOnSpec `yaml:"noise,omitempty"`
}

// TransactionsSpec configures a TransactionManagement controller.
type TransactionsSpec struct {
	Type        string     `yaml:"type"`
	Name        string     `yaml:"name,omitempty"`
	Source      Capability `yaml:"source,omitempty"`
	OnExhausted Exhaustion `yaml:"on_exhausted,omitempty"`
	Noise       *AddOnSpec `yaml:"noise,omitempty"`

	Average     float64   `yaml:"average,omitempty"`
	Data        []float64 `yaml:"data,omitempty"`
	PerUser     []float64 `yaml:"per_user,omitempty"`
	IgnoreUsers bool      `yaml:"ignore_users,omitempty"`

	Initial   float64 `yaml:"initial,omitempty"`
	Final     float64 `yaml:"final,omitempty"`
	NumSteps  int     `yaml:"num_steps,omitempty"`
	Space     string  `yaml:"space,omitempty"`
	Increment float64 `yaml:"increment,omitempty"`

	Activity        []float64          `yaml:"activity,omitempty"`
	Value           *DistSpec          `yaml:"value,omitempty"`
	FixedValue      *float64           `yaml:"fixed_value,omitempty"`
	ValueDrift      map[string]float64 `yaml:"value_drift,omitempty"`
	Count           *DistSpec          `yaml:"count,omitempty"`
	FixedCount      *float64           `yaml:"fixed_count,omitempty"`
	CountDrift      map[string]float64 `yaml:"count_drift,omitempty"`
	TransactionType TransactionType    `yaml:"transaction_type,omitempty"`

	Dist       *DistSpec      `yaml:"dist,omitempty"`
	From       string         `yaml:"from,omitempty"` // channeled: source economy name
	Percentage float64        `yaml:"percentage,omitempty"`
	Measure    ChannelMeasure `yaml:"measure,omitempty"`
}

// StakerSpec configures a staking position template.
type StakerSpec struct {
	Kind               StakerKind `yaml:"kind,omitempty"`
	Amount             Quantity   `yaml:"amount"`
	Reward             Quantity   `yaml:"reward"`
	RewardAsPercentage bool       `yaml:"reward_as_percentage,omitempty"`
	QuitProbability    float64    `yaml:"quit_probability,omitempty"`
	Duration           int        `yaml:"duration,omitempty"`
}

// SupplySpec configures a SupplyController, core or auxiliary.
type SupplySpec struct {
	Type        string     `yaml:"type"`
	Name        string     `yaml:"name,omitempty"`
	Amount      float64    `yaml:"amount,omitempty"`
	Data        []float64  `yaml:"data,omitempty"`
	OnExhausted Exhaustion `yaml:"on_exhausted,omitempty"`

	VestingPeriod int `yaml:"vesting_period,omitempty"`
	Cliff         int `yaml:"cliff,omitempty"`
	Delay         int `yaml:"delay,omitempty"`

	BurnStyle    BurnStyle `yaml:"burn_style,omitempty"`
	Rate         float64   `yaml:"rate,omitempty"`
	SelfDestruct bool      `yaml:"self_destruct,omitempty"`

	Initial  float64    `yaml:"initial,omitempty"`
	Final    float64    `yaml:"final,omitempty"`
	NumSteps int        `yaml:"num_steps,omitempty"`
	Space    string     `yaml:"space,omitempty"`
	Noise    *AddOnSpec `yaml:"noise,omitempty"`

	Removal       *DistSpec `yaml:"removal,omitempty"`
	Return        *DistSpec `yaml:"return,omitempty"`
	ClampNegative bool      `yaml:"clamp_negative,omitempty"`

	Entry      *DistSpec `yaml:"entry,omitempty"`
	TakeProfit float64   `yaml:"take_profit,omitempty"`
	StopLoss   float64   `yaml:"stop_loss,omitempty"`
	MaxShare   float64   `yaml:"max_share,omitempty"`

	Staker *StakerSpec `yaml:"staker,omitempty"`
}

// HoldingTimeSpec configures the holding-time controller.
type HoldingTimeSpec struct {
	Type    string     `yaml:"type"`
	Value   float64    `yaml:"value,omitempty"`
	Dist    *DistSpec  `yaml:"dist,omitempty"`
	Minimum float64    `yaml:"minimum,omitempty"`
	Maximum float64    `yaml:"maximum,omitempty"`
	Noise   *AddOnSpec `yaml:"noise,omitempty"`
}

// PriceSpec configures the price function.
type PriceSpec struct {
	Type               string     `yaml:"type"`
	Smoothing          *float64   `yaml:"smoothing,omitempty"`
	UseVelocity        bool       `yaml:"use_velocity,omitempty"`
	Noise              *AddOnSpec `yaml:"noise,omitempty"`
	Curve              *CurveSpec `yaml:"curve,omitempty"`
	MaxSupply          float64    `yaml:"max_supply,omitempty"`
	TopAppreciation    float64    `yaml:"top_appreciation,omitempty"`
	StdPrior           float64    `yaml:"std_prior,omitempty"`
	Anchoring          float64    `yaml:"anchoring,omitempty"`
	ProportionateNoise bool       `yaml:"proportionate_noise,omitempty"`
}

// TreasurySpec declares a treasury pools of the same economy can share.
type TreasurySpec struct {
	Name       string              `yaml:"name"`
	Opening    map[string]float64  `yaml:"opening,omitempty"`
	Conversion *TreasuryConversion `yaml:"conversion,omitempty"`
}

// PoolSpec configures an agent pool.
type PoolSpec struct {
	Name                string            `yaml:"name"`
	Type                string            `yaml:"type,omitempty"`
	Currency            string            `yaml:"currency,omitempty"`
	Users               *UsersSpec        `yaml:"users,omitempty"`
	Transactions        *TransactionsSpec `yaml:"transactions,omitempty"`
	ChainedTo           string            `yaml:"chained_to,omitempty"` // pool whose users this pool reads
	Treasury            string            `yaml:"treasury,omitempty"`
	Fee                 *float64          `yaml:"fee,omitempty"`
	FeeType             FeeType           `yaml:"fee_type,omitempty"`
	ActivationIteration int               `yaml:"activation_iteration,omitempty"`
	Staker              *StakerSpec       `yaml:"staker,omitempty"`
	ConnectToEconomy    *bool             `yaml:"connect_to_economy,omitempty"`
	Conditions          []ConditionSpec   `yaml:"conditions,omitempty"`
}

// ConditionSpec attaches one controller to a threshold condition.
type ConditionSpec struct {
	Variable     string            `yaml:"variable"`
	Op           string            `yaml:"op"`
	Threshold    float64           `yaml:"threshold"`
	Users        *UsersSpec        `yaml:"users,omitempty"`
	Transactions *TransactionsSpec `yaml:"transactions,omitempty"`
}

// Valid value registries.
var (
	ValidUserGrowth = map[string]bool{
		"constant": true, "spaced": true, "data": true, "stochastic": true,
	}
	ValidTransactionKinds = map[string]bool{
		"constant": true, "data": true, "assumptions": true, "trend": true, "simple_trend": true,
		"stochastic": true, "marketcap": true, "channeled": true,
	}
	ValidSupplyKinds = map[string]bool{
		"constant": true, "data": true, "cliff_vesting": true, "burn": true, "investor_dumper": true,
		"adaptive_stochastic": true, "bonding": true, "speculator": true, "staker": true,
	}
	ValidHoldingTimes = map[string]bool{
		"constant": true, "stochastic": true, "adaptive": true,
	}
	ValidPriceFunctions = map[string]bool{
		"equation_of_exchange": true, "bonding_curve": true, "issuance_curve": true, "regression": true,
	}
	ValidPoolTypes = map[string]bool{
		"": true, "basic": true, "buyback": true, "staking": true, "conditional": true,
	}
)

// LoadScenario reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML from memory.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &s, nil
}

// Validate checks names and ranges. Deeper checks happen in Build, where each
// constructor validates its own configuration.
func (s *Scenario) Validate() error {
	if s.Iterations < 0 {
		return fmt.Errorf("%w: iterations must be non-negative, got %d", ErrInvalidConfig, s.Iterations)
	}
	if s.Repetitions < 0 {
		return fmt.Errorf("%w: repetitions must be non-negative, got %d", ErrInvalidConfig, s.Repetitions)
	}
	if len(s.Economies) == 0 {
		return fmt.Errorf("%w: at least one economy required", ErrInvalidConfig)
	}
	names := make(map[string]bool, len(s.Economies))
	for i := range s.Economies {
		e := &s.Economies[i]
		prefix := fmt.Sprintf("economies[%d]", i)
		if len(s.Economies) > 1 && e.Name == "" {
			return fmt.Errorf("%w: %s: every economy in an ecosystem needs a name", ErrInvalidConfig, prefix)
		}
		if names[e.Name] {
			return fmt.Errorf("%w: %s: duplicate economy name %q", ErrInvalidConfig, prefix, e.Name)
		}
		if e.DependsOn != "" && !names[e.DependsOn] {
			return fmt.Errorf("%w: %s: depends_on %q must name an earlier economy", ErrInvalidConfig, prefix, e.DependsOn)
		}
		if err := validateEconomy(prefix, e, names); err != nil {
			return err
		}
		names[e.Name] = true
	}
	return nil
}

// ComposeScenarios merges the economies of several scenarios into one
// ecosystem scenario. Run settings come from the first scenario. The merged
// scenario is validated, so clashing economy names are rejected.
func ComposeScenarios(scenarios []*Scenario) (*Scenario, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("%w: at least one scenario required", ErrInvalidConfig)
	}
	first := scenarios[0]
	merged := &Scenario{
		Seed:        first.Seed,
		Iterations:  first.Iterations,
		Repetitions: first.Repetitions,
		UnitOfTime:  first.UnitOfTime,
	}
	for _, sc := range scenarios {
		merged.Shuffle = merged.Shuffle || sc.Shuffle
		merged.Economies = append(merged.Economies, sc.Economies...)
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func validateEconomy(prefix string, e *EconomySpec, earlier map[string]bool) error {
	if err := validateFinite(prefix+".initial_price", e.InitialPrice); err != nil {
		return err
	}
	if !ValidHoldingTimes[e.HoldingTime.Type] {
		return fmt.Errorf("%w: %s.holding_time: unknown type %q", ErrInvalidConfig, prefix, e.HoldingTime.Type)
	}
	if e.Price != nil && !ValidPriceFunctions[e.Price.Type] {
		return fmt.Errorf("%w: %s.price: unknown type %q", ErrInvalidConfig, prefix, e.Price.Type)
	}
	if e.Supply != nil {
		if err := validateSupply(prefix+".supply", e.Supply); err != nil {
			return err
		}
	}
	for i := range e.SupplyPools {
		if err := validateSupply(fmt.Sprintf("%s.supply_pools[%d]", prefix, i), &e.SupplyPools[i]); err != nil {
			return err
		}
	}
	treasuries := make(map[string]bool, len(e.Treasuries))
	for _, t := range e.Treasuries {
		treasuries[t.Name] = true
	}
	if len(e.AgentPools) == 0 {
		return fmt.Errorf("%w: %s: at least one agent pool required", ErrInvalidConfig, prefix)
	}
	pools := make(map[string]bool, len(e.AgentPools))
	for i := range e.AgentPools {
		p := &e.AgentPools[i]
		pp := fmt.Sprintf("%s.agent_pools[%d]", prefix, i)
		if !ValidPoolTypes[p.Type] {
			return fmt.Errorf("%w: %s: unknown pool type %q", ErrInvalidConfig, pp, p.Type)
		}
		if p.FeeType != "" && !ValidFeeTypes[p.FeeType] {
			return fmt.Errorf("%w: %s: fee_type must be perc or fixed, got %q", ErrInvalidConfig, pp, p.FeeType)
		}
		if p.Treasury != "" && !treasuries[p.Treasury] {
			return fmt.Errorf("%w: %s: unknown treasury %q", ErrInvalidConfig, pp, p.Treasury)
		}
		if p.ChainedTo != "" && !pools[p.ChainedTo] {
			return fmt.Errorf("%w: %s: chained_to %q must name an earlier pool", ErrInvalidConfig, pp, p.ChainedTo)
		}
		if p.Type == "staking" && p.Staker == nil {
			return fmt.Errorf("%w: %s: staking pool needs a staker", ErrInvalidConfig, pp)
		}
		if p.Users != nil {
			if err := validateUsers(pp+".users", p.Users); err != nil {
				return err
			}
		}
		if p.Transactions != nil {
			if err := validateTransactions(pp+".transactions", p.Transactions, earlier); err != nil {
				return err
			}
		}
		for j, c := range p.Conditions {
			cp := fmt.Sprintf("%s.conditions[%d]", pp, j)
			if p.Type != "conditional" {
				return fmt.Errorf("%w: %s: conditions need a conditional pool", ErrInvalidConfig, cp)
			}
			if !ValidOperators[c.Op] {
				return fmt.Errorf("%w: %s: unknown operator %q", ErrInvalidConfig, cp, c.Op)
			}
			if (c.Users == nil) == (c.Transactions == nil) {
				return fmt.Errorf("%w: %s: exactly one of users or transactions required", ErrInvalidConfig, cp)
			}
		}
		pools[p.Name] = true
	}
	return nil
}

func validateUsers(prefix string, u *UsersSpec) error {
	if !ValidUserGrowth[u.Type] {
		return fmt.Errorf("%w: %s: unknown user growth %q", ErrInvalidConfig, prefix, u.Type)
	}
	if !ValidSpaces[u.Space] {
		return fmt.Errorf("%w: %s: unknown space %q", ErrInvalidConfig, prefix, u.Space)
	}
	return validateAddOn(prefix+".noise", u.Noise)
}

func validateTransactions(prefix string, t *TransactionsSpec, earlier map[string]bool) error {
	if !ValidTransactionKinds[t.Type] {
		return fmt.Errorf("%w: %s: unknown transactions type %q", ErrInvalidConfig, prefix, t.Type)
	}
	if t.TransactionType != "" && !ValidTransactionTypes[t.TransactionType] {
		return fmt.Errorf("%w: %s: unknown transaction_type %q", ErrInvalidConfig, prefix, t.TransactionType)
	}
	if t.Type == "channeled" && !earlier[t.From] {
		return fmt.Errorf("%w: %s: from %q must name an earlier economy", ErrInvalidConfig, prefix, t.From)
	}
	if !ValidSpaces[t.Space] {
		return fmt.Errorf("%w: %s: unknown space %q", ErrInvalidConfig, prefix, t.Space)
	}
	return validateAddOn(prefix+".noise", t.Noise)
}

func validateSupply(prefix string, s *SupplySpec) error {
	if !ValidSupplyKinds[s.Type] {
		return fmt.Errorf("%w: %s: unknown supply type %q", ErrInvalidConfig, prefix, s.Type)
	}
	if s.Type == "burn" && !ValidBurnStyles[s.BurnStyle] {
		return fmt.Errorf("%w: %s: burn_style must be perc or fixed, got %q", ErrInvalidConfig, prefix, s.BurnStyle)
	}
	if s.Type == "staker" && s.Staker == nil {
		return fmt.Errorf("%w: %s: staker supply needs a staker", ErrInvalidConfig, prefix)
	}
	if !ValidSpaces[s.Space] {
		return fmt.Errorf("%w: %s: unknown space %q", ErrInvalidConfig, prefix, s.Space)
	}
	return validateAddOn(prefix+".noise", s.Noise)
}

func validateAddOn(prefix string, a *AddOnSpec) error {
	if a != nil && !ValidAddOns[a.Type] {
		return fmt.Errorf("%w: %s: unknown add-on %q", ErrInvalidConfig, prefix, a.Type)
	}
	return nil
}

func validateFinite(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%w: %s must be a finite number, got %f", ErrInvalidConfig, name, val)
	}
	return nil
}
