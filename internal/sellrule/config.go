package sellrule

import (
	"errors"
	"fmt"
	"time"
)

// Rule numbers.
const (
	RuleGapUpPullback       = 1
	RuleGapDownPullback     = 2
	RuleGapDownGainPullback = 3
	RuleGainPullback        = 4
	RuleClosingSell         = 5
	RuleLimitUpSealWeak     = 6
	RuleOrderTimeout        = 7
	RuleMaxDrawdown         = 8
)

// Config holds every rule threshold. Enabled is indexed by rule number;
// a missing entry means disabled.
type Config struct {
	Cooldown       time.Duration
	SellPriceLevel int
	Enabled        map[int]bool

	Rule1Rise, Rule1Drawdown float64
	Rule2Rise, Rule2Drawdown float64
	Rule3Gain, Rule3Drawdown float64
	Rule4Gain, Rule4Drawdown float64

	Rule5Window         time.Duration
	Rule5LimitTolerance float64

	Rule6NearLimit     float64
	Rule6SealThreshold float64

	Rule7Timeout time.Duration

	Rule8MaxDrawdown float64
}

// DefaultConfig enables all eight rules with the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Cooldown:       30 * time.Second,
		SellPriceLevel: 3,
		Enabled: map[int]bool{
			1: true, 2: true, 3: true, 4: true,
			5: true, 6: true, 7: true, 8: true,
		},
		Rule1Rise: 0.03, Rule1Drawdown: 0.02,
		Rule2Rise: 0.05, Rule2Drawdown: 0.03,
		Rule3Gain: 0.06, Rule3Drawdown: 0.03,
		Rule4Gain: 0.08, Rule4Drawdown: 0.04,

		Rule5Window:         5 * time.Minute,
		Rule5LimitTolerance: 0.999,

		Rule6NearLimit:     0.99,
		Rule6SealThreshold: 5_000_000,

		Rule7Timeout: 2 * time.Second,

		Rule8MaxDrawdown: 0.05,
	}
}

// Validate rejects negative thresholds and out-of-range settings.
func (c Config) Validate() error {
	var errs []error
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must be >= 0, got %s", c.Cooldown))
	}
	if c.SellPriceLevel < 1 || c.SellPriceLevel > 5 {
		errs = append(errs, fmt.Errorf("sell_price_level must be 1-5, got %d", c.SellPriceLevel))
	}
	for rule := range c.Enabled {
		if rule < 1 || rule > 8 {
			errs = append(errs, fmt.Errorf("unknown rule %d", rule))
		}
	}
	ratios := map[string]float64{
		"rule1_rise": c.Rule1Rise, "rule1_drawdown": c.Rule1Drawdown,
		"rule2_rise": c.Rule2Rise, "rule2_drawdown": c.Rule2Drawdown,
		"rule3_gain": c.Rule3Gain, "rule3_drawdown": c.Rule3Drawdown,
		"rule4_gain": c.Rule4Gain, "rule4_drawdown": c.Rule4Drawdown,
		"rule8_max_drawdown": c.Rule8MaxDrawdown,
	}
	for name, v := range ratios {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %v", name, v))
		}
	}
	if c.Rule5LimitTolerance <= 0 || c.Rule5LimitTolerance > 1 {
		errs = append(errs, fmt.Errorf("rule5_limit_tolerance must be in (0,1], got %v", c.Rule5LimitTolerance))
	}
	if c.Rule5Window <= 0 || c.Rule5Window > 2*time.Hour {
		errs = append(errs, fmt.Errorf("rule5_window must be in (0,2h], got %s", c.Rule5Window))
	}
	if c.Rule6NearLimit <= 0 || c.Rule6NearLimit > 1 {
		errs = append(errs, fmt.Errorf("rule6_near_limit must be in (0,1], got %v", c.Rule6NearLimit))
	}
	if c.Rule6SealThreshold < 0 {
		errs = append(errs, fmt.Errorf("rule6_seal_threshold must be >= 0, got %v", c.Rule6SealThreshold))
	}
	if c.Rule7Timeout <= 0 {
		errs = append(errs, fmt.Errorf("rule7_timeout must be > 0, got %s", c.Rule7Timeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("sellrule: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
