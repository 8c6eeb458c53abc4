package sim

import (
	"fmt"
	"strings"
)

// ExecutionTiming selects which bar fills an order triggered by a signal
type ExecutionTiming string

const (
	SameBarClose ExecutionTiming = "same_bar_close"
	NextBarOpen  ExecutionTiming = "next_bar_open"
)

// Mode selects how capital is shared across symbols
type Mode string

const (
	// ModeShared runs every symbol against a single cash pool
	ModeShared Mode = "shared"
	// ModeIndependent gives each symbol its own slice of capital
	ModeIndependent Mode = "independent"
)

// Config holds the parameters of a single simulation run
type Config struct {
	InitialCapital      float64         `json:"initial_capital" yaml:"initial_capital"`
	CommissionRate      float64         `json:"commission_rate" yaml:"commission_rate"`
	SlippageBps         float64         `json:"slippage_bps" yaml:"slippage_bps"`
	MaxPositions        int             `json:"max_positions" yaml:"max_positions"`
	LeverageLimit       float64         `json:"leverage_limit" yaml:"leverage_limit"`
	ExecutionTiming     ExecutionTiming `json:"execution_timing" yaml:"execution_timing"`
	AnnualizationFactor float64         `json:"annualization_factor" yaml:"annualization_factor"`
	RiskFreeRate        float64         `json:"risk_free_rate" yaml:"risk_free_rate"` // daily
	Mode                Mode            `json:"mode" yaml:"mode"`
}

// DefaultConfig returns a long-only, cost-free, single-pool configuration
func DefaultConfig() Config {
	return Config{
		InitialCapital:      100000,
		CommissionRate:      0,
		SlippageBps:         0,
		MaxPositions:        1,
		LeverageLimit:       0,
		ExecutionTiming:     SameBarClose,
		AnnualizationFactor: 252,
		RiskFreeRate:        0,
		Mode:                ModeShared,
	}
}

// WithDefaults fills zero-valued optional fields
func (c Config) WithDefaults() Config {
	if c.ExecutionTiming == "" {
		c.ExecutionTiming = SameBarClose
	}
	if c.AnnualizationFactor == 0 {
		c.AnnualizationFactor = 252
	}
	if c.Mode == "" {
		c.Mode = ModeShared
	}
	return c
}

// Validate checks the configuration and returns a *ConfigurationError describing
// every violated constraint
func (c Config) Validate() error {
	var problems []string

	if !(c.InitialCapital > 0) {
		problems = append(problems, fmt.Sprintf("initial_capital must be > 0, got %v", c.InitialCapital))
	}
	if !(c.CommissionRate >= 0 && c.CommissionRate < 1) {
		problems = append(problems, fmt.Sprintf("commission_rate must be in [0,1), got %v", c.CommissionRate))
	}
	if !(c.SlippageBps >= 0) {
		problems = append(problems, fmt.Sprintf("slippage_bps must be >= 0, got %v", c.SlippageBps))
	}
	if c.MaxPositions < 1 {
		problems = append(problems, fmt.Sprintf("max_positions must be >= 1, got %d", c.MaxPositions))
	}
	if !(c.LeverageLimit >= 0) {
		problems = append(problems, fmt.Sprintf("leverage_limit must be >= 0, got %v", c.LeverageLimit))
	}
	switch c.ExecutionTiming {
	case SameBarClose, NextBarOpen:
	default:
		problems = append(problems, fmt.Sprintf("execution_timing must be %s or %s, got %q", SameBarClose, NextBarOpen, c.ExecutionTiming))
	}
	if !(c.AnnualizationFactor > 0) {
		problems = append(problems, fmt.Sprintf("annualization_factor must be > 0, got %v", c.AnnualizationFactor))
	}
	switch c.Mode {
	case ModeShared, ModeIndependent:
	default:
		problems = append(problems, fmt.Sprintf("mode must be %s or %s, got %q", ModeShared, ModeIndependent, c.Mode))
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// String renders the config compactly for logs and report headers
func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "capital=%.2f commission=%.4f slippage_bps=%.1f max_positions=%d leverage=%.2f timing=%s mode=%s",
		c.InitialCapital, c.CommissionRate, c.SlippageBps, c.MaxPositions, c.LeverageLimit, c.ExecutionTiming, c.Mode)
	return b.String()
}
