package backtest

import (
	"errors"
	"fmt"

	"openrange/internal/session"
)

// ErrInvalidConfig is wrapped by every configuration validation error
var ErrInvalidConfig = errors.New("invalid backtest config")

// ExitMode selects the primary-trade exit rule set
type ExitMode int

const (
	// ExitDefault uses the entry-bar stop, profit target and market close
	ExitDefault ExitMode = iota
	// ExitIndicator replaces the stop with an oscillator overbought/oversold exit
	ExitIndicator
)

// ParseExitMode accepts "default", "indicator" and its alias "rsi"
func ParseExitMode(s string) (ExitMode, error) {
	switch s {
	case "", "default":
		return ExitDefault, nil
	case "indicator", "rsi":
		return ExitIndicator, nil
	}
	return ExitDefault, fmt.Errorf("%w: unknown exit strategy %q", ErrInvalidConfig, s)
}

func (m ExitMode) String() string {
	if m == ExitIndicator {
		return "indicator"
	}
	return "default"
}

// MarshalText implements encoding.TextMarshaler
func (m ExitMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *ExitMode) UnmarshalText(text []byte) error {
	parsed, err := ParseExitMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// OscillatorExit holds the indicator exit parameters
type OscillatorExit struct {
	Period     int     `json:"period"`
	Overbought float64 `json:"overbought"`
	Oversold   float64 `json:"oversold"`
}

// ExitStrategy is the exit rule variant chosen once per run
type ExitStrategy struct {
	Mode      ExitMode       `json:"mode"`
	Indicator OscillatorExit `json:"indicator"`
}

// StopPlacement selects where the primary-trade stop sits
type StopPlacement string

const (
	// StopEntryBar places the stop at the session-open bar's low (long) or high (short)
	StopEntryBar StopPlacement = "entry-bar"
	// StopATR places the stop a multiple of the open bar's ATR away from entry
	StopATR StopPlacement = "atr"
)

// StopConfig configures the primary-trade stop
type StopConfig struct {
	Placement   StopPlacement `json:"placement"`
	ATRMultiple float64       `json:"atr_multiple"`
}

// TieBreak decides which exit wins when stop and target trigger on the same bar
type TieBreak string

const (
	StopFirst   TieBreak = "stop-first"
	TargetFirst TieBreak = "target-first"
)

// BreakoutConfig configures secondary breakout entries
type BreakoutConfig struct {
	Points       float64 `json:"points"`
	LookbackBars int     `json:"lookback_bars"`
}

// Config holds the parameters of one simulation run
type Config struct {
	RangeRequirement float64        `json:"range_requirement"`  // min session-open bar range to enter
	ProfitTarget     float64        `json:"profit_target"`      // price points
	MaxTradesPerDay  int            `json:"max_trades_per_day"` // 0 = unlimited
	PositionSize     float64        `json:"position_size"`      // notional dollars per trade
	InitialCapital   float64        `json:"initial_capital"`    // equity curve baseline
	ATRPeriod        int            `json:"atr_period"`
	Exit             ExitStrategy   `json:"exit"`
	Stop             StopConfig     `json:"stop"`
	TieBreak         TieBreak       `json:"tie_break"`
	Breakout         BreakoutConfig `json:"breakout"`
	Session          session.Config `json:"session"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		RangeRequirement: 2.0,
		ProfitTarget:     20.0,
		MaxTradesPerDay:  1,
		PositionSize:     10000,
		InitialCapital:   10000,
		ATRPeriod:        14,
		Exit: ExitStrategy{
			Mode: ExitDefault,
			Indicator: OscillatorExit{
				Period:     14,
				Overbought: 70,
				Oversold:   30,
			},
		},
		Stop: StopConfig{
			Placement:   StopEntryBar,
			ATRMultiple: 1.5,
		},
		TieBreak: StopFirst,
		Breakout: BreakoutConfig{
			Points:       1.0,
			LookbackBars: 3,
		},
		Session: session.USEquities(),
	}
}

// Validate checks the configuration before a run
func (c Config) Validate() error {
	if c.RangeRequirement < 0 {
		return fmt.Errorf("%w: range_requirement must be >= 0", ErrInvalidConfig)
	}
	if c.ProfitTarget <= 0 {
		return fmt.Errorf("%w: profit_target must be > 0", ErrInvalidConfig)
	}
	if c.MaxTradesPerDay < 0 {
		return fmt.Errorf("%w: max_trades_per_day must be >= 0", ErrInvalidConfig)
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("%w: position_size must be > 0", ErrInvalidConfig)
	}
	if c.ATRPeriod < 1 {
		return fmt.Errorf("%w: atr_period must be >= 1", ErrInvalidConfig)
	}
	if c.Exit.Indicator.Period < 1 {
		return fmt.Errorf("%w: indicator period must be >= 1", ErrInvalidConfig)
	}
	if c.Exit.Mode == ExitIndicator && c.Exit.Indicator.Oversold >= c.Exit.Indicator.Overbought {
		return fmt.Errorf("%w: oversold %.1f must be below overbought %.1f",
			ErrInvalidConfig, c.Exit.Indicator.Oversold, c.Exit.Indicator.Overbought)
	}
	switch c.Stop.Placement {
	case StopEntryBar:
	case StopATR:
		if c.Stop.ATRMultiple <= 0 {
			return fmt.Errorf("%w: atr_multiple must be > 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown stop placement %q", ErrInvalidConfig, c.Stop.Placement)
	}
	switch c.TieBreak {
	case StopFirst, TargetFirst:
	default:
		return fmt.Errorf("%w: unknown tie break %q", ErrInvalidConfig, c.TieBreak)
	}
	if c.MaxTradesPerDay != 1 {
		if c.Breakout.LookbackBars < 1 {
			return fmt.Errorf("%w: breakout lookback_bars must be >= 1", ErrInvalidConfig)
		}
		if c.Breakout.Points < 0 {
			return fmt.Errorf("%w: breakout points must be >= 0", ErrInvalidConfig)
		}
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// secondaryEnabled reports whether breakout entries may follow the primary trade
func (c Config) secondaryEnabled() bool {
	return c.MaxTradesPerDay != 1
}

// capReached reports whether the per-day trade cap is hit
func (c Config) capReached(tradesToday int) bool {
	return c.MaxTradesPerDay > 0 && tradesToday >= c.MaxTradesPerDay
}
