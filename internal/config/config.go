package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // session zones must resolve on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"

	"openrange/internal/backtest"
	"openrange/internal/session"
)

// Environment overrides
const (
	EnvDataFile   = "OPENRANGE_DATA_FILE"
	EnvSQLitePath = "OPENRANGE_SQLITE_PATH"
	EnvLogLevel   = "OPENRANGE_LOG_LEVEL"
)

// Config represents the application configuration
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Session  SessionConfig  `yaml:"session"`
	Strategy StrategyConfig `yaml:"strategy"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

// DataConfig describes the bar file
type DataConfig struct {
	File       string `yaml:"file"`
	Timezone   string `yaml:"timezone"`    // session-local zone the timestamps are in
	TimeLayout string `yaml:"time_layout"` // Go layout of the datetime column
}

// SessionConfig holds the trading session window
type SessionConfig struct {
	Open     string `yaml:"open"`  // HH:MM
	Close    string `yaml:"close"` // HH:MM
	ForceAll bool   `yaml:"force_all"`
	Fallback string `yaml:"fallback"` // none | all-bars
}

// IndicatorConfig holds oscillator exit settings
type IndicatorConfig struct {
	Period     int     `yaml:"period"`
	Overbought float64 `yaml:"overbought"`
	Oversold   float64 `yaml:"oversold"`
}

// StrategyConfig holds the simulation parameters
type StrategyConfig struct {
	RangeRequirement float64         `yaml:"range_requirement"`
	ProfitTarget     float64         `yaml:"profit_target"`
	MaxTradesPerDay  int             `yaml:"max_trades_per_day"` // 0 = unlimited
	PositionSize     float64         `yaml:"position_size"`
	InitialCapital   float64         `yaml:"initial_capital"`
	ATRPeriod        int             `yaml:"atr_period"`
	ExitStrategy     string          `yaml:"exit_strategy"` // default | indicator
	Indicator        IndicatorConfig `yaml:"indicator"`
	StopPlacement    string          `yaml:"stop_placement"` // entry-bar | atr
	ATRMultiple      float64         `yaml:"atr_multiple"`
	TieBreak         string          `yaml:"tie_break"` // stop-first | target-first
	BreakoutPoints   float64         `yaml:"breakout_points"`
	LookbackBars     int             `yaml:"lookback_bars"`
}

// SweepConfig holds parallel sweep settings
type SweepConfig struct {
	Workers           int           `yaml:"workers"`
	Timeout           time.Duration `yaml:"timeout"`
	RangeRequirements []float64     `yaml:"range_requirements"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute per client
	Burst     int    `yaml:"burst"`
}

// StoreConfig holds the run archive settings
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"` // empty disables archiving
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	bt := backtest.DefaultConfig()
	return &Config{
		Data: DataConfig{
			File:       os.Getenv(EnvDataFile),
			Timezone:   "America/New_York",
			TimeLayout: "2006-01-02 15:04:05",
		},
		Session: SessionConfig{
			Open:     bt.Session.Open.String(),
			Close:    bt.Session.Close.String(),
			Fallback: string(session.FallbackNone),
		},
		Strategy: StrategyConfig{
			RangeRequirement: bt.RangeRequirement,
			ProfitTarget:     bt.ProfitTarget,
			MaxTradesPerDay:  bt.MaxTradesPerDay,
			PositionSize:     bt.PositionSize,
			InitialCapital:   bt.InitialCapital,
			ATRPeriod:        bt.ATRPeriod,
			ExitStrategy:     bt.Exit.Mode.String(),
			Indicator: IndicatorConfig{
				Period:     bt.Exit.Indicator.Period,
				Overbought: bt.Exit.Indicator.Overbought,
				Oversold:   bt.Exit.Indicator.Oversold,
			},
			StopPlacement:  string(bt.Stop.Placement),
			ATRMultiple:    bt.Stop.ATRMultiple,
			TieBreak:       string(bt.TieBreak),
			BreakoutPoints: bt.Breakout.Points,
			LookbackBars:   bt.Breakout.LookbackBars,
		},
		Sweep: SweepConfig{
			Workers:           4,
			Timeout:           5 * time.Minute,
			RangeRequirements: []float64{1, 2, 3, 4},
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 60,
			Burst:     10,
		},
		Store: StoreConfig{
			SQLitePath: os.Getenv(EnvSQLitePath),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Use defaults if file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Override with environment variables if set
	if v := os.Getenv(EnvDataFile); v != "" {
		cfg.Data.File = v
	}
	if v := os.Getenv(EnvSQLitePath); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Location returns the session-local time zone of the bar data
func (c *Config) Location() (*time.Location, error) {
	if c.Data.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Data.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Data.Timezone, err)
	}
	return loc, nil
}

// BacktestConfig converts the strategy and session sections into an engine config
func (c *Config) BacktestConfig() (backtest.Config, error) {
	open, err := session.ParseClock(c.Session.Open)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("session open: %w", err)
	}
	closeAt, err := session.ParseClock(c.Session.Close)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("session close: %w", err)
	}
	mode, err := backtest.ParseExitMode(c.Strategy.ExitStrategy)
	if err != nil {
		return backtest.Config{}, err
	}

	s := c.Strategy
	cfg := backtest.Config{
		RangeRequirement: s.RangeRequirement,
		ProfitTarget:     s.ProfitTarget,
		MaxTradesPerDay:  s.MaxTradesPerDay,
		PositionSize:     s.PositionSize,
		InitialCapital:   s.InitialCapital,
		ATRPeriod:        s.ATRPeriod,
		Exit: backtest.ExitStrategy{
			Mode: mode,
			Indicator: backtest.OscillatorExit{
				Period:     s.Indicator.Period,
				Overbought: s.Indicator.Overbought,
				Oversold:   s.Indicator.Oversold,
			},
		},
		Stop: backtest.StopConfig{
			Placement:   backtest.StopPlacement(s.StopPlacement),
			ATRMultiple: s.ATRMultiple,
		},
		TieBreak: backtest.TieBreak(s.TieBreak),
		Breakout: backtest.BreakoutConfig{
			Points:       s.BreakoutPoints,
			LookbackBars: s.LookbackBars,
		},
		Session: session.Config{
			Open:     open,
			Close:    closeAt,
			ForceAll: c.Session.ForceAll,
			Fallback: session.FallbackPolicy(c.Session.Fallback),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.BacktestConfig(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Sweep.Workers < 1 {
		return fmt.Errorf("sweep workers must be at least 1")
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("server rate_limit must be at least 1")
	}
	if c.Server.Burst < 1 {
		return fmt.Errorf("server burst must be at least 1")
	}
	return nil
}
