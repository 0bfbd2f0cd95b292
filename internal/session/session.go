package session

import (
	"fmt"
	"time"

	"openrange/pkg/model"
)

// Clock is a time of day expressed in minutes after midnight
type Clock int

// NewClock builds a clock value from hour and minute
func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock parses "HH:MM"
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

// ClockOf returns the minute-of-day of a session-local timestamp
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

// Hour returns the hour component
func (c Clock) Hour() int { return int(c) / 60 }

// Minute returns the minute component
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// MarshalText implements encoding.TextMarshaler
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Clock) UnmarshalText(text []byte) error {
	parsed, err := ParseClock(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// FallbackPolicy decides what happens when a run contains no in-session bars
type FallbackPolicy string

const (
	// FallbackNone leaves the run without session bars (it produces no trades)
	FallbackNone FallbackPolicy = "none"
	// FallbackAllBars treats every bar as in-session for that run
	FallbackAllBars FallbackPolicy = "all-bars"
)

// Config describes the trading session
type Config struct {
	Open     Clock          `json:"open"`
	Close    Clock          `json:"close"`
	ForceAll bool           `json:"force_all"` // diagnostic bypass: every bar is in-session
	Fallback FallbackPolicy `json:"fallback"`
}

// USEquities returns the regular US equity session (09:30 - 16:00)
func USEquities() Config {
	return Config{
		Open:     NewClock(9, 30),
		Close:    NewClock(16, 0),
		Fallback: FallbackNone,
	}
}

// Validate checks the session bounds
func (c Config) Validate() error {
	if c.Open < 0 || c.Close > NewClock(24, 0) {
		return fmt.Errorf("session bounds out of range: %s-%s", c.Open, c.Close)
	}
	if c.Close <= c.Open {
		return fmt.Errorf("session close %s must be after open %s", c.Close, c.Open)
	}
	switch c.Fallback {
	case "", FallbackNone, FallbackAllBars:
	default:
		return fmt.Errorf("unknown session fallback policy: %s", c.Fallback)
	}
	return nil
}

// Classifier decides session membership of session-local timestamps
type Classifier struct {
	config Config
}

// NewClassifier creates a classifier for the given session
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{config: cfg}
}

// Config returns the classifier's session config
func (c *Classifier) Config() Config {
	return c.config
}

// InSession reports whether t falls within [open, close) at minute granularity
func (c *Classifier) InSession(t time.Time) bool {
	if c.config.ForceAll {
		return true
	}
	clock := ClockOf(t)
	return clock >= c.config.Open && clock < c.config.Close
}

// IsOpenBar reports whether t is exactly the session open (hh:mm:00)
func (c *Classifier) IsOpenBar(t time.Time) bool {
	return t.Second() == 0 && t.Nanosecond() == 0 && ClockOf(t) == c.config.Open
}

// FindOpenBar returns the bar stamped exactly at the session open, in any input order.
// It never falls back to the nearest or first in-session bar.
func (c *Classifier) FindOpenBar(dayBars []model.Bar) (model.Bar, bool) {
	for _, b := range dayBars {
		if c.IsOpenBar(b.Time) {
			return b, true
		}
	}
	return model.Bar{}, false
}

// Annotate sets InSession and IsSessionOpen on every bar and returns whether
// the fallback policy had to treat all bars as in-session.
func (c *Classifier) Annotate(bars []model.Bar) (fallback bool) {
	found := 0
	for i := range bars {
		bars[i].InSession = c.InSession(bars[i].Time)
		bars[i].IsSessionOpen = c.IsOpenBar(bars[i].Time)
		if bars[i].InSession {
			found++
		}
	}

	if found > 0 || len(bars) == 0 || c.config.Fallback != FallbackAllBars {
		return false
	}

	for i := range bars {
		bars[i].InSession = true
	}
	return true
}
