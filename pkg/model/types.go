package model

import (
	"fmt"
	"time"
)

// DayLayout is the calendar key format used to group bars by trading day
const DayLayout = "2006-01-02"

// Bar represents a single OHLCV sample plus the fields derived for one run
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`

	// Derived
	Day           string  `json:"day"`
	InSession     bool    `json:"in_session"`
	IsSessionOpen bool    `json:"is_session_open"`
	TrueRange     float64 `json:"true_range"`
	ATR           float64 `json:"atr"`
	Oscillator    float64 `json:"oscillator"`
}

// Range returns high minus low
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// DayKey returns the calendar day key of the bar's session-local timestamp
func (b Bar) DayKey() string {
	return b.Time.Format(DayLayout)
}

// Direction is the side of a position
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// ExitReason is the closed set of reasons a trade can close for
type ExitReason string

const (
	ExitStopLoss         ExitReason = "Stop Loss"
	ExitProfitTarget     ExitReason = "Profit Target"
	ExitMarketClose      ExitReason = "Market Close"
	ExitEndOfDay         ExitReason = "End of Day"
	ExitPrevBarsLowStop  ExitReason = "Stop Loss - Previous Bars Low"
	ExitPrevBarsHighStop ExitReason = "Stop Loss - Previous Bars High"
	ExitBreakPrevBarHigh ExitReason = "Break Previous Bar High"
	ExitBreakPrevBarLow  ExitReason = "Break Previous Bar Low"
	ExitOscillatorHigh   ExitReason = "RSI Overbought"
	ExitOscillatorLow    ExitReason = "RSI Oversold"
)

// ExitReasons lists every reason in report order
var ExitReasons = []ExitReason{
	ExitStopLoss,
	ExitProfitTarget,
	ExitMarketClose,
	ExitEndOfDay,
	ExitPrevBarsLowStop,
	ExitPrevBarsHighStop,
	ExitBreakPrevBarHigh,
	ExitBreakPrevBarLow,
	ExitOscillatorHigh,
	ExitOscillatorLow,
}

// Valid reports whether r belongs to the closed reason set
func (r ExitReason) Valid() bool {
	for _, known := range ExitReasons {
		if r == known {
			return true
		}
	}
	return false
}

// Trade represents a single completed trade
type Trade struct {
	EntryTime      time.Time  `json:"entry_time"`
	ExitTime       time.Time  `json:"exit_time"`
	Direction      Direction  `json:"direction"`
	EntryPrice     float64    `json:"entry_price"`
	ExitPrice      float64    `json:"exit_price"`
	StopPrice      float64    `json:"stop_price,omitempty"`
	TargetPrice    float64    `json:"target_price"`
	ReferenceClose float64    `json:"reference_close"` // prev-day close (primary) or prev-bar close (breakout)
	PositionSize   float64    `json:"position_size"`
	Shares         float64    `json:"shares"` // PositionSize / EntryPrice, fractional
	PnL            float64    `json:"pnl"`
	ExitReason     ExitReason `json:"exit_reason"`
	Primary        bool       `json:"primary"`
	MonthlyPnL     float64    `json:"monthly_pnl"` // running month total right after this trade closed
}

// IsWin reports whether the trade made money
func (t Trade) IsWin() bool {
	return t.PnL > 0
}

// IsLoss reports whether the trade lost money
func (t Trade) IsLoss() bool {
	return t.PnL < 0
}

// EntryDay returns the calendar key of the entry timestamp
func (t Trade) EntryDay() string {
	return t.EntryTime.Format(DayLayout)
}

// MonthKey identifies a calendar month
type MonthKey struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// MonthOf returns the month key for a timestamp
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Before orders month keys chronologically
func (k MonthKey) Before(other MonthKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// MonthlyBucket accumulates trade results for one calendar month
type MonthlyBucket struct {
	MonthKey
	PnL    float64 `json:"pnl"`
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
}

// Add folds a closed trade into the bucket
func (m *MonthlyBucket) Add(t Trade) {
	m.PnL += t.PnL
	m.Trades++
	if t.IsWin() {
		m.Wins++
	} else if t.IsLoss() {
		m.Losses++
	}
}
