package store

import (
	"context"
	"errors"
	"time"

	"openrange/internal/backtest"
	"openrange/pkg/model"
)

// ErrRunNotFound is returned when a run ID is not in the archive
var ErrRunNotFound = errors.New("run not found")

// RunSummary is the archived headline of one run
type RunSummary struct {
	ID              string          `json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	Label           string          `json:"label"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Config          backtest.Config `json:"config"`
	SessionFallback bool            `json:"session_fallback"`
	TotalTrades     int             `json:"total_trades"`
	WinRate         float64         `json:"win_rate"`
	TotalPnL        float64         `json:"total_pnl"`
	ProfitFactor    backtest.Ratio  `json:"profit_factor"`
	MaxDrawdown     float64         `json:"max_drawdown"`
}

// Run is an archived run with its full output
type Run struct {
	RunSummary
	Days    backtest.DaySummary   `json:"days"`
	Stats   backtest.Stats        `json:"stats"`
	Trades  []model.Trade         `json:"trades"`
	Monthly []model.MonthlyBucket `json:"monthly"`
}

// Recorder archives finished run outputs. Nothing stored here is ever fed
// back into a simulation.
type Recorder interface {
	SaveRun(ctx context.Context, label string, r *backtest.Result) (string, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}
