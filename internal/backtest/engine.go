package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"openrange/internal/barstore"
	"openrange/internal/indicator"
	"openrange/internal/session"
	"openrange/pkg/model"
)

var (
	// ErrMalformedBar is returned when a bar that failed ingestion checks reaches the engine
	ErrMalformedBar = errors.New("malformed bar")
	// ErrUnorderedBars is returned when bars are not in chronological order
	ErrUnorderedBars = errors.New("bars out of chronological order")
)

// DaySummary counts how each trading day of a run was handled
type DaySummary struct {
	Total       int `json:"total"`
	Traded      int `json:"traded"`
	NoOpenBar   int `json:"no_open_bar"`
	NarrowRange int `json:"narrow_range"`
	NoPrevClose int `json:"no_prev_close"`
	Unchanged   int `json:"unchanged"` // open bar closed exactly at the previous close
}

// Result contains the complete output of one run
type Result struct {
	Config          Config                `json:"config"`
	From            time.Time             `json:"from"`
	To              time.Time             `json:"to"`
	SessionFallback bool                  `json:"session_fallback"`
	Days            DaySummary            `json:"days"`
	Trades          []model.Trade         `json:"trades"`
	Monthly         []model.MonthlyBucket `json:"monthly"`
	Stats           Stats                 `json:"stats"`
	Bars            []model.Bar           `json:"bars,omitempty"` // annotated copy of the input
	MonteCarlo      *MonteCarloResult     `json:"monte_carlo,omitempty"`
}

// Backtester runs the session-open strategy over a bar sequence
type Backtester struct {
	config     Config
	classifier *session.Classifier
	logger     *zap.Logger
}

// New creates a backtester. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		config:     cfg,
		classifier: session.NewClassifier(cfg.Session),
		logger:     logger,
	}, nil
}

// runContext is the working state owned by exactly one Run call
type runContext struct {
	config  Config
	logger  *zap.Logger
	trades  []model.Trade
	perDay  map[string]int
	monthly map[model.MonthKey]*model.MonthlyBucket
}

// Run simulates the strategy over bars, which must be chronological and well formed.
// The input slice is not modified; the annotated copy is returned in Result.Bars.
func (b *Backtester) Run(ctx context.Context, bars []model.Bar) (*Result, error) {
	work := make([]model.Bar, len(bars))
	copy(work, bars)

	for i := range work {
		if reason := barstore.Validate(work[i]); reason != "" {
			return nil, fmt.Errorf("%w at index %d: %s", ErrMalformedBar, i, reason)
		}
		if i > 0 && work[i].Time.Before(work[i-1].Time) {
			return nil, fmt.Errorf("%w at index %d", ErrUnorderedBars, i)
		}
		work[i].Day = work[i].DayKey()
	}

	fallback := b.classifier.Annotate(work)
	if fallback {
		b.logger.Warn("no in-session bars, treating every bar as in-session",
			zap.Int("bars", len(work)))
	}
	indicator.Annotate(work, b.config.ATRPeriod, b.config.Exit.Indicator.Period)

	rc := &runContext{
		config:  b.config,
		logger:  b.logger,
		perDay:  make(map[string]int),
		monthly: make(map[model.MonthKey]*model.MonthlyBucket),
	}

	result := &Result{
		Config:          b.config,
		SessionFallback: fallback,
		Bars:            work,
	}
	if len(work) > 0 {
		result.From = work[0].Time
		result.To = work[len(work)-1].Time
	}

	for _, day := range barstore.GroupDays(work) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Days.Total++
		before := len(rc.trades)
		rc.processDay(b.classifier, day, &result.Days)
		if len(rc.trades) > before {
			result.Days.Traded++
		}
	}

	result.Trades = rc.trades
	if result.Trades == nil {
		result.Trades = []model.Trade{}
	}
	result.Monthly = rc.monthlyBuckets()
	result.Stats = Summarize(result.Trades, b.config, work)

	b.logger.Debug("backtest finished",
		zap.Int("days", result.Days.Total),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("pnl", result.Stats.TotalPnL))

	return result, nil
}

// processDay runs the primary entry and any breakout entries for one day
func (rc *runContext) processDay(classifier *session.Classifier, day barstore.TradingDay, summary *DaySummary) {
	bars := day.Session
	primaryExit := -1

	open, ok := classifier.FindOpenBar(day.Bars)
	openIdx := indexOf(bars, open)
	switch {
	case !ok || openIdx < 0:
		summary.NoOpenBar++
	case open.Range() < rc.config.RangeRequirement:
		summary.NarrowRange++
	case !day.HasPrevClose:
		summary.NoPrevClose++
	case open.Close == day.PrevClose:
		summary.Unchanged++
	case rc.config.capReached(rc.perDay[day.Key]):
	default:
		dir := model.Long
		if open.Close < day.PrevClose {
			dir = model.Short
		}
		primaryExit = rc.primaryTrade(bars, openIdx, dir, day.PrevClose)
	}

	// without a previous close the day is skipped for every entry
	if !day.HasPrevClose {
		return
	}
	if rc.config.secondaryEnabled() {
		rc.scanBreakouts(bars, primaryExit)
	}
}

func indexOf(bars []model.Bar, target model.Bar) int {
	for i := range bars {
		if bars[i].Time.Equal(target.Time) {
			return i
		}
	}
	return -1
}

// open builds the entry side of a trade
func (rc *runContext) open(bar model.Bar, dir model.Direction, reference float64, primary bool) model.Trade {
	entry := bar.Close
	return model.Trade{
		EntryTime:      bar.Time,
		Direction:      dir,
		EntryPrice:     entry,
		TargetPrice:    entry + dir.Sign()*rc.config.ProfitTarget,
		ReferenceClose: reference,
		PositionSize:   rc.config.PositionSize,
		Shares:         rc.config.PositionSize / entry,
		Primary:        primary,
	}
}

// close records the exit, computes P&L and updates the month's running total
func (rc *runContext) close(t model.Trade, at time.Time, price float64, reason model.ExitReason) {
	t.ExitTime = at
	t.ExitPrice = price
	t.ExitReason = reason
	t.PnL = PnL(t.Direction, t.EntryPrice, price, t.PositionSize)

	key := model.MonthOf(t.EntryTime)
	bucket, ok := rc.monthly[key]
	if !ok {
		bucket = &model.MonthlyBucket{MonthKey: key}
		rc.monthly[key] = bucket
	}
	bucket.Add(t)
	t.MonthlyPnL = bucket.PnL

	rc.trades = append(rc.trades, t)
	rc.perDay[t.EntryDay()]++

	rc.logger.Debug("trade closed",
		zap.Time("entry", t.EntryTime),
		zap.String("direction", string(t.Direction)),
		zap.Bool("primary", t.Primary),
		zap.Float64("entry_price", t.EntryPrice),
		zap.Float64("exit_price", t.ExitPrice),
		zap.String("reason", string(t.ExitReason)),
		zap.Float64("pnl", t.PnL))
}

func (rc *runContext) monthlyBuckets() []model.MonthlyBucket {
	out := make([]model.MonthlyBucket, 0, len(rc.monthly))
	for _, b := range rc.monthly {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MonthKey.Before(out[j].MonthKey)
	})
	return out
}

// PnL returns the notional-sized profit of a trade: the position buys
// positionSize/entry (fractional) shares, mirrored for shorts.
func PnL(dir model.Direction, entry, exit, positionSize float64) float64 {
	if entry == 0 {
		return 0
	}
	return dir.Sign() * (exit - entry) * (positionSize / entry)
}
