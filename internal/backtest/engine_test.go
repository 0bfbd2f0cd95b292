package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"openrange/pkg/model"
)

func mkBar(t *testing.T, stamp string, o, h, l, c float64) model.Bar {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", stamp, time.UTC)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", stamp, err)
	}
	return model.Bar{Time: ts, Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func runBars(t *testing.T, cfg Config, bars []model.Bar) *Result {
	t.Helper()
	bt, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := bt.Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// profitTargetDay is a previous day closing at 98 and a day whose 09:30 bar
// (range 3, close 100) goes long and reaches 120 on the 09:40 bar.
func profitTargetDay(t *testing.T) []model.Bar {
	return []model.Bar{
		mkBar(t, "2024-01-02 15:59", 98, 99, 97, 98),
		mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
		mkBar(t, "2024-01-03 09:35", 100, 105, 99, 104),
		mkBar(t, "2024-01-03 09:40", 104, 121, 103, 119),
		mkBar(t, "2024-01-03 09:45", 119, 119, 117, 118),
	}
}

func TestRunProfitTargetEndToEnd(t *testing.T) {
	result := runBars(t, DefaultConfig(), profitTargetDay(t))

	if len(result.Trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(result.Trades))
	}
	tr := result.Trades[0]
	if tr.Direction != model.Long {
		t.Errorf("Expected long, got %s", tr.Direction)
	}
	if tr.EntryPrice != 100 {
		t.Errorf("Expected entry 100, got %.2f", tr.EntryPrice)
	}
	if tr.ExitReason != model.ExitProfitTarget {
		t.Errorf("Expected %q, got %q", model.ExitProfitTarget, tr.ExitReason)
	}
	if tr.ExitPrice != 120 {
		t.Errorf("Expected exit at target 120, got %.2f", tr.ExitPrice)
	}
	if tr.ExitTime.Format("15:04") != "09:40" {
		t.Errorf("Expected exit at 09:40, got %s", tr.ExitTime.Format("15:04"))
	}
	if !almostEqual(tr.PnL, 2000) {
		t.Errorf("Expected pnl 2000, got %.4f", tr.PnL)
	}
	if !tr.Primary {
		t.Error("Expected primary trade")
	}
	if tr.StopPrice != 98 {
		t.Errorf("Expected stop at open bar low 98, got %.2f", tr.StopPrice)
	}
	if tr.ReferenceClose != 98 {
		t.Errorf("Expected reference close 98, got %.2f", tr.ReferenceClose)
	}
	if !almostEqual(tr.MonthlyPnL, 2000) {
		t.Errorf("Expected monthly snapshot 2000, got %.2f", tr.MonthlyPnL)
	}
	if result.Days.Total != 2 || result.Days.Traded != 1 || result.Days.NoPrevClose != 0 {
		t.Errorf("Unexpected day summary: %+v", result.Days)
	}
	if result.Stats.NoTrades {
		t.Error("Expected NoTrades to be false")
	}
}

func TestRunPrimaryExits(t *testing.T) {
	prev := func(t *testing.T, close float64) model.Bar {
		return mkBar(t, "2024-01-02 15:59", close, close+1, close-1, close)
	}

	tests := []struct {
		name      string
		configure func(*Config)
		bars      func(t *testing.T) []model.Bar
		dir       model.Direction
		reason    model.ExitReason
		exit      float64
		exitClock string
	}{
		{
			name: "long stop at entry bar low",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 100.5, 97.5, 99),
				}
			},
			dir: model.Long, reason: model.ExitStopLoss, exit: 98, exitClock: "09:35",
		},
		{
			name: "short target",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 102),
					mkBar(t, "2024-01-03 09:30", 101, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 100.5, 79, 81),
				}
			},
			dir: model.Short, reason: model.ExitProfitTarget, exit: 80, exitClock: "09:35",
		},
		{
			name: "stop wins tie by default",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 121, 97, 110),
				}
			},
			dir: model.Long, reason: model.ExitStopLoss, exit: 98, exitClock: "09:35",
		},
		{
			name:      "target wins tie when configured",
			configure: func(c *Config) { c.TieBreak = TargetFirst },
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 121, 97, 110),
				}
			},
			dir: model.Long, reason: model.ExitProfitTarget, exit: 120, exitClock: "09:35",
		},
		{
			name: "market close on last session bar",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 12:00", 100, 103, 99, 102),
					mkBar(t, "2024-01-03 15:55", 102, 104, 101, 103),
					mkBar(t, "2024-01-03 16:00", 103, 125, 90, 95),
				}
			},
			dir: model.Long, reason: model.ExitMarketClose, exit: 103, exitClock: "15:55",
		},
		{
			name: "end of day without later bars",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
				}
			},
			dir: model.Long, reason: model.ExitEndOfDay, exit: 100, exitClock: "09:30",
		},
		{
			name: "atr stop placement",
			configure: func(c *Config) {
				c.Stop = StopConfig{Placement: StopATR, ATRMultiple: 1}
			},
			bars: func(t *testing.T) []model.Bar {
				// TR 2 then 3, so ATR at the open bar is 2.5 and the stop sits at 97.5
				return []model.Bar{
					mkBar(t, "2024-01-02 15:59", 98, 99, 97, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 100.5, 97.8, 99),
					mkBar(t, "2024-01-03 09:40", 99, 99.5, 97.4, 98),
				}
			},
			dir: model.Long, reason: model.ExitStopLoss, exit: 97.5, exitClock: "09:40",
		},
		{
			name: "oscillator overbought exit",
			configure: func(c *Config) {
				c.Exit = ExitStrategy{Mode: ExitIndicator, Indicator: OscillatorExit{Period: 2, Overbought: 70, Oversold: 30}}
			},
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 101.5, 99.5, 101),
				}
			},
			dir: model.Long, reason: model.ExitOscillatorHigh, exit: 101, exitClock: "09:35",
		},
		{
			name: "oscillator oversold exit",
			configure: func(c *Config) {
				c.Exit = ExitStrategy{Mode: ExitIndicator, Indicator: OscillatorExit{Period: 2, Overbought: 70, Oversold: 30}}
			},
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					prev(t, 102),
					mkBar(t, "2024-01-03 09:30", 101, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 100.5, 98.5, 99),
				}
			},
			dir: model.Short, reason: model.ExitOscillatorLow, exit: 99, exitClock: "09:35",
		},
		{
			name: "indicator mode has no stop",
			configure: func(c *Config) {
				c.Exit = ExitStrategy{Mode: ExitIndicator, Indicator: OscillatorExit{Period: 2, Overbought: 70, Oversold: 30}}
			},
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					mkBar(t, "2024-01-02 15:58", 101, 101.5, 100.5, 101),
					prev(t, 98),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 100, 97, 97.5),
					mkBar(t, "2024-01-03 09:40", 97.5, 98, 97.4, 97.8),
				}
			},
			dir: model.Long, reason: model.ExitMarketClose, exit: 97.8, exitClock: "09:40",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.configure != nil {
				tt.configure(&cfg)
			}
			result := runBars(t, cfg, tt.bars(t))

			if len(result.Trades) != 1 {
				t.Fatalf("Expected 1 trade, got %d", len(result.Trades))
			}
			tr := result.Trades[0]
			if tr.Direction != tt.dir {
				t.Errorf("Expected %s, got %s", tt.dir, tr.Direction)
			}
			if tr.ExitReason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, tr.ExitReason)
			}
			if !almostEqual(tr.ExitPrice, tt.exit) {
				t.Errorf("Expected exit %.2f, got %.2f", tt.exit, tr.ExitPrice)
			}
			if got := tr.ExitTime.Format("15:04"); got != tt.exitClock {
				t.Errorf("Expected exit at %s, got %s", tt.exitClock, got)
			}
			want := PnL(tt.dir, tr.EntryPrice, tt.exit, cfg.PositionSize)
			if !almostEqual(tr.PnL, want) {
				t.Errorf("Expected pnl %.4f, got %.4f", want, tr.PnL)
			}
		})
	}
}

func TestRunSkippedDays(t *testing.T) {
	tests := []struct {
		name  string
		bars  func(t *testing.T) []model.Bar
		check func(DaySummary) bool
	}{
		{
			name: "range below requirement",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					mkBar(t, "2024-01-02 15:59", 98, 99, 97, 98),
					mkBar(t, "2024-01-03 09:30", 99, 100.5, 99, 100),
					mkBar(t, "2024-01-03 09:35", 100, 125, 99, 124),
				}
			},
			check: func(d DaySummary) bool { return d.NarrowRange == 1 },
		},
		{
			name: "range below requirement going short",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					mkBar(t, "2024-01-02 15:59", 102, 103, 101, 102),
					mkBar(t, "2024-01-03 09:30", 101, 101, 99.5, 100),
				}
			},
			check: func(d DaySummary) bool { return d.NarrowRange == 1 },
		},
		{
			name: "no bar exactly at the open",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					mkBar(t, "2024-01-02 15:59", 98, 99, 97, 98),
					mkBar(t, "2024-01-03 09:31", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 125, 99, 124),
				}
			},
			check: func(d DaySummary) bool { return d.NoOpenBar == 2 && d.Total == 2 },
		},
		{
			name: "first day has no previous close",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 125, 99, 124),
				}
			},
			check: func(d DaySummary) bool { return d.NoPrevClose == 1 },
		},
		{
			name: "open bar closes at the previous close",
			bars: func(t *testing.T) []model.Bar {
				return []model.Bar{
					mkBar(t, "2024-01-02 15:59", 100, 101, 99, 100),
					mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
					mkBar(t, "2024-01-03 09:35", 100, 125, 99, 124),
				}
			},
			check: func(d DaySummary) bool { return d.Unchanged == 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := runBars(t, DefaultConfig(), tt.bars(t))
			if len(result.Trades) != 0 {
				t.Errorf("Expected no trades, got %d", len(result.Trades))
			}
			if !result.Stats.NoTrades {
				t.Error("Expected NoTrades")
			}
			if !tt.check(result.Days) {
				t.Errorf("Unexpected day summary: %+v", result.Days)
			}
		})
	}
}

// breakoutSession opens unchanged from the previous close, so only
// breakout entries can trade.
func breakoutSession(t *testing.T) []model.Bar {
	return []model.Bar{
		mkBar(t, "2024-01-02 15:59", 100, 100.5, 99.5, 100),
		mkBar(t, "2024-01-03 09:30", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:31", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:32", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:33", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:34", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:35", 101, 103, 100, 102.5), // long breakout above 102
		mkBar(t, "2024-01-03 09:36", 102.5, 103.5, 101.5, 103),
		mkBar(t, "2024-01-03 09:37", 103, 104, 102, 103.5),
		mkBar(t, "2024-01-03 09:38", 103.5, 104, 101, 101.5), // below both previous lows
		mkBar(t, "2024-01-03 09:39", 101.5, 104.5, 101, 102),
		mkBar(t, "2024-01-03 09:40", 101, 101, 99.5, 99.8), // short breakout below 100
		mkBar(t, "2024-01-03 09:41", 99.8, 100, 99, 99.5),
	}
}

func TestRunBreakoutEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 0

	result := runBars(t, cfg, breakoutSession(t))
	if len(result.Trades) != 2 {
		t.Fatalf("Expected 2 breakout trades, got %d", len(result.Trades))
	}

	first := result.Trades[0]
	if first.Primary || first.Direction != model.Long {
		t.Errorf("Expected secondary long, got primary=%v %s", first.Primary, first.Direction)
	}
	if first.EntryPrice != 102.5 || first.ReferenceClose != 100 {
		t.Errorf("Expected entry 102.5 ref 100, got %.2f ref %.2f", first.EntryPrice, first.ReferenceClose)
	}
	if first.ExitReason != model.ExitPrevBarsLowStop || first.ExitPrice != 101.5 {
		t.Errorf("Expected %q at 101.5, got %q at %.2f", model.ExitPrevBarsLowStop, first.ExitReason, first.ExitPrice)
	}

	second := result.Trades[1]
	if second.Direction != model.Short || second.EntryPrice != 99.8 {
		t.Errorf("Expected short at 99.8, got %s at %.2f", second.Direction, second.EntryPrice)
	}
	if second.ExitReason != model.ExitMarketClose || second.ExitPrice != 99.5 {
		t.Errorf("Expected %q at 99.5, got %q at %.2f", model.ExitMarketClose, second.ExitReason, second.ExitPrice)
	}
	if !almostEqual(second.PnL, (99.8-99.5)*(10000/99.8)) {
		t.Errorf("Unexpected short pnl %.6f", second.PnL)
	}
	if result.Stats.SecondaryTrades != 2 || result.Stats.PrimaryTrades != 0 {
		t.Errorf("Expected 2 secondary trades, got %+v", result.Stats)
	}
}

func TestRunBreakoutReversalExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 0

	bars := breakoutSession(t)
	bars[9] = mkBar(t, "2024-01-03 09:38", 103.5, 104, 101.8, 101.9) // under 09:37 low only

	result := runBars(t, cfg, bars)
	if len(result.Trades) == 0 {
		t.Fatal("Expected breakout trades")
	}
	if got := result.Trades[0].ExitReason; got != model.ExitBreakPrevBarLow {
		t.Errorf("Expected %q, got %q", model.ExitBreakPrevBarLow, got)
	}
	if got := result.Trades[0].ExitPrice; got != 101.9 {
		t.Errorf("Expected exit at close 101.9, got %.2f", got)
	}
}

func TestRunNoPreviousCloseSkipsBreakouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 0

	// same session without the prior day
	result := runBars(t, cfg, breakoutSession(t)[1:])
	if len(result.Trades) != 0 {
		t.Errorf("Expected no entries on a day without a previous close, got %d", len(result.Trades))
	}
	if result.Days.NoPrevClose != 1 || result.Days.Traded != 0 {
		t.Errorf("Unexpected day summary: %+v", result.Days)
	}
}

// shortBreakoutSession opens unchanged, breaks down at 09:35 and lets the
// caller choose the 09:38 bar.
func shortBreakoutSession(t *testing.T, last model.Bar) []model.Bar {
	return []model.Bar{
		mkBar(t, "2024-01-02 15:59", 100, 100.5, 99.5, 100),
		mkBar(t, "2024-01-03 09:30", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:31", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:32", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:33", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:34", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 09:35", 99, 100, 97, 97.5), // short breakout below 98
		mkBar(t, "2024-01-03 09:36", 97.5, 98.5, 96.5, 97),
		mkBar(t, "2024-01-03 09:37", 97, 98, 96, 96.5),
		last,
	}
}

func TestRunShortBreakoutExits(t *testing.T) {
	tests := []struct {
		name   string
		last   func(t *testing.T) model.Bar
		reason model.ExitReason
		exit   float64
	}{
		{
			name: "stop above both previous highs",
			last: func(t *testing.T) model.Bar {
				return mkBar(t, "2024-01-03 09:38", 96.5, 99, 96.4, 98.2)
			},
			reason: model.ExitPrevBarsHighStop,
			exit:   98.2,
		},
		{
			name: "reversal above the previous high only",
			last: func(t *testing.T) model.Bar {
				return mkBar(t, "2024-01-03 09:38", 96.5, 98.2, 96.4, 97.85)
			},
			reason: model.ExitBreakPrevBarHigh,
			exit:   97.85,
		},
		{
			name: "market close when neither triggers",
			last: func(t *testing.T) model.Bar {
				return mkBar(t, "2024-01-03 09:38", 96.5, 97.5, 95.5, 96)
			},
			reason: model.ExitMarketClose,
			exit:   96,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxTradesPerDay = 0

			result := runBars(t, cfg, shortBreakoutSession(t, tt.last(t)))
			if len(result.Trades) != 1 {
				t.Fatalf("Expected 1 trade, got %d", len(result.Trades))
			}
			tr := result.Trades[0]
			if tr.Primary || tr.Direction != model.Short || tr.EntryPrice != 97.5 {
				t.Errorf("Expected secondary short at 97.5, got primary=%v %s at %.2f", tr.Primary, tr.Direction, tr.EntryPrice)
			}
			if tr.ReferenceClose != 100 {
				t.Errorf("Expected reference close 100, got %.2f", tr.ReferenceClose)
			}
			if tr.ExitReason != tt.reason || !almostEqual(tr.ExitPrice, tt.exit) {
				t.Errorf("Expected %q at %.2f, got %q at %.2f", tt.reason, tt.exit, tr.ExitReason, tr.ExitPrice)
			}
			if got := tr.ExitTime.Format("15:04"); got != "09:38" {
				t.Errorf("Expected exit at 09:38, got %s", got)
			}
			if !almostEqual(tr.PnL, PnL(model.Short, 97.5, tt.exit, cfg.PositionSize)) {
				t.Errorf("Unexpected pnl %.4f", tr.PnL)
			}
		})
	}
}

func TestRunExitReasonsInClosedSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 0

	fixtures := map[string][]model.Bar{
		"profit target":  profitTargetDay(t),
		"breakouts":      breakoutSession(t),
		"capped":         cappedSession(t),
		"short breakout": shortBreakoutSession(t, mkBar(t, "2024-01-03 09:38", 96.5, 99, 96.4, 98.2)),
	}
	for name, bars := range fixtures {
		result := runBars(t, cfg, bars)
		if len(result.Trades) == 0 {
			t.Errorf("%s: Expected trades", name)
		}
		for i, tr := range result.Trades {
			if !tr.ExitReason.Valid() {
				t.Errorf("%s trade %d: exit reason %q is not in the closed set", name, i, tr.ExitReason)
			}
		}
	}
}

func TestRunSingleTradeCapDisablesBreakouts(t *testing.T) {
	result := runBars(t, DefaultConfig(), breakoutSession(t))
	if len(result.Trades) != 0 {
		t.Errorf("Expected no trades with a cap of 1, got %d", len(result.Trades))
	}
}

// cappedSession stops out the primary trade on its second bar and then
// offers two breakout entries.
func cappedSession(t *testing.T) []model.Bar {
	return []model.Bar{
		mkBar(t, "2024-01-02 15:59", 98, 99, 97, 98),
		mkBar(t, "2024-01-03 09:30", 99, 101, 98, 100),
		mkBar(t, "2024-01-03 09:31", 100, 100.5, 97.9, 98.5),
		mkBar(t, "2024-01-03 09:32", 98.5, 99, 98, 98.5),
		mkBar(t, "2024-01-03 09:33", 98.5, 99, 98, 98.5),
		mkBar(t, "2024-01-03 09:34", 98.5, 99, 98, 98.5),
		mkBar(t, "2024-01-03 09:35", 99, 101, 98.5, 100.5),
		mkBar(t, "2024-01-03 09:36", 100.5, 101, 100, 100.8),
		mkBar(t, "2024-01-03 09:37", 100.8, 101, 100.2, 100.9),
		mkBar(t, "2024-01-03 09:38", 100.9, 101, 99, 99.2),
		mkBar(t, "2024-01-03 09:39", 99.2, 105, 99, 104),
	}
}

func TestRunBreakoutRespectsCap(t *testing.T) {
	tests := []struct {
		cap  int
		want []model.ExitReason
	}{
		{2, []model.ExitReason{model.ExitStopLoss, model.ExitPrevBarsLowStop}},
		{0, []model.ExitReason{model.ExitStopLoss, model.ExitPrevBarsLowStop, model.ExitEndOfDay}},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.MaxTradesPerDay = tt.cap

		result := runBars(t, cfg, cappedSession(t))
		if len(result.Trades) != len(tt.want) {
			t.Fatalf("cap %d: Expected %d trades, got %d", tt.cap, len(tt.want), len(result.Trades))
		}
		if !result.Trades[0].Primary || result.Trades[0].ExitPrice != 98 {
			t.Errorf("cap %d: Expected primary stop at 98 first, got %+v", tt.cap, result.Trades[0])
		}
		for i, reason := range tt.want {
			if result.Trades[i].ExitReason != reason {
				t.Errorf("cap %d trade %d: Expected %q, got %q", tt.cap, i, reason, result.Trades[i].ExitReason)
			}
		}
	}
}

func TestRunMonthlySnapshot(t *testing.T) {
	rc := &runContext{
		config:  DefaultConfig(),
		logger:  nopLogger(),
		perDay:  make(map[string]int),
		monthly: make(map[model.MonthKey]*model.MonthlyBucket),
	}

	at := func(s string) time.Time {
		ts, _ := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
		return ts
	}
	legs := []struct {
		entry string
		exit  float64
	}{
		{"2024-01-05 09:30", 110},
		{"2024-01-10 09:30", 96},
		{"2024-02-01 09:30", 101},
		{"2024-01-31 09:30", 102},
	}
	for _, leg := range legs {
		tr := model.Trade{
			EntryTime:    at(leg.entry),
			Direction:    model.Long,
			EntryPrice:   100,
			PositionSize: 10000,
		}
		rc.close(tr, tr.EntryTime.Add(time.Hour), leg.exit, model.ExitMarketClose)
	}

	for n, tr := range rc.trades {
		var want float64
		for _, earlier := range rc.trades[:n+1] {
			if model.MonthOf(earlier.EntryTime) == model.MonthOf(tr.EntryTime) {
				want += earlier.PnL
			}
		}
		if !almostEqual(tr.MonthlyPnL, want) {
			t.Errorf("trade %d: Expected monthly snapshot %.2f, got %.2f", n, want, tr.MonthlyPnL)
		}
	}

	buckets := rc.monthlyBuckets()
	if len(buckets) != 2 {
		t.Fatalf("Expected 2 monthly buckets, got %d", len(buckets))
	}
	jan := buckets[0]
	if jan.Month != time.January || jan.Trades != 3 || jan.Wins != 2 || jan.Losses != 1 {
		t.Errorf("Unexpected January bucket: %+v", jan)
	}
	if !almostEqual(jan.PnL, 1000-400+200) {
		t.Errorf("Expected January pnl 800, got %.2f", jan.PnL)
	}
	// The later January trade does not rewrite the earlier snapshot
	if !almostEqual(rc.trades[1].MonthlyPnL, 600) {
		t.Errorf("Expected second snapshot 600, got %.2f", rc.trades[1].MonthlyPnL)
	}
}

func TestRunDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 0
	bars := append(profitTargetDay(t), breakoutSession(t)...)
	// second session is a later day
	for i := len(profitTargetDay(t)); i < len(bars); i++ {
		bars[i].Time = bars[i].Time.AddDate(0, 0, 1)
	}

	first := runBars(t, cfg, bars)
	second := runBars(t, cfg, bars)

	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical results for identical input")
	}
	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("Expected byte-identical JSON output")
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	bars := profitTargetDay(t)
	runBars(t, DefaultConfig(), bars)

	for i, b := range bars {
		if b.InSession || b.ATR != 0 || b.Day != "" {
			t.Errorf("bar %d was annotated in place: %+v", i, b)
		}
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	bt, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	malformed := profitTargetDay(t)
	malformed[2].High = math.NaN()
	if _, err := bt.Run(context.Background(), malformed); !errors.Is(err, ErrMalformedBar) {
		t.Errorf("Expected ErrMalformedBar, got %v", err)
	}

	unordered := profitTargetDay(t)
	unordered[1], unordered[2] = unordered[2], unordered[1]
	if _, err := bt.Run(context.Background(), unordered); !errors.Is(err, ErrUnorderedBars) {
		t.Errorf("Expected ErrUnorderedBars, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bt.Run(ctx, profitTargetDay(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRunEmptyInput(t *testing.T) {
	result := runBars(t, DefaultConfig(), nil)
	if !result.Stats.NoTrades || len(result.Trades) != 0 {
		t.Errorf("Expected an explicit no-trades result, got %+v", result.Stats)
	}
	if result.Stats.ProfitFactor != 0 {
		t.Errorf("Expected profit factor 0, got %v", result.Stats.ProfitFactor)
	}
}

func TestRunSessionFallback(t *testing.T) {
	cfg := DefaultConfig()
	bars := []model.Bar{
		mkBar(t, "2024-01-03 18:00", 100, 101, 99, 100),
		mkBar(t, "2024-01-03 18:05", 100, 101, 99, 100),
	}

	result := runBars(t, cfg, bars)
	if result.SessionFallback {
		t.Error("Expected no fallback with policy none")
	}

	cfg.Session.Fallback = "all-bars"
	result = runBars(t, cfg, bars)
	if !result.SessionFallback {
		t.Fatal("Expected fallback with policy all-bars")
	}
	for i, b := range result.Bars {
		if !b.InSession {
			t.Errorf("bar %d: Expected in-session after fallback", i)
		}
	}
}

func TestPnL(t *testing.T) {
	tests := []struct {
		name  string
		dir   model.Direction
		entry float64
		exit  float64
		want  float64
	}{
		{"long target", model.Long, 100, 120, 2000},
		{"long loss", model.Long, 100, 98, -200},
		{"short target", model.Short, 100, 80, 2000},
		{"short loss", model.Short, 100, 101, -100},
		{"flat", model.Long, 100, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PnL(tt.dir, tt.entry, tt.exit, 10000); !almostEqual(got, tt.want) {
				t.Errorf("Expected %.2f, got %.2f", tt.want, got)
			}
		})
	}
}
