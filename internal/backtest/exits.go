package backtest

import (
	"math"

	"openrange/pkg/model"
)

// exitDecision is the outcome of checking one bar against an open position
type exitDecision struct {
	hit    bool
	price  float64
	reason model.ExitReason
}

func noExit() exitDecision { return exitDecision{} }

func exitAt(price float64, reason model.ExitReason) exitDecision {
	return exitDecision{hit: true, price: price, reason: reason}
}

// primaryStop returns the stop level for a session-open trade
func (c Config) primaryStop(open model.Bar, dir model.Direction) float64 {
	if c.Stop.Placement == StopATR {
		return open.Close - dir.Sign()*c.Stop.ATRMultiple*open.ATR
	}
	if dir == model.Long {
		return open.Low
	}
	return open.High
}

// oscillatorExit checks the indicator exit. It only fires in indicator mode.
func (e ExitStrategy) oscillatorExit(bar model.Bar, dir model.Direction) exitDecision {
	if e.Mode != ExitIndicator {
		return noExit()
	}
	if dir == model.Long && bar.Oscillator >= e.Indicator.Overbought {
		return exitAt(bar.Close, model.ExitOscillatorHigh)
	}
	if dir == model.Short && bar.Oscillator <= e.Indicator.Oversold {
		return exitAt(bar.Close, model.ExitOscillatorLow)
	}
	return noExit()
}

func targetHit(bar model.Bar, t model.Trade) bool {
	if t.Direction == model.Long {
		return bar.High >= t.TargetPrice
	}
	return bar.Low <= t.TargetPrice
}

// primaryExit evaluates one bar for a session-open trade:
// indicator exit, then stop and target ordered by the tie-break policy.
func (c Config) primaryExit(bar model.Bar, t model.Trade) exitDecision {
	if d := c.Exit.oscillatorExit(bar, t.Direction); d.hit {
		return d
	}

	stopped := false
	if c.Exit.Mode == ExitDefault {
		if t.Direction == model.Long {
			stopped = bar.Low <= t.StopPrice
		} else {
			stopped = bar.High >= t.StopPrice
		}
	}
	target := targetHit(bar, t)

	switch {
	case stopped && target && c.TieBreak == TargetFirst:
		return exitAt(t.TargetPrice, model.ExitProfitTarget)
	case stopped:
		return exitAt(t.StopPrice, model.ExitStopLoss)
	case target:
		return exitAt(t.TargetPrice, model.ExitProfitTarget)
	}
	return noExit()
}

// primaryTrade opens the session-open trade at bars[openIdx] and scans the
// rest of the session for its exit. It returns the index of the exit bar.
func (rc *runContext) primaryTrade(bars []model.Bar, openIdx int, dir model.Direction, prevClose float64) int {
	open := bars[openIdx]
	t := rc.open(open, dir, prevClose, true)
	if rc.config.Exit.Mode == ExitDefault {
		t.StopPrice = rc.config.primaryStop(open, dir)
	}

	last := len(bars) - 1
	if openIdx == last {
		rc.close(t, open.Time, open.Close, model.ExitEndOfDay)
		return openIdx
	}

	for j := openIdx + 1; j <= last; j++ {
		if d := rc.config.primaryExit(bars[j], t); d.hit {
			rc.close(t, bars[j].Time, d.price, d.reason)
			return j
		}
		if j == last {
			rc.close(t, bars[j].Time, bars[j].Close, model.ExitMarketClose)
		}
	}
	return last
}

// breakoutWarmup is the number of session bars skipped before breakout scanning
func (c Config) breakoutWarmup() int {
	if w := c.Breakout.LookbackBars + 2; w < 6 {
		return w
	}
	return 6
}

// breakout reports the direction of a breakout at bars[j] against the trailing
// lookback window. Short is checked first.
func (c Config) breakout(bars []model.Bar, j int) (model.Direction, bool) {
	from := j - c.Breakout.LookbackBars
	if from < 0 {
		from = 0
	}
	if from >= j {
		return "", false
	}

	minLow, maxHigh := math.Inf(1), math.Inf(-1)
	for _, b := range bars[from:j] {
		minLow = math.Min(minLow, b.Low)
		maxHigh = math.Max(maxHigh, b.High)
	}

	bar := bars[j]
	if bar.Low < minLow-c.Breakout.Points {
		return model.Short, true
	}
	if bar.High > maxHigh+c.Breakout.Points {
		return model.Long, true
	}
	return "", false
}

// scanBreakouts looks for breakout entries after the primary trade has closed.
// primaryExit is the session index of the primary exit bar, or -1.
func (rc *runContext) scanBreakouts(bars []model.Bar, primaryExit int) {
	j := rc.config.breakoutWarmup()
	if primaryExit+1 > j {
		j = primaryExit + 1
	}

	for j < len(bars) {
		if rc.config.capReached(rc.perDay[bars[j].Day]) {
			return
		}
		dir, ok := rc.config.breakout(bars, j)
		if !ok {
			j++
			continue
		}

		exitIdx := rc.breakoutTrade(bars, j, dir)
		next := j + 4
		if exitIdx+1 > next {
			next = exitIdx + 1
		}
		j = next
	}
}

// secondaryExit evaluates bars[k] for a breakout trade entered at bars[entryIdx].
// Stop and reversal checks need two scanned bars before k.
func (c Config) secondaryExit(bars []model.Bar, entryIdx, k int, t model.Trade) exitDecision {
	bar := bars[k]
	if k-entryIdx-1 >= 2 {
		prev, prev2 := bars[k-1], bars[k-2]
		if t.Direction == model.Long {
			if bar.Low < math.Min(prev.Low, prev2.Low) {
				return exitAt(bar.Close, model.ExitPrevBarsLowStop)
			}
			if bar.Low < prev.Low {
				return exitAt(bar.Close, model.ExitBreakPrevBarLow)
			}
		} else {
			if bar.High > math.Max(prev.High, prev2.High) {
				return exitAt(bar.Close, model.ExitPrevBarsHighStop)
			}
			if bar.High > prev.High {
				return exitAt(bar.Close, model.ExitBreakPrevBarHigh)
			}
		}
	}
	if targetHit(bar, t) {
		return exitAt(t.TargetPrice, model.ExitProfitTarget)
	}
	return noExit()
}

// breakoutTrade opens a breakout trade at bars[j] and returns the exit bar index
func (rc *runContext) breakoutTrade(bars []model.Bar, j int, dir model.Direction) int {
	t := rc.open(bars[j], dir, bars[j-1].Close, false)

	last := len(bars) - 1
	if j == last {
		rc.close(t, bars[j].Time, bars[j].Close, model.ExitEndOfDay)
		return j
	}

	for k := j + 1; k <= last; k++ {
		if d := rc.config.secondaryExit(bars, j, k, t); d.hit {
			rc.close(t, bars[k].Time, d.price, d.reason)
			return k
		}
		if k == last {
			rc.close(t, bars[k].Time, bars[k].Close, model.ExitMarketClose)
		}
	}
	return last
}
