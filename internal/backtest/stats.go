package backtest

import (
	"math"
	"strconv"
	"time"

	"openrange/pkg/model"
)

// Ratio is a float that may be +Inf. It encodes +Inf as the JSON string "Infinity".
type Ratio float64

// Infinite reports whether the ratio is unbounded
func (r Ratio) Infinite() bool {
	return math.IsInf(float64(r), 1)
}

func (r Ratio) String() string {
	if r.Infinite() {
		return "Infinity"
	}
	return strconv.FormatFloat(float64(r), 'f', 2, 64)
}

// MarshalJSON implements json.Marshaler
func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.Infinite() {
		return []byte(`"Infinity"`), nil
	}
	return strconv.AppendFloat(nil, float64(r), 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == `"Infinity"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*r = Ratio(v)
	return nil
}

// EquityPoint is the equity right after a trade closed
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Stats summarizes the closed trades of a run
type Stats struct {
	NoTrades        bool `json:"no_trades"`
	TotalTrades     int  `json:"total_trades"`
	WinningTrades   int  `json:"winning_trades"`
	LosingTrades    int  `json:"losing_trades"`
	LongTrades      int  `json:"long_trades"`
	ShortTrades     int  `json:"short_trades"`
	PrimaryTrades   int  `json:"primary_trades"`
	SecondaryTrades int  `json:"secondary_trades"`

	WinRate     float64 `json:"win_rate"`
	TotalPnL    float64 `json:"total_pnl"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"` // positive magnitude
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"` // positive magnitude
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"` // most negative trade

	// Risk metrics
	ProfitFactor    Ratio   `json:"profit_factor"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	Expectancy      float64 `json:"expectancy"` // expected $ per trade
	MaxDrawdown     float64 `json:"max_drawdown"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"` // of total notional invested
	SharpeRatio     float64 `json:"sharpe_ratio"`
	KellyOptimal    float64 `json:"kelly_optimal"`
	KellyHalf       float64 `json:"kelly_half"`

	// Returns
	TotalInvested     float64 `json:"total_invested"`
	ROI               float64 `json:"roi"` // % of total notional invested
	InitialCapital    float64 `json:"initial_capital"`
	FinalEquity       float64 `json:"final_equity"`
	StrategyReturnPct float64 `json:"strategy_return_pct"`
	BuyHoldReturnPct  float64 `json:"buy_hold_return_pct"`

	// Streaks
	MaxWinStreak  int `json:"max_win_streak"`
	MaxLoseStreak int `json:"max_lose_streak"`

	ExitReasons map[model.ExitReason]int `json:"exit_reasons"`
	EquityCurve []EquityPoint            `json:"equity_curve"`
}

// Summarize aggregates trades, which must be in close order, into run statistics.
// bars are the run's bars and only feed the buy-and-hold comparison.
func Summarize(trades []model.Trade, cfg Config, bars []model.Bar) Stats {
	s := Stats{
		NoTrades:       len(trades) == 0,
		TotalTrades:    len(trades),
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    cfg.InitialCapital,
		ExitReasons:    make(map[model.ExitReason]int),
		EquityCurve:    []EquityPoint{},
	}
	s.BuyHoldReturnPct = buyAndHold(bars)

	if s.NoTrades {
		return s
	}

	var winStreak, loseStreak int
	returns := make([]float64, 0, len(trades))
	equity := cfg.InitialCapital
	peak := equity

	for _, t := range trades {
		s.ExitReasons[t.ExitReason]++
		s.TotalInvested += t.PositionSize
		if t.PositionSize > 0 {
			returns = append(returns, t.PnL/t.PositionSize*100)
		}
		if t.Direction == model.Long {
			s.LongTrades++
		} else {
			s.ShortTrades++
		}
		if t.Primary {
			s.PrimaryTrades++
		} else {
			s.SecondaryTrades++
		}

		switch {
		case t.IsWin():
			s.WinningTrades++
			s.GrossProfit += t.PnL
			if t.PnL > s.LargestWin {
				s.LargestWin = t.PnL
			}
			winStreak++
			loseStreak = 0
			if winStreak > s.MaxWinStreak {
				s.MaxWinStreak = winStreak
			}
		case t.IsLoss():
			s.LosingTrades++
			s.GrossLoss += -t.PnL
			if t.PnL < s.LargestLoss {
				s.LargestLoss = t.PnL
			}
			loseStreak++
			winStreak = 0
			if loseStreak > s.MaxLoseStreak {
				s.MaxLoseStreak = loseStreak
			}
		default:
			winStreak, loseStreak = 0, 0
		}

		// Drawdown
		equity += t.PnL
		s.EquityCurve = append(s.EquityCurve, EquityPoint{Time: t.ExitTime, Equity: equity})
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}

	n := float64(s.TotalTrades)
	s.TotalPnL = s.GrossProfit - s.GrossLoss
	s.FinalEquity = equity
	s.WinRate = float64(s.WinningTrades) / n * 100
	s.ProfitFactor = profitFactor(s.GrossProfit, s.GrossLoss)
	s.Expectancy = s.TotalPnL / n

	if s.WinningTrades > 0 {
		s.AvgWin = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = s.GrossLoss / float64(s.LosingTrades)
	}
	if s.AvgLoss > 0 {
		s.RiskRewardRatio = s.AvgWin / s.AvgLoss

		// Kelly Criterion
		winProb := s.WinRate / 100
		b := s.RiskRewardRatio
		s.KellyOptimal = math.Max(0, (winProb*b-(1-winProb))/b)
		s.KellyHalf = s.KellyOptimal / 2
	}

	if s.TotalInvested > 0 {
		s.ROI = s.TotalPnL / s.TotalInvested * 100
		s.MaxDrawdownPct = s.MaxDrawdown / s.TotalInvested * 100
	}
	if cfg.InitialCapital > 0 {
		s.StrategyReturnPct = s.TotalPnL / cfg.InitialCapital * 100
	}

	// Sharpe ratio over per-trade returns, annualized
	if len(returns) > 1 {
		if sd := stdDev(returns); sd > 0 {
			s.SharpeRatio = average(returns) / sd * math.Sqrt(252)
		}
	}

	return s
}

// profitFactor is gross profit over gross loss: +Inf without losses, 0 without profit
func profitFactor(grossProfit, grossLoss float64) Ratio {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return Ratio(math.Inf(1))
		}
		return 0
	}
	return Ratio(grossProfit / grossLoss)
}

func buyAndHold(bars []model.Bar) float64 {
	if len(bars) < 2 || bars[0].Close == 0 {
		return 0
	}
	first, last := bars[0].Close, bars[len(bars)-1].Close
	return (last - first) / first * 100
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := average(values)
	var sumSq float64
	for _, v := range values {
		sumSq += (v - avg) * (v - avg)
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
