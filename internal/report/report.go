package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"openrange/internal/backtest"
	"openrange/internal/sweep"
	"openrange/pkg/model"
)

// Money formats a currency amount rounded to cents
func Money(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// Price formats a price rounded to cents
func Price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Pct formats a percentage
func Pct(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

// Summary renders the headline statistics of a run
func Summary(w io.Writer, r *backtest.Result) error {
	s := r.Stats
	if s.NoTrades {
		fmt.Fprintf(w, "No trades between %s and %s (%d days, %d without an open bar, %d below range requirement)\n",
			day(r.From), day(r.To), r.Days.Total, r.Days.NoOpenBar, r.Days.NarrowRange)
		return nil
	}

	fmt.Fprintf(w, "Backtest %s to %s: %d trades over %d days\n", day(r.From), day(r.To), s.TotalTrades, r.Days.Total)
	if r.SessionFallback {
		fmt.Fprintln(w, "Warning: no bars fell inside the session; every bar was treated as in-session")
	}

	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Metric", "Value"}),
	)
	rows := [][]string{
		{"Total P&L", Money(s.TotalPnL)},
		{"Win rate", Pct(s.WinRate)},
		{"Wins / Losses", fmt.Sprintf("%d / %d", s.WinningTrades, s.LosingTrades)},
		{"Long / Short", fmt.Sprintf("%d / %d", s.LongTrades, s.ShortTrades)},
		{"Primary / Breakout", fmt.Sprintf("%d / %d", s.PrimaryTrades, s.SecondaryTrades)},
		{"Profit factor", s.ProfitFactor.String()},
		{"Avg win / loss", Money(s.AvgWin) + " / " + Money(s.AvgLoss)},
		{"Largest win / loss", Money(s.LargestWin) + " / " + Money(s.LargestLoss)},
		{"Expectancy", Money(s.Expectancy)},
		{"Max drawdown", fmt.Sprintf("%s (%s)", Money(s.MaxDrawdown), Pct(s.MaxDrawdownPct))},
		{"ROI on notional", Pct(s.ROI)},
		{"Strategy return", Pct(s.StrategyReturnPct)},
		{"Buy & hold return", Pct(s.BuyHoldReturnPct)},
		{"Max win / loss streak", fmt.Sprintf("%d / %d", s.MaxWinStreak, s.MaxLoseStreak)},
	}
	for _, row := range rows {
		table.Append(row)
	}
	return table.Render()
}

// MonteCarlo renders the reshuffled-sequence distribution
func MonteCarlo(w io.Writer, mc *backtest.MonteCarloResult) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Metric", "Value"}),
	)
	table.Append([]string{"Simulations", fmt.Sprintf("%d", mc.Simulations)})
	table.Append([]string{"Return 5% / 50% / 95%", Pct(mc.WorstCase) + " / " + Pct(mc.MedianReturn) + " / " + Pct(mc.BestCase)})
	table.Append([]string{"Max drawdown median / 95%", Money(mc.MedianDrawdown) + " / " + Money(mc.WorstDrawdown)})
	table.Append([]string{"Ruin probability", Pct(mc.RuinProbability)})
	return table.Render()
}

// ExitReasons renders how many trades closed for each reason
func ExitReasons(w io.Writer, s backtest.Stats) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Exit Reason", "Trades"}),
	)
	for _, reason := range model.ExitReasons {
		if n := s.ExitReasons[reason]; n > 0 {
			table.Append([]string{string(reason), fmt.Sprintf("%d", n)})
		}
	}
	return table.Render()
}

// Monthly renders the monthly breakdown
func Monthly(w io.Writer, buckets []model.MonthlyBucket) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Month", "Trades", "Wins", "Losses", "P&L"}),
	)
	for _, b := range buckets {
		table.Append([]string{
			b.MonthKey.String(),
			fmt.Sprintf("%d", b.Trades),
			fmt.Sprintf("%d", b.Wins),
			fmt.Sprintf("%d", b.Losses),
			Money(b.PnL),
		})
	}
	return table.Render()
}

// Trades renders the trade list. limit <= 0 shows every trade.
func Trades(w io.Writer, trades []model.Trade, limit int) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Entry", "Exit", "Side", "Type", "Entry Px", "Exit Px", "Reason", "P&L", "Month"}),
	)

	shown := trades
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, t := range shown {
		kind := "open"
		if !t.Primary {
			kind = "breakout"
		}
		table.Append([]string{
			t.EntryTime.Format("2006-01-02 15:04"),
			t.ExitTime.Format("15:04"),
			string(t.Direction),
			kind,
			Price(t.EntryPrice),
			Price(t.ExitPrice),
			string(t.ExitReason),
			Money(t.PnL),
			Money(t.MonthlyPnL),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}
	if len(shown) < len(trades) {
		fmt.Fprintf(w, "... %d more trades\n", len(trades)-len(shown))
	}
	return nil
}

// Sweep renders one row per sweep outcome
func Sweep(w io.Writer, r *sweep.Report) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Year", "Range", "Trades", "Win Rate", "P&L", "Profit Factor", "Max DD"}),
	)
	for _, o := range r.Outcomes {
		if o.Result == nil {
			table.Append([]string{fmt.Sprintf("%d", o.Year), Price(o.RangeRequirement), "error", o.Error, "", "", ""})
			continue
		}
		s := o.Result.Stats
		table.Append([]string{
			fmt.Sprintf("%d", o.Year),
			Price(o.RangeRequirement),
			fmt.Sprintf("%d", s.TotalTrades),
			Pct(s.WinRate),
			Money(s.TotalPnL),
			s.ProfitFactor.String(),
			Money(s.MaxDrawdown),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d runs (%d failed) in %s\n", r.Total, r.Failed, r.Elapsed.Round(time.Millisecond))
	return nil
}

// JSON writes v as indented JSON
func JSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// TradesCSV writes the trade list as CSV
func TradesCSV(w io.Writer, trades []model.Trade) error {
	writer := csv.NewWriter(w)

	header := []string{
		"EntryTime",
		"ExitTime",
		"Direction",
		"Primary",
		"EntryPrice",
		"ExitPrice",
		"StopPrice",
		"TargetPrice",
		"Reason",
		"PnL",
		"MonthlyPnL",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range trades {
		record := []string{
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			string(t.Direction),
			fmt.Sprintf("%t", t.Primary),
			Price(t.EntryPrice),
			Price(t.ExitPrice),
			Price(t.StopPrice),
			Price(t.TargetPrice),
			string(t.ExitReason),
			Price(t.PnL),
			Price(t.MonthlyPnL),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
