package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"openrange/internal/backtest"
	"openrange/internal/report"
	"openrange/internal/store"
	"openrange/pkg/model"
)

type runFlags struct {
	year         int
	from         string
	to           string
	rangeReq     float64
	target       float64
	maxTrades    int
	position     float64
	exit         string
	stop         string
	tieBreak     string
	forceAll     bool
	tradeLimit   int
	save         bool
	label        string
	exportTrades string
	monteCarlo   int
	seed         int64
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest over the bar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, f)
		},
	}

	cmd.Flags().IntVar(&f.year, "year", 0, "restrict to one calendar year")
	cmd.Flags().StringVar(&f.from, "from", "", "first day, YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&f.to, "to", "", "last day, YYYY-MM-DD (exclusive)")
	cmd.Flags().Float64Var(&f.rangeReq, "range", 0, "minimum session-open bar range in points")
	cmd.Flags().Float64Var(&f.target, "target", 0, "profit target in points")
	cmd.Flags().IntVar(&f.maxTrades, "max-trades", 0, "max trades per day (0 = unlimited)")
	cmd.Flags().Float64Var(&f.position, "position", 0, "notional position size in dollars")
	cmd.Flags().StringVar(&f.exit, "exit", "", "exit strategy: default, indicator")
	cmd.Flags().StringVar(&f.stop, "stop", "", "stop placement: entry-bar, atr")
	cmd.Flags().StringVar(&f.tieBreak, "tie-break", "", "same-bar stop/target order: stop-first, target-first")
	cmd.Flags().BoolVar(&f.forceAll, "all-bars", false, "treat every bar as in-session")
	cmd.Flags().IntVar(&f.tradeLimit, "trades", 20, "number of trades to list (0 = all)")
	cmd.Flags().BoolVar(&f.save, "save", false, "archive the run in the SQLite store")
	cmd.Flags().StringVar(&f.label, "label", "", "label for the archived run")
	cmd.Flags().StringVar(&f.exportTrades, "export", "", "write trades to this CSV file")
	cmd.Flags().IntVar(&f.monteCarlo, "monte-carlo", 0, "reshuffle trade order this many times (0 = off)")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "random seed for --monte-carlo")
	return cmd
}

func runBacktest(cmd *cobra.Command, f *runFlags) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Override config with CLI flags
	flags := cmd.Flags()
	if flags.Changed("range") {
		cfg.Strategy.RangeRequirement = f.rangeReq
	}
	if flags.Changed("target") {
		cfg.Strategy.ProfitTarget = f.target
	}
	if flags.Changed("max-trades") {
		cfg.Strategy.MaxTradesPerDay = f.maxTrades
	}
	if flags.Changed("position") {
		cfg.Strategy.PositionSize = f.position
	}
	if flags.Changed("exit") {
		cfg.Strategy.ExitStrategy = f.exit
	}
	if flags.Changed("stop") {
		cfg.Strategy.StopPlacement = f.stop
	}
	if flags.Changed("tie-break") {
		cfg.Strategy.TieBreak = f.tieBreak
	}
	if flags.Changed("all-bars") {
		cfg.Session.ForceAll = f.forceAll
	}

	btCfg, err := cfg.BacktestConfig()
	if err != nil {
		return err
	}
	bt, err := backtest.New(btCfg, logger)
	if err != nil {
		return err
	}

	// fail before the run when the result cannot be archived
	var rec store.Recorder
	if f.save {
		rec, err = openArchive(cfg, logger)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	bars, err := loadBars(cfg, logger, os.Stderr)
	if err != nil {
		return err
	}

	var selected []model.Bar
	switch {
	case f.from != "" || f.to != "":
		if f.from == "" || f.to == "" {
			return fmt.Errorf("--from and --to must be given together")
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		from, err := parseDate(f.from, loc)
		if err != nil {
			return err
		}
		to, err := parseDate(f.to, loc)
		if err != nil {
			return err
		}
		selected = bars.Between(from, to)
	case f.year != 0:
		selected = bars.Year(f.year)
	default:
		selected = bars.Bars()
	}
	if len(selected) == 0 {
		return fmt.Errorf("no bars in the selected period")
	}

	ctx, cancel := signalContext("Interrupted. Stopping backtest...")
	defer cancel()

	result, err := bt.Run(ctx, selected)
	if err != nil {
		return fmt.Errorf("running backtest: %w", err)
	}
	result.Bars = nil
	if f.monteCarlo > 0 {
		result.MonteCarlo = backtest.RunMonteCarlo(result.Trades, btCfg.InitialCapital, f.monteCarlo, f.seed)
	}

	if rec != nil {
		id, err := rec.SaveRun(ctx, f.label, result)
		if err != nil {
			return fmt.Errorf("archiving run: %w", err)
		}
		logger.Info("run archived", zap.String("id", id), zap.String("label", f.label))
	}

	if f.exportTrades != "" {
		if err := exportTrades(f.exportTrades, result.Trades); err != nil {
			return err
		}
	}

	if format == "json" {
		return report.JSON(os.Stdout, result)
	}
	return outputResult(result, f.tradeLimit)
}

func outputResult(result *backtest.Result, tradeLimit int) error {
	if err := report.Summary(os.Stdout, result); err != nil {
		return err
	}
	if len(result.Trades) == 0 {
		return nil
	}

	fmt.Println("\nExit reasons:")
	if err := report.ExitReasons(os.Stdout, result.Stats); err != nil {
		return err
	}
	fmt.Println("\nMonthly:")
	if err := report.Monthly(os.Stdout, result.Monthly); err != nil {
		return err
	}
	if result.MonteCarlo != nil {
		fmt.Println("\nMonte Carlo:")
		if err := report.MonteCarlo(os.Stdout, result.MonteCarlo); err != nil {
			return err
		}
	}
	fmt.Println("\nTrades:")
	return report.Trades(os.Stdout, result.Trades, tradeLimit)
}

func exportTrades(path string, trades []model.Trade) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer out.Close()

	if err := report.TradesCSV(out, trades); err != nil {
		return fmt.Errorf("writing trades: %w", err)
	}
	return out.Close()
}
