package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"openrange/internal/report"
	"openrange/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var (
		workers int
		ranges  []float64
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Backtest every year against a grid of range requirements in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cmd.Flags().Changed("workers") {
				cfg.Sweep.Workers = workers
			}
			if cmd.Flags().Changed("ranges") {
				cfg.Sweep.RangeRequirements = ranges
			}

			base, err := cfg.BacktestConfig()
			if err != nil {
				return err
			}
			bars, err := loadBars(cfg, logger, os.Stderr)
			if err != nil {
				return err
			}

			jobs := sweep.YearGrid(bars, base, cfg.Sweep.RangeRequirements)
			fmt.Fprintf(os.Stderr, "Running %d backtests on %d workers...\n\n", len(jobs), cfg.Sweep.Workers)

			ctx, cancel := signalContext("Interrupted. Stopping sweep...")
			defer cancel()

			s := sweep.New(cfg.Sweep.Workers, cfg.Sweep.Timeout, logger)

			// Setup progress bar
			bar := progressbar.NewOptions(len(jobs),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Backtesting"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]█[reset]",
					SaucerHead:    "[green]█[reset]",
					SaucerPadding: "░",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
			s.SetProgressCallback(func(done, total int) {
				bar.Set(done)
			})

			result, err := s.Run(ctx, jobs)
			bar.Finish()
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			if format == "json" {
				return report.JSON(os.Stdout, result)
			}
			return report.Sweep(os.Stdout, result)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "number of parallel workers")
	cmd.Flags().Float64SliceVar(&ranges, "ranges", nil, "comma-separated range requirements to test")
	return cmd
}
