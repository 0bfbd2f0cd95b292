package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"openrange/internal/barstore"
	"openrange/internal/config"
	"openrange/internal/loader"
	"openrange/internal/logging"
	"openrange/internal/store"
)

var (
	cfgFile  string
	dataFile string
	logLevel string
	format   string
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "openrange",
		Short: "Intraday session-open range backtester",
		Long: `Openrange replays intraday bars and simulates a session-open range strategy:
the first bar at the session open sets direction against the previous close,
the trade exits on its stop, its profit target or the session close, and
optional breakout entries follow on the rest of the day.

Examples:
  openrange run --data spy_1h.csv --year 2024
  openrange sweep --data spy_1h.csv --ranges 1,2,3,4 --workers 8
  openrange serve --data spy_1h.csv --addr :8080
  openrange generate --from 2023-01-01 --to 2024-12-31 --out bars.csv`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&dataFile, "data", "", "bar CSV file (overrides data.file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "show detailed output")

	rootCmd.AddCommand(newRunCmd(), newSweepCmd(), newYearsCmd(), newServeCmd(), newGenerateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config, applies global flags and builds the logger
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("data") {
		cfg.Data.File = dataFile
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if verbose && !cmd.Flags().Changed("log-level") {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// errNoArchive is returned when a run must be archived but no SQLite path is configured
var errNoArchive = errors.New("no run archive configured. Set store.sqlite_path or " + config.EnvSQLitePath)

// loadBars reads the configured bar file into a store and reports rejected bars to notice
func loadBars(cfg *config.Config, logger *zap.Logger, notice io.Writer) (*barstore.Store, error) {
	if cfg.Data.File == "" {
		return nil, fmt.Errorf("no bar file given. Use --data, data.file or %s", config.EnvDataFile)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	opts := loader.Options{Location: loc}
	if cfg.Data.TimeLayout != "" {
		opts.Layouts = append([]string{cfg.Data.TimeLayout}, loader.DefaultLayouts...)
	}
	res, err := loader.New(opts, logger).LoadFile(cfg.Data.File)
	if err != nil {
		return nil, err
	}

	bars := barstore.New(res.Bars)
	for _, r := range bars.Rejected() {
		logger.Warn("bar rejected",
			zap.Int("index", r.Index),
			zap.Time("time", r.Time),
			zap.String("reason", r.Reason))
	}
	if n := len(bars.Rejected()); n > 0 {
		fmt.Fprintf(notice, "%d malformed bars were rejected\n", n)
	}
	if bars.Len() == 0 {
		return nil, fmt.Errorf("no valid bars in %s", cfg.Data.File)
	}
	return bars, nil
}

// openRecorder opens the run archive, or a no-op recorder when none is configured
func openRecorder(cfg *config.Config, logger *zap.Logger) (store.Recorder, error) {
	if cfg.Store.SQLitePath == "" {
		return store.NewNoopRecorder(), nil
	}
	return store.NewSQLiteRecorder(cfg.Store.SQLitePath, logger)
}

// openArchive opens the SQLite run archive and fails when none is configured
func openArchive(cfg *config.Config, logger *zap.Logger) (store.Recorder, error) {
	if cfg.Store.SQLitePath == "" {
		return nil, errNoArchive
	}
	return store.NewSQLiteRecorder(cfg.Store.SQLitePath, logger)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\n"+msg)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}
