package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"openrange/internal/web"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve backtests over an HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			base, err := cfg.BacktestConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			bars, err := loadBars(cfg, logger, os.Stderr)
			if err != nil {
				return err
			}
			rec, err := openRecorder(cfg, logger)
			if err != nil {
				return err
			}
			defer rec.Close()

			server := web.NewServer(bars, base, rec, web.Options{
				Addr:      cfg.Server.Addr,
				RateLimit: cfg.Server.RateLimit,
				Burst:     cfg.Server.Burst,
				Location:  loc,
			}, logger)

			// Handle graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				logger.Info("shutting down API server")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("shutdown failed", zap.Error(err))
				}
			}()

			fmt.Fprintf(os.Stderr, "API listening on %s\n", cfg.Server.Addr)
			return server.Start()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
