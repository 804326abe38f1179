package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scheduled-trader/internal/eod"
	"scheduled-trader/internal/journal"
	"scheduled-trader/internal/logger"
	"scheduled-trader/internal/scheduler"
	"scheduled-trader/internal/state"
	"scheduled-trader/internal/trace"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "trader",
		Short:         "Scheduled strategy evaluation and order execution",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeSystem()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = trace.Shutdown(ctx)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config")

	root.AddCommand(
		newRunCmd(&configPath),
		newOnceCmd(&configPath),
		newStateCmd(&configPath),
		newJournalCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run ticks on the configured schedule until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			if err := a.checkConnection(ctx); err != nil {
				return err
			}

			if addr := a.cfg.Metrics.ListenAddr; addr != "" {
				go func() {
					logger.Info(ctx, "Serving metrics", "addr", addr)
					if err := a.metrics.Serve(ctx, addr); err != nil {
						logger.ErrorWithErr(ctx, "Metrics listener failed", err, "addr", addr)
					}
				}()
			}

			if a.cfg.Journal.SummaryAt != "" {
				go eod.Watch(ctx, a.eod, time.Minute)
			}

			sched := scheduler.New(a.engine, scheduler.Options{
				Interval:      a.cfg.Schedule.Interval,
				RunOnStart:    a.cfg.RunOnStart(),
				ShutdownGrace: a.cfg.Schedule.ShutdownGrace,
				Metrics:       a.metrics,
			})
			err = sched.Run(ctx)

			logger.Info(context.WithoutCancel(ctx), "Shutting down...")
			a.summarizeToday(context.WithoutCancel(ctx))
			return err
		},
	}
}

func newOnceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single tick and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			if err := a.checkConnection(ctx); err != nil {
				return err
			}

			report, err := scheduler.New(a.engine, scheduler.Options{Metrics: a.metrics}).RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newStateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the last committed tick state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, *configPath)
			if err != nil {
				return err
			}
			st, err := state.Peek(ctx, cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newJournalCmd(configPath *string) *cobra.Command {
	jc := &cobra.Command{
		Use:   "journal",
		Short: "Order journal tools",
	}

	var date string
	summarize := &cobra.Command{
		Use:   "summarize",
		Short: "Write the CSV summary of one day's journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, *configPath)
			if err != nil {
				return err
			}

			day := time.Now()
			if date != "" {
				day, err = time.ParseInLocation("2006-01-02", date, time.Local)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}

			p, err := journal.Summarize(cfg.Journal.Dir, day)
			if err != nil {
				return err
			}
			if p == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "no journal entries for %s\n", day.Format("2006-01-02"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	summarize.Flags().StringVar(&date, "date", "", "day to summarize (YYYY-MM-DD, default today)")

	jc.AddCommand(summarize)
	return jc
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
