package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThaysonScript/software-aging-v2/config"
	"github.com/ThaysonScript/software-aging-v2/internal/monitor"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/agingmon/config.yaml"

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, monitor.Options{})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the config file")
	return cmd
}

// run starts the monitor and blocks until ctx is cancelled. Activity
// failures are logged as they arrive; they never stop the remaining
// activities.
func run(ctx context.Context, cfg *config.Config, opts monitor.Options) error {
	m, err := monitor.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return err
	}

	errs := m.Errors()
	for {
		select {
		case <-ctx.Done():
			return m.Stop()
		case err, ok := <-errs:
			if !ok {
				// Every activity ended on its own.
				werr := m.Wait()
				_ = m.Stop()
				if werr != nil {
					return fmt.Errorf("all activities ended: %w", werr)
				}
				return nil
			}
			var aerr *monitor.ActivityError
			if errors.As(err, &aerr) {
				slog.Warn("Activity stopped, others keep running.", "activity", aerr.Activity)
			}
		}
	}
}
