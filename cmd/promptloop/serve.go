package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"promptloop/internal/config"
	"promptloop/internal/sched"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background scheduler until interrupted",
	Long: `Opens the stores, seeds baseline prompt sections on first run, starts the
cron scheduler (daily budget reset, learning memory distillation), and watches
the config file, applying logging changes live. Blocks until SIGINT or
SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.lifecycle.SeedBaseline(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	scheduler := sched.NewScheduler(&a.cfg.Sched, a.allocator, a.distiller)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	watcher, err := config.NewWatcher(config.DefaultConfigPath(dataDir), func(_ *config.Config) {
		logger.Info("Configuration reloaded; logging settings applied, other sections take effect on restart")
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watcher failed to start", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	logger.Info("promptloop serving",
		zap.String("data_dir", dataDir),
		zap.String("reset_spec", a.cfg.Sched.ResetSpec),
		zap.String("distill_spec", a.cfg.Sched.DistillSpec))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return nil
}
