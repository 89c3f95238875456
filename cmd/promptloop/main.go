// promptloop is the adaptive prompt and token-budget service: it arbitrates
// the daily token quota, assembles versioned system prompts, manages the
// section version lifecycle, and distills learning memory from feedback
// signals.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"promptloop/internal/budget"
	"promptloop/internal/config"
	"promptloop/internal/distill"
	"promptloop/internal/logging"
	"promptloop/internal/prompt"
	"promptloop/internal/store"
)

var (
	// Global flags
	verbose    bool
	dataDir    string
	configPath string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "promptloop",
	Short: "promptloop - adaptive prompt assembly and token budget service",
	Long: `promptloop runs the feedback-learning loop behind an AI review product:

  - a daily token ledger that arbitrates quota between user traffic and
    background learning work
  - versioned prompt sections with atomic activation and full audit trail
  - data-driven calibration corrections from paired evaluation scores
  - a distiller that compresses feedback signals into bounded learning memory`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(dataDir); err != nil {
			logger.Warn("Category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// app bundles the wired components each command needs.
type app struct {
	cfg       *config.Config
	store     *store.LocalStore
	bus       *store.BusStore
	allocator *budget.Allocator
	assembler *prompt.Assembler
	lifecycle *prompt.Lifecycle
	distiller *distill.Distiller
}

// openApp loads config and opens the stores. Callers must Close.
func openApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath(dataDir)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	s, err := store.NewLocalStore(resolvePath(cfg.Storage.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bus, err := store.NewBusStore(resolvePath(cfg.Storage.BusPath))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open bus: %w", err)
	}

	return &app{
		cfg:       cfg,
		store:     s,
		bus:       bus,
		allocator: budget.NewAllocator(s, &cfg.Budget),
		assembler: prompt.NewAssembler(s, &cfg.Prompt),
		lifecycle: prompt.NewLifecycle(s),
		distiller: distill.NewDistiller(bus, s, &cfg.Distill),
	}, nil
}

// Close releases both stores.
func (a *app) Close() {
	a.bus.Close()
	a.store.Close()
}

// resolvePath anchors relative storage paths at the data directory.
func resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".", "Workspace directory holding .promptloop/")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default <data-dir>/.promptloop/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(sectionsCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(distillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
