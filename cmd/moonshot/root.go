package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aiverify-foundation/moonshot-sub003/internal/benchmark"
	"github.com/aiverify-foundation/moonshot-sub003/internal/config"
	"github.com/aiverify-foundation/moonshot-sub003/internal/connector"
	"github.com/aiverify-foundation/moonshot-sub003/internal/metric"
	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/session"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
)

var (
	configFile string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "moonshot",
	Short: "Moonshot - LLM benchmarking and red-teaming harness",
	Long: `Moonshot evaluates large language model endpoints against recipe and
cookbook benchmarks and drives interactive or automated red-teaming
sessions, with resumable runs and per-runner result databases.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with SIGINT/SIGTERM wired to cooperative
// cancellation.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"path to a moonshot config file (defaults apply when absent)")
	rootCmd.AddCommand(runCmd, redteamCmd, listCmd, showCmd, versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}
	logger = newLogger(cfg)
	slog.SetDefault(logger)
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildEnv assembles the object store and the module registry with every
// builtin module registered and published for discovery.
func buildEnv() (*storage.ObjectStore, *registry.Registry, error) {
	store := storage.NewObjectStore(cfg)
	reg := registry.New(map[registry.Category]string{
		registry.CategoryConnector:        cfg.Dirs.Connectors,
		registry.CategoryMetric:           cfg.Dirs.Metrics,
		registry.CategoryContextStrategy:  cfg.Dirs.ContextStrategy,
		registry.CategoryAttackModule:     cfg.Dirs.AttackModules,
		registry.CategoryRunnerProcessing: cfg.Dirs.RunnersModules,
		registry.CategoryResultProcessing: cfg.Dirs.ResultsModules,
	})
	if err := connector.RegisterBuiltins(reg); err != nil {
		return nil, nil, err
	}
	if err := metric.RegisterBuiltins(reg); err != nil {
		return nil, nil, err
	}
	if err := session.RegisterBuiltins(reg); err != nil {
		return nil, nil, err
	}
	if err := benchmark.RegisterBuiltins(reg); err != nil {
		return nil, nil, err
	}
	return store, reg, nil
}
