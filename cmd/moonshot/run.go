package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiverify-foundation/moonshot-sub003/internal/benchmark"
	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/runner"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

var runFlags struct {
	runnerName       string
	endpoints        []string
	numPrompts       int
	promptPct        int
	seed             int64
	systemPrompt     string
	runnerProcModule string
	resultProcModule string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run benchmarks against the runner's endpoints",
}

var runRecipesCmd = &cobra.Command{
	Use:   "recipes <recipe-id>...",
	Short: "Evaluate one or more recipes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBenchmark(cmd, benchmark.RunOptions{Recipes: args}, false)
	},
}

var runCookbooksCmd = &cobra.Command{
	Use:   "cookbooks <cookbook-id>...",
	Short: "Evaluate one or more cookbooks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBenchmark(cmd, benchmark.RunOptions{Cookbooks: args}, true)
	},
}

func init() {
	runCmd.PersistentFlags().StringVar(&runFlags.runnerName, "runner", "", "runner name (required)")
	runCmd.PersistentFlags().StringSliceVar(&runFlags.endpoints, "endpoints", nil,
		"endpoint ids; creates the runner when it does not exist yet")
	runCmd.PersistentFlags().IntVar(&runFlags.numPrompts, "num-prompts", 0,
		"number of prompts per dataset (0 = all)")
	runCmd.PersistentFlags().IntVar(&runFlags.promptPct, "prompt-pct", 0,
		"percentage of prompts per dataset (ignored when --num-prompts is set)")
	runCmd.PersistentFlags().Int64Var(&runFlags.seed, "seed", 0,
		"random seed for prompt subset selection")
	runCmd.PersistentFlags().StringVar(&runFlags.systemPrompt, "system-prompt", "",
		"system prompt sent with every call")
	runCmd.PersistentFlags().StringVar(&runFlags.runnerProcModule, "runner-proc-module",
		benchmark.BenchmarkingModuleID, "runner processing module id")
	runCmd.PersistentFlags().StringVar(&runFlags.resultProcModule, "result-proc-module",
		benchmark.BenchmarkingResultModuleID, "result processing module id")
	_ = runCmd.MarkPersistentFlagRequired("runner")
	runCmd.AddCommand(runRecipesCmd, runCookbooksCmd)
}

// loadOrCreateRunner resolves --runner to an existing runner, creating it
// when --endpoints names its endpoint set.
func loadOrCreateRunner(cmd *cobra.Command, store *storage.ObjectStore, reg *registry.Registry) (*runner.Runner, error) {
	ctx := cmd.Context()
	opts := []runner.Option{runner.WithLogger(logger), runner.WithProgress(printProgress(cmd))}

	id := types.Slugify(runFlags.runnerName)
	r, err := runner.Load(ctx, cfg, store, reg, id, opts...)
	if types.CodeOf(err) == types.NOT_FOUND && len(runFlags.endpoints) > 0 {
		return runner.Create(ctx, cfg, store, reg, runFlags.runnerName, "", runFlags.endpoints, opts...)
	}
	return r, err
}

func printProgress(cmd *cobra.Command) types.ProgressFunc {
	return func(e types.ProgressEvent) {
		logger.Info("run progress",
			"runner", e.RunnerID,
			"type", string(e.RunnerType),
			"status", string(e.CurrentStatus),
			"progress", e.CurrentProgress,
			"total", e.Total,
			"details", e.Details,
		)
	}
}

func runBenchmark(cmd *cobra.Command, opts benchmark.RunOptions, cookbooks bool) error {
	store, reg, err := buildEnv()
	if err != nil {
		return err
	}
	r, err := loadOrCreateRunner(cmd, store, reg)
	if err != nil {
		return err
	}
	defer r.Close()

	opts.NumPrompts = runFlags.numPrompts
	opts.PromptPct = runFlags.promptPct
	opts.SystemPrompt = runFlags.systemPrompt
	opts.RunnerProcessingModule = runFlags.runnerProcModule
	opts.ResultProcessingModule = runFlags.resultProcModule
	if cmd.Flags().Changed("seed") {
		opts.RandomSeed = runFlags.seed
		opts.HasSeed = true
	}

	var result *benchmark.Result
	if cookbooks {
		result, err = r.RunCookbooks(cmd.Context(), opts)
	} else {
		result, err = r.RunRecipes(cmd.Context(), opts)
	}
	if result != nil {
		raw, jerr := json.MarshalIndent(result, "", "  ")
		if jerr == nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		}
	}
	return err
}
