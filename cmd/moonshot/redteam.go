package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiverify-foundation/moonshot-sub003/internal/runner"
	"github.com/aiverify-foundation/moonshot-sub003/internal/session"
)

var redteamFlags struct {
	prompt          string
	attackModule    string
	iterations      int
	systemPrompt    string
	contextStrategy string
	promptTemplate  string
	metric          string
}

var redteamCmd = &cobra.Command{
	Use:   "redteam",
	Short: "Run a red-teaming round against the runner's endpoints",
	Long: `Dispatches one manual prompt (--prompt) or an automated attack module
(--attack-module) to every endpoint of the runner. Session configuration
flags update the persisted session before the round runs.`,
	RunE: runRedteam,
}

func init() {
	redteamCmd.Flags().StringVar(&runFlags.runnerName, "runner", "", "runner name (required)")
	redteamCmd.Flags().StringSliceVar(&runFlags.endpoints, "endpoints", nil,
		"endpoint ids; creates the runner when it does not exist yet")
	redteamCmd.Flags().StringVar(&redteamFlags.prompt, "prompt", "", "manual prompt to dispatch")
	redteamCmd.Flags().StringVar(&redteamFlags.attackModule, "attack-module", "",
		"attack module id for automated red teaming")
	redteamCmd.Flags().IntVar(&redteamFlags.iterations, "iterations", 0,
		"attack module iteration override")
	redteamCmd.Flags().StringVar(&redteamFlags.systemPrompt, "system-prompt", "", "session system prompt")
	redteamCmd.Flags().StringVar(&redteamFlags.contextStrategy, "context-strategy", "",
		"context strategy module id")
	redteamCmd.Flags().StringVar(&redteamFlags.promptTemplate, "prompt-template", "",
		"prompt template id")
	redteamCmd.Flags().StringVar(&redteamFlags.metric, "metric", "",
		"metric module id scored on each exchange")
	_ = redteamCmd.MarkFlagRequired("runner")
}

func runRedteam(cmd *cobra.Command, args []string) error {
	store, reg, err := buildEnv()
	if err != nil {
		return err
	}
	r, err := loadOrCreateRunner(cmd, store, reg)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	if _, err := r.Session().CreateSession(ctx); err != nil {
		return err
	}
	if err := applySessionFlags(cmd, r); err != nil {
		return err
	}

	rtArgs := runner.RedTeamArgs{ManualPrompt: redteamFlags.prompt}
	if redteamFlags.attackModule != "" {
		strategy := session.AttackStrategy{
			AttackModuleID: redteamFlags.attackModule,
			Prompt:         redteamFlags.prompt,
		}
		if redteamFlags.iterations > 0 {
			strategy.Params = map[string]any{"max_iterations": redteamFlags.iterations}
		}
		rtArgs = runner.RedTeamArgs{AttackStrategies: []session.AttackStrategy{strategy}}
	}

	results, err := r.RunRedTeaming(ctx, rtArgs)
	if len(results) > 0 {
		raw, jerr := json.MarshalIndent(results, "", "  ")
		if jerr == nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		}
	}
	return err
}

func applySessionFlags(cmd *cobra.Command, r *runner.Runner) error {
	ctx := cmd.Context()
	s := r.Session()
	if cmd.Flags().Changed("context-strategy") {
		if err := s.UpdateContextStrategy(ctx, redteamFlags.contextStrategy); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("prompt-template") {
		if err := s.UpdatePromptTemplate(ctx, redteamFlags.promptTemplate); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("metric") {
		if err := s.UpdateMetric(ctx, redteamFlags.metric); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("system-prompt") {
		if err := s.UpdateSystemPrompt(ctx, redteamFlags.systemPrompt); err != nil {
			return err
		}
	}
	return nil
}
