package config

import (
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Validate checks a Config for structural errors before it is handed to a
// Runner. Directory roots must be non-empty; tuning knobs must be positive.
func Validate(cfg *Config) error {
	dirs := map[string]string{
		"attack_modules":       cfg.Dirs.AttackModules,
		"connectors":           cfg.Dirs.Connectors,
		"connectors_endpoints": cfg.Dirs.ConnectorEndpoints,
		"context_strategy":     cfg.Dirs.ContextStrategy,
		"cookbooks":            cfg.Dirs.Cookbooks,
		"databases":            cfg.Dirs.Databases,
		"datasets":             cfg.Dirs.Datasets,
		"metrics":              cfg.Dirs.Metrics,
		"prompt_templates":     cfg.Dirs.PromptTemplates,
		"recipes":              cfg.Dirs.Recipes,
		"results":              cfg.Dirs.Results,
		"runners":              cfg.Dirs.Runners,
		"bookmarks":            cfg.Dirs.Bookmarks,
	}
	for name, dir := range dirs {
		if dir == "" {
			return types.NewError(types.CONFIG_INVALID, "directory root "+name+" is empty")
		}
	}

	if cfg.Connector.RetryAttempts < 1 {
		return types.NewError(types.CONFIG_INVALID, "connector.retry_attempts must be at least 1")
	}
	if cfg.Connector.CallTimeout <= 0 {
		return types.NewError(types.CONFIG_INVALID, "connector.call_timeout must be positive")
	}
	if cfg.Runner.CancelGrace <= 0 {
		return types.NewError(types.CONFIG_INVALID, "runner.cancel_grace must be positive")
	}
	return nil
}
