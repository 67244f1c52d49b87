package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Load reads configuration from a YAML file, applies MOONSHOT_* environment
// overrides on top, and validates the result. A missing file is not an
// error: defaults plus overrides are returned instead.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, types.WrapError(types.CONFIG_LOAD_ERROR, "reading config file "+path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, types.WrapError(types.CONFIG_LOAD_ERROR, "parsing config file "+path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps MOONSHOT_* environment variables onto the config.
// Directory overrides use the category names from the external interface
// contract (MOONSHOT_RECIPES, MOONSHOT_DATABASES, ...).
func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Dirs.AttackModules, "MOONSHOT_ATTACK_MODULES")
	overrideString(&cfg.Dirs.Connectors, "MOONSHOT_CONNECTORS")
	overrideString(&cfg.Dirs.ConnectorEndpoints, "MOONSHOT_CONNECTORS_ENDPOINTS")
	overrideString(&cfg.Dirs.ContextStrategy, "MOONSHOT_CONTEXT_STRATEGY")
	overrideString(&cfg.Dirs.Cookbooks, "MOONSHOT_COOKBOOKS")
	overrideString(&cfg.Dirs.Databases, "MOONSHOT_DATABASES")
	overrideString(&cfg.Dirs.DatabasesModules, "MOONSHOT_DATABASES_MODULES")
	overrideString(&cfg.Dirs.Datasets, "MOONSHOT_DATASETS")
	overrideString(&cfg.Dirs.IOModules, "MOONSHOT_IO_MODULES")
	overrideString(&cfg.Dirs.Metrics, "MOONSHOT_METRICS")
	overrideString(&cfg.Dirs.MetricsConfig, "MOONSHOT_METRICS_CONFIG")
	overrideString(&cfg.Dirs.PromptTemplates, "MOONSHOT_PROMPT_TEMPLATES")
	overrideString(&cfg.Dirs.Recipes, "MOONSHOT_RECIPES")
	overrideString(&cfg.Dirs.Results, "MOONSHOT_RESULTS")
	overrideString(&cfg.Dirs.ResultsModules, "MOONSHOT_RESULTS_MODULES")
	overrideString(&cfg.Dirs.Runners, "MOONSHOT_RUNNERS")
	overrideString(&cfg.Dirs.RunnersModules, "MOONSHOT_RUNNERS_MODULES")
	overrideString(&cfg.Dirs.Bookmarks, "MOONSHOT_BOOKMARKS")

	overrideInt(&cfg.Connector.RetryAttempts, "MOONSHOT_RETRY_ATTEMPTS")
	overrideDuration(&cfg.Connector.CallTimeout, "MOONSHOT_CALL_TIMEOUT")
	overrideDuration(&cfg.Runner.CancelGrace, "MOONSHOT_CANCEL_GRACE")
	overrideString(&cfg.Logging.Level, "MOONSHOT_LOG_LEVEL")
	overrideString(&cfg.Logging.Format, "MOONSHOT_LOG_FORMAT")
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
