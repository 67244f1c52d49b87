package config

import "time"

// Config is the root configuration for the Moonshot harness. It is a value
// object: loaded once, validated, then threaded through Runner construction.
// Nothing mutates it after a Runner starts.
type Config struct {
	Dirs      DirsConfig      `yaml:"dirs"`
	Connector ConnectorConfig `yaml:"connector"`
	Runner    RunnerConfig    `yaml:"runner"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DirsConfig holds the directory root for every object category. Each
// directory contains flat `<id>.json` objects except Databases, which holds
// `<id>.db` SQLite files, and the module directories, which hold module
// manifests.
type DirsConfig struct {
	AttackModules      string `yaml:"attack_modules"`
	Connectors         string `yaml:"connectors"`
	ConnectorEndpoints string `yaml:"connectors_endpoints"`
	ContextStrategy    string `yaml:"context_strategy"`
	Cookbooks          string `yaml:"cookbooks"`
	Databases          string `yaml:"databases"`
	DatabasesModules   string `yaml:"databases_modules"`
	Datasets           string `yaml:"datasets"`
	IOModules          string `yaml:"io_modules"`
	Metrics            string `yaml:"metrics"`
	MetricsConfig      string `yaml:"metrics_config"`
	PromptTemplates    string `yaml:"prompt_templates"`
	Recipes            string `yaml:"recipes"`
	Results            string `yaml:"results"`
	ResultsModules     string `yaml:"results_modules"`
	Runners            string `yaml:"runners"`
	RunnersModules     string `yaml:"runners_modules"`
	Bookmarks          string `yaml:"bookmarks"`
}

// ConnectorConfig tunes the connector pool.
type ConnectorConfig struct {
	// RetryAttempts is the maximum number of attempts per call (first try
	// plus retries) for transient failures.
	RetryAttempts int `yaml:"retry_attempts"`
	// InitialBackoff seeds the exponential backoff between retries.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// CallTimeout bounds a single get_response invocation.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// RunnerConfig tunes run lifecycle behavior.
type RunnerConfig struct {
	// CancelGrace is the window a cancelled run has to drain in-flight
	// calls and persist its partial record. Exceeding it is fatal.
	CancelGrace time.Duration `yaml:"cancel_grace"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
