package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns a Config with sensible default values rooted under
// the moonshot home directory (MOONSHOT_HOME or ~/.moonshot).
func DefaultConfig() *Config {
	home := defaultHomeDir()

	return &Config{
		Dirs: DirsConfig{
			AttackModules:      filepath.Join(home, "attack-modules"),
			Connectors:         filepath.Join(home, "connectors"),
			ConnectorEndpoints: filepath.Join(home, "connectors-endpoints"),
			ContextStrategy:    filepath.Join(home, "context-strategy"),
			Cookbooks:          filepath.Join(home, "cookbooks"),
			Databases:          filepath.Join(home, "databases"),
			DatabasesModules:   filepath.Join(home, "databases-modules"),
			Datasets:           filepath.Join(home, "datasets"),
			IOModules:          filepath.Join(home, "io-modules"),
			Metrics:            filepath.Join(home, "metrics"),
			MetricsConfig:      filepath.Join(home, "metrics-config"),
			PromptTemplates:    filepath.Join(home, "prompt-templates"),
			Recipes:            filepath.Join(home, "recipes"),
			Results:            filepath.Join(home, "results"),
			ResultsModules:     filepath.Join(home, "results-modules"),
			Runners:            filepath.Join(home, "runners"),
			RunnersModules:     filepath.Join(home, "runners-modules"),
			Bookmarks:          filepath.Join(home, "bookmarks"),
		},
		Connector: ConnectorConfig{
			RetryAttempts:  3,
			InitialBackoff: 500 * time.Millisecond,
			CallTimeout:    600 * time.Second,
		},
		Runner: RunnerConfig{
			CancelGrace: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultHomeDir() string {
	if dir := os.Getenv("MOONSHOT_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".moonshot"
	}
	return filepath.Join(home, ".moonshot")
}
