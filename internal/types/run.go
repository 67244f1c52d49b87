package types

import (
	"encoding/json"
	"time"
)

// RunnerType identifies which engine a run record belongs to.
type RunnerType string

const (
	// RunnerTypeBenchmark marks recipe/cookbook evaluation runs.
	RunnerTypeBenchmark RunnerType = "benchmark"
	// RunnerTypeRedTeam marks red-teaming session runs.
	RunnerTypeRedTeam RunnerType = "redteam"
)

// RunStatus is the lifecycle state reported through the progress callback
// and persisted on the run record.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusError     RunStatus = "error"
)

// RunRecord is persisted in the run database's run_metadata table, one row
// per run_* invocation, keyed by an auto-incremented run id.
type RunRecord struct {
	RunID         int64           `json:"run_id"`
	RunnerID      string          `json:"runner_id"`
	RunnerType    RunnerType      `json:"runner_type"`
	RunnerArgs    json.RawMessage `json:"runner_args"`
	Endpoints     []string        `json:"endpoints"`
	ResultsFile   string          `json:"results_file"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Duration      float64         `json:"duration"`
	Status        RunStatus       `json:"status"`
	ErrorMessages []string        `json:"error_messages"`
	RawRuns       json.RawMessage `json:"raw_runs"`
}

// CacheRecord is one row of the run database's cache_table. The fingerprint
// primary key enforces the at-most-once invariant for a prompt tuple.
type CacheRecord struct {
	Fingerprint     string        `json:"prompt_fingerprint"`
	EndpointID      string        `json:"endpoint_id"`
	RecipeID        string        `json:"recipe_id"`
	PromptTemplate  string        `json:"prompt_template_id"`
	DatasetID       string        `json:"dataset_id"`
	Prompt          string        `json:"prompt"`
	Target          string        `json:"target"`
	PredictedResult *string       `json:"predicted_result"`
	Duration        time.Duration `json:"duration"`
}

// RunnerArguments is the descriptor persisted as <id>.json in the runners
// directory. The ID is the slug of the name. The progress callback and the
// database handle live on the Runner itself, not on the descriptor.
type RunnerArguments struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Endpoints    []string `json:"endpoints"`
	DatabaseFile string   `json:"database_file"`
	CreatedDate  string   `json:"created_date"`
}

// Validate checks the runner descriptor for structural errors.
func (r *RunnerArguments) Validate() error {
	if err := ValidateSlug(r.ID); err != nil {
		return err
	}
	if len(r.Endpoints) == 0 {
		return NewError(VALIDATION_FAILED, "runner "+r.ID+": at least one endpoint is required")
	}
	for _, ep := range r.Endpoints {
		if err := ValidateSlug(ep); err != nil {
			return err
		}
	}
	return nil
}
