package benchmark

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// ResultMetadata is the metadata block of an emitted result file.
type ResultMetadata struct {
	ID                     string   `json:"id"`
	RunnerID               string   `json:"runner_id"`
	StartTime              string   `json:"start_time"`
	EndTime                string   `json:"end_time"`
	Duration               float64  `json:"duration"`
	Recipes                []string `json:"recipes,omitempty"`
	Cookbooks              []string `json:"cookbooks,omitempty"`
	Endpoints              []string `json:"endpoints"`
	NumOfPrompts           int      `json:"num_of_prompts"`
	RandomSeed             int64    `json:"random_seed"`
	SystemPrompt           string   `json:"system_prompt"`
	RunnerProcessingModule string   `json:"runner_processing_module"`
	ResultProcessingModule string   `json:"result_processing_module"`
}

// ResultFile is the document written under the results directory by the
// default result processing module.
type ResultFile struct {
	Metadata ResultMetadata `json:"metadata"`
	Results  *Result        `json:"results"`
}

// WriteResultFile hands the run's metadata and raw result tree to the
// result processing module named by opts, writes the returned document as
// `<runner_id>-<suffix>.json` in the results directory, and returns the
// result id.
func WriteResultFile(store *storage.ObjectStore, reg *registry.Registry, runnerID string, endpoints []string, opts RunOptions, result *Result, start, end time.Time) (string, error) {
	processor, err := reg.LoadResultProcessing(opts.resultProcessingID())
	if err != nil {
		return "", err
	}

	id := runnerID + "-" + uuid.NewString()
	meta := ResultMetadata{
		ID:                     id,
		RunnerID:               runnerID,
		StartTime:              start.Format(time.RFC3339),
		EndTime:                end.Format(time.RFC3339),
		Duration:               end.Sub(start).Seconds(),
		Recipes:                opts.Recipes,
		Cookbooks:              opts.Cookbooks,
		Endpoints:              endpoints,
		NumOfPrompts:           opts.NumPrompts,
		RandomSeed:             opts.RandomSeed,
		SystemPrompt:           opts.SystemPrompt,
		RunnerProcessingModule: opts.runnerProcessingID(),
		ResultProcessingModule: opts.resultProcessingID(),
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return "", types.WrapError(types.VALIDATION_FAILED, "serializing result metadata", err)
	}
	rawResults, err := json.Marshal(result)
	if err != nil {
		return "", types.WrapError(types.VALIDATION_FAILED, "serializing result tree", err)
	}

	doc, err := processor.ProcessResult(rawMeta, rawResults)
	if err != nil {
		return "", types.WrapError(types.MODULE_INVALID,
			"result processing module "+opts.resultProcessingID()+" failed", err)
	}
	if err := store.CreateOrReplace(storage.CategoryResults, id, json.RawMessage(doc)); err != nil {
		return "", err
	}
	return id, nil
}
