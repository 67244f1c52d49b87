package benchmark

import (
	"context"
	"encoding/json"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Builtin processing module ids.
const (
	// BenchmarkingModuleID is the default runner processing module.
	BenchmarkingModuleID = "benchmarking"
	// BenchmarkingResultModuleID is the default result processing module.
	BenchmarkingResultModuleID = "benchmarking-result"
)

// benchmarking dispatches a cell's pending prompts as one ordered batch.
type benchmarking struct{}

// NewBenchmarking constructs the default runner processing module.
func NewBenchmarking() (registry.RunnerProcessing, error) {
	return benchmarking{}, nil
}

func (benchmarking) ProcessBatch(ctx context.Context, batch registry.BenchmarkPromptBatch, dispatch registry.DispatchFunc) error {
	if len(batch.Prompts) == 0 {
		return nil
	}
	return dispatch(ctx, batch.Prompts)
}

// benchmarkingResult wraps the raw result tree in the metadata envelope
// written to the results directory.
type benchmarkingResult struct{}

// NewBenchmarkingResult constructs the default result processing module.
func NewBenchmarkingResult() (registry.ResultProcessing, error) {
	return benchmarkingResult{}, nil
}

func (benchmarkingResult) ProcessResult(metadata, results json.RawMessage) (json.RawMessage, error) {
	doc := struct {
		Metadata json.RawMessage `json:"metadata"`
		Results  json.RawMessage `json:"results"`
	}{Metadata: metadata, Results: results}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "serializing result document", err)
	}
	return raw, nil
}

// RegisterBuiltins registers the builtin processing modules and publishes
// their manifests for discovery.
func RegisterBuiltins(reg *registry.Registry) error {
	reg.RegisterRunnerProcessing(BenchmarkingModuleID, NewBenchmarking)
	reg.RegisterResultProcessing(BenchmarkingResultModuleID, NewBenchmarkingResult)
	if err := reg.WriteManifest(registry.CategoryRunnerProcessing, registry.ModuleMetadata{
		ID:          BenchmarkingModuleID,
		Name:        "Benchmarking",
		Description: "Dispatches each cell's pending prompts as one ordered batch",
	}); err != nil {
		return err
	}
	return reg.WriteManifest(registry.CategoryResultProcessing, registry.ModuleMetadata{
		ID:          BenchmarkingResultModuleID,
		Name:        "Benchmarking Result",
		Description: "Wraps the raw result tree in the result file metadata envelope",
	})
}
