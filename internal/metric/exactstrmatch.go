// Package metric carries the builtin metric modules. Leaf metric formulas
// live behind the registry's capability contract; the engine only applies
// them and records the canonical result shape.
package metric

import (
	"context"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// ExactStrMatchID is the builtin exact string match metric module id.
const ExactStrMatchID = "exactstrmatch"

// ExactStrMatch scores the percentage of predicted results exactly equal to
// their targets. Failed prompts (nil predicted result) score as wrong.
type ExactStrMatch struct{}

// NewExactStrMatch constructs the metric.
func NewExactStrMatch() (registry.Metric, error) {
	return &ExactStrMatch{}, nil
}

// GetResults computes accuracy over the parallel slices.
func (m *ExactStrMatch) GetResults(ctx context.Context, prompts []string, predicted []*string, targets []any) (*types.MetricResult, error) {
	if len(predicted) != len(targets) {
		return nil, types.NewError(types.VALIDATION_FAILED,
			"predicted results and targets differ in length")
	}

	correct := 0
	for i := range predicted {
		if predicted[i] == nil {
			continue
		}
		if *predicted[i] == types.CanonicalTarget(targets[i]) {
			correct++
		}
	}

	accuracy := 0.0
	if len(predicted) > 0 {
		accuracy = float64(correct) / float64(len(predicted)) * 100.0
	}

	return &types.MetricResult{
		NumericScores:   map[string]float64{"accuracy": accuracy},
		GradingCriteria: map[string]float64{"accuracy": accuracy},
	}, nil
}

// RegisterBuiltins registers the builtin metric modules and publishes their
// manifests for discovery.
func RegisterBuiltins(reg *registry.Registry) error {
	reg.RegisterMetric(ExactStrMatchID, NewExactStrMatch)
	return reg.WriteManifest(registry.CategoryMetric, registry.ModuleMetadata{
		ID:          ExactStrMatchID,
		Name:        "Exact String Match",
		Description: "Percentage of predictions exactly matching their targets",
	})
}
