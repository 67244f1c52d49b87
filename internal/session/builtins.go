package session

import (
	"context"
	"strings"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// AddPreviousPromptID is the builtin context strategy that prefixes the
// previous prepared prompts onto the next one.
const AddPreviousPromptID = "add-previous-prompt"

type addPreviousPrompt struct{}

func newAddPreviousPrompt() (registry.ContextStrategy, error) {
	return &addPreviousPrompt{}, nil
}

// AddInContext concatenates the prepared prompts of the previous records,
// oldest first, in front of the user prompt.
func (s *addPreviousPrompt) AddInContext(userPrompt string, previous []types.ChatRecord) string {
	if len(previous) == 0 {
		return userPrompt
	}
	var b strings.Builder
	for _, record := range previous {
		b.WriteString(record.PreparedPrompt)
	}
	b.WriteString(userPrompt)
	return b.String()
}

// SampleAttackModuleID is the builtin attack module used as the reference
// implementation of the iteration contract.
const SampleAttackModuleID = "sample-attack-module"

// sampleAttack iterates a fixed number of rounds, feeding the first
// endpoint's answer back as the next prompt.
type sampleAttack struct {
	args       registry.AttackModuleArguments
	iterations int
}

func newSampleAttack(args registry.AttackModuleArguments) (registry.AttackModule, error) {
	iterations := 5
	if v, ok := args.Params["max_iterations"]; ok {
		switch n := v.(type) {
		case int:
			iterations = n
		case float64:
			iterations = int(n)
		default:
			return nil, types.NewError(types.VALIDATION_FAILED,
				"max_iterations must be a number")
		}
	}
	if iterations < 1 {
		return nil, types.NewError(types.OUT_OF_RANGE,
			"max_iterations must be at least 1")
	}
	return &sampleAttack{args: args, iterations: iterations}, nil
}

// Execute runs the configured number of rounds. On cancellation it returns
// whatever it has accumulated.
func (m *sampleAttack) Execute(ctx context.Context) ([]types.ConnectorPromptArguments, error) {
	prompt := m.args.Prompt
	var accumulated []types.ConnectorPromptArguments
	for i := 0; i < m.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return accumulated, types.WrapError(types.RUN_CANCELLED,
				"attack module cancelled", err)
		}
		results, err := m.args.SendPrompt(ctx, prompt)
		accumulated = append(accumulated, results...)
		if err != nil {
			return accumulated, err
		}
		if len(results) > 0 && results[0].PredictedResult != nil {
			prompt = *results[0].PredictedResult
		}
	}
	return accumulated, nil
}

// RegisterBuiltins registers the builtin context strategy and attack module
// and publishes their manifests for discovery.
func RegisterBuiltins(reg *registry.Registry) error {
	reg.RegisterContextStrategy(AddPreviousPromptID, newAddPreviousPrompt)
	reg.RegisterAttackModule(SampleAttackModuleID, newSampleAttack)

	if err := reg.WriteManifest(registry.CategoryContextStrategy, registry.ModuleMetadata{
		ID:          AddPreviousPromptID,
		Name:        "Add Previous Prompt",
		Description: "Prefixes the previous prepared prompts onto the next prompt",
	}); err != nil {
		return err
	}
	return reg.WriteManifest(registry.CategoryAttackModule, registry.ModuleMetadata{
		ID:          SampleAttackModuleID,
		Name:        "Sample Attack Module",
		Description: "Fixed-round iteration that feeds responses back as prompts",
	})
}
