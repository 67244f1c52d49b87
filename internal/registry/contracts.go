package registry

import (
	"context"
	"encoding/json"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Connector is the capability contract of connector modules: a runtime
// object dispatching one prompt to a remote model endpoint. Instances are
// constructed from an endpoint descriptor, shared by every task of a run,
// and closed when the Runner closes.
type Connector interface {
	// ID returns the endpoint identifier this connector serves.
	ID() string
	// GetResponse sends the prepared prompt and returns the predicted
	// result. Implementations must honor ctx cancellation.
	GetResponse(ctx context.Context, prompt, systemPrompt string) (string, error)
	// Close releases any underlying transport resources.
	Close() error
}

// Metric is the capability contract of metric modules. GetResults receives
// parallel slices of prompts, predicted results, and targets; a nil
// predicted result marks a failed prompt and must score as wrong, never
// crash.
type Metric interface {
	GetResults(ctx context.Context, prompts []string, predicted []*string, targets []any) (*types.MetricResult, error)
}

// ContextStrategy is the capability contract of context-strategy modules:
// it folds previous chat records into the next prompt.
type ContextStrategy interface {
	AddInContext(userPrompt string, previous []types.ChatRecord) string
}

// SendPromptFunc dispatches one prompt through the session engine's manual
// pipeline to every active endpoint, returning one result per endpoint in
// endpoint order.
type SendPromptFunc func(ctx context.Context, prompt string) ([]types.ConnectorPromptArguments, error)

// AttackModuleArguments is the data-only aggregate handed to an attack
// module. It carries no engine references; the module drives iteration
// solely through SendPrompt.
type AttackModuleArguments struct {
	AttackModuleID     string
	Prompt             string
	SystemPrompt       string
	PromptTemplates    []*types.PromptTemplate
	ContextStrategy    ContextStrategy
	CSNumOfPrevPrompts int
	Metric             Metric
	Params             map[string]any
	SendPrompt         SendPromptFunc
}

// AttackModule is the capability contract of attack modules. Execute is the
// authoritative scheduler of its own iteration: it may call SendPrompt any
// number of times and returns everything it accumulated, including on
// cancellation.
type AttackModule interface {
	Execute(ctx context.Context) ([]types.ConnectorPromptArguments, error)
}

// BenchmarkPromptBatch is one benchmark cell's pending prompts as handed
// to a runner processing module: every prompt of the cell that was not
// answered from cache, in submission order.
type BenchmarkPromptBatch struct {
	RecipeID   string
	DatasetID  string
	TemplateID string
	EndpointID string
	Prompts    []*types.ConnectorPromptArguments
}

// DispatchFunc sends prompts through the cell's endpoint dispatcher,
// filling each prompt's result fields in place.
type DispatchFunc func(ctx context.Context, prompts []*types.ConnectorPromptArguments) error

// RunnerProcessing is the capability contract of runner processing
// modules: the strategy that carries a cell's pending prompts to the
// endpoint. Cache consultation and result persistence stay with the
// engine; the module owns the dispatch itself.
type RunnerProcessing interface {
	ProcessBatch(ctx context.Context, batch BenchmarkPromptBatch, dispatch DispatchFunc) error
}

// ResultProcessing is the capability contract of result processing
// modules: it formats a finished run's metadata and raw result tree into
// the document persisted under the results directory.
type ResultProcessing interface {
	ProcessResult(metadata, results json.RawMessage) (json.RawMessage, error)
}

// ConnectorFactory constructs a connector instance for an endpoint.
type ConnectorFactory func(endpoint *types.Endpoint) (Connector, error)

// MetricFactory constructs a metric instance.
type MetricFactory func() (Metric, error)

// ContextStrategyFactory constructs a context strategy instance.
type ContextStrategyFactory func() (ContextStrategy, error)

// AttackModuleFactory constructs an attack module bound to its arguments.
type AttackModuleFactory func(args AttackModuleArguments) (AttackModule, error)

// RunnerProcessingFactory constructs a runner processing module instance.
type RunnerProcessingFactory func() (RunnerProcessing, error)

// ResultProcessingFactory constructs a result processing module instance.
type ResultProcessingFactory func() (ResultProcessing, error)
