// Package session maintains per-endpoint conversational state for
// red-teaming across process restarts. It supports a manual mode, where one
// user prompt fans out to every active endpoint, and an automated mode,
// where attack modules drive their own prompting iteration.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aiverify-foundation/moonshot-sub003/internal/connector"
	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// DefaultCSNumOfPrevPrompts is the number of previous chat records a newly
// created session feeds to its context strategy.
const DefaultCSNumOfPrevPrompts = 5

// Engine drives red-teaming sessions over a runner's run database. The
// single session row and the per-endpoint chat histories live in the run
// database, so a reloaded Runner resumes exactly where it stopped.
type Engine struct {
	store     *storage.ObjectStore
	reg       *registry.Registry
	pool      *connector.Pool
	dao       storage.SessionDAO
	runnerID  string
	endpoints []string
	progress  types.ProgressFunc
	logger    *slog.Logger

	mu   sync.Mutex
	meta *types.SessionMetadata
}

// EngineOption is a functional option for configuring the Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithProgress sets the progress callback.
func WithProgress(fn types.ProgressFunc) EngineOption {
	return func(e *Engine) { e.progress = fn }
}

// NewEngine creates a session engine over the runner's collaborators. Call
// Open before anything else.
func NewEngine(store *storage.ObjectStore, reg *registry.Registry, pool *connector.Pool, db *storage.DB, runnerID string, endpoints []string, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		reg:       reg,
		pool:      pool,
		dao:       storage.NewSessionDAO(db),
		runnerID:  runnerID,
		endpoints: endpoints,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open prepares the session schema, verifies the run database carries no
// chat history for endpoints outside the runner's set, and loads the
// persisted session row when one exists.
func (e *Engine) Open(ctx context.Context) error {
	if err := e.dao.CreateTable(ctx); err != nil {
		return err
	}
	if err := e.dao.ValidateEndpoints(ctx, e.endpoints); err != nil {
		return err
	}
	meta, err := e.dao.GetSession(ctx, e.runnerID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.meta = meta
	e.mu.Unlock()
	return nil
}

// CreateSession creates the session row in the ACTIVE state. When an active
// session already exists it is returned unchanged, so a reloaded Runner
// resumes the previous configuration.
func (e *Engine) CreateSession(ctx context.Context) (*types.SessionMetadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta != nil && e.meta.State == types.SessionActive {
		out := *e.meta
		return &out, nil
	}
	meta := &types.SessionMetadata{
		RunnerID:           e.runnerID,
		Endpoints:          append([]string(nil), e.endpoints...),
		CreatedTime:        time.Now().UTC(),
		NumOfPrevPrompts:   DefaultCSNumOfPrevPrompts,
		CSNumOfPrevPrompts: DefaultCSNumOfPrevPrompts,
		State:              types.SessionActive,
	}
	if err := e.dao.SaveSession(ctx, meta); err != nil {
		return nil, err
	}
	e.meta = meta
	out := *meta
	return &out, nil
}

// Session returns a copy of the current session row, or false when no
// session exists.
func (e *Engine) Session() (*types.SessionMetadata, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta == nil {
		return nil, false
	}
	out := *e.meta
	return &out, true
}

// DeleteSession removes the session row and drops every endpoint's chat
// history.
func (e *Engine) DeleteSession(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta == nil {
		return types.NewError(types.NOT_FOUND, "no session exists for runner "+e.runnerID)
	}
	if err := e.dao.DeleteSession(ctx, e.runnerID, e.endpoints); err != nil {
		return err
	}
	e.meta = nil
	return nil
}

// ChatHistory returns the full chat history of one endpoint in
// chronological order.
func (e *Engine) ChatHistory(ctx context.Context, endpointID string) ([]types.ChatRecord, error) {
	return e.dao.GetChatRecords(ctx, endpointID)
}

// update applies a mutation to the session row and rewrites it atomically.
func (e *Engine) update(ctx context.Context, mutate func(*types.SessionMetadata)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta == nil || e.meta.State != types.SessionActive {
		return types.NewError(types.NOT_FOUND, "no active session for runner "+e.runnerID)
	}
	next := *e.meta
	next.Endpoints = append([]string(nil), e.meta.Endpoints...)
	mutate(&next)
	if err := e.dao.SaveSession(ctx, &next); err != nil {
		return err
	}
	e.meta = &next
	return nil
}

// UpdateContextStrategy sets (or clears, with "") the session's context
// strategy module.
func (e *Engine) UpdateContextStrategy(ctx context.Context, id string) error {
	if id != "" {
		if _, err := e.reg.LoadContextStrategy(id); err != nil {
			return err
		}
	}
	return e.update(ctx, func(m *types.SessionMetadata) { m.ContextStrategyID = id })
}

// UpdatePromptTemplate sets (or clears, with "") the session's prompt
// template.
func (e *Engine) UpdatePromptTemplate(ctx context.Context, id string) error {
	if id != "" {
		tpl := new(types.PromptTemplate)
		if err := e.store.Read(storage.CategoryPromptTemplates, id, tpl); err != nil {
			return err
		}
		if err := tpl.Validate(); err != nil {
			return err
		}
	}
	return e.update(ctx, func(m *types.SessionMetadata) { m.PromptTemplateID = id })
}

// UpdateMetric sets (or clears, with "") the metric scored on each exchange.
func (e *Engine) UpdateMetric(ctx context.Context, id string) error {
	if id != "" {
		if _, err := e.reg.LoadMetric(id); err != nil {
			return err
		}
	}
	return e.update(ctx, func(m *types.SessionMetadata) { m.MetricID = id })
}

// UpdateAttackModule sets (or clears, with "") the session's default attack
// module.
func (e *Engine) UpdateAttackModule(ctx context.Context, id string) error {
	if id != "" {
		if _, err := e.reg.Metadata(registry.CategoryAttackModule, id); err != nil {
			return err
		}
	}
	return e.update(ctx, func(m *types.SessionMetadata) { m.AttackModuleID = id })
}

// UpdateSystemPrompt sets the system prompt prepended to every dispatch.
func (e *Engine) UpdateSystemPrompt(ctx context.Context, prompt string) error {
	return e.update(ctx, func(m *types.SessionMetadata) { m.SystemPrompt = prompt })
}

// UpdateCSNumOfPrevPrompts sets how many previous chat records the context
// strategy receives.
func (e *Engine) UpdateCSNumOfPrevPrompts(ctx context.Context, n int) error {
	if n < 0 {
		return types.NewError(types.OUT_OF_RANGE, "number of previous prompts must not be negative")
	}
	return e.update(ctx, func(m *types.SessionMetadata) { m.CSNumOfPrevPrompts = n })
}

// resolved carries the module instances of one dispatch round, looked up
// once from the session configuration.
type resolved struct {
	meta         types.SessionMetadata
	cs           registry.ContextStrategy
	template     *types.PromptTemplate
	metric       registry.Metric
	attackModule string
}

func (e *Engine) resolve(attackModule string) (*resolved, error) {
	e.mu.Lock()
	if e.meta == nil || e.meta.State != types.SessionActive {
		e.mu.Unlock()
		return nil, types.NewError(types.NOT_FOUND, "no active session for runner "+e.runnerID)
	}
	meta := *e.meta
	e.mu.Unlock()

	r := &resolved{meta: meta, attackModule: attackModule}
	var err error
	if meta.ContextStrategyID != "" {
		if r.cs, err = e.reg.LoadContextStrategy(meta.ContextStrategyID); err != nil {
			return nil, err
		}
	}
	if meta.PromptTemplateID != "" {
		r.template = new(types.PromptTemplate)
		if err := e.store.Read(storage.CategoryPromptTemplates, meta.PromptTemplateID, r.template); err != nil {
			return nil, err
		}
	}
	if meta.MetricID != "" {
		if r.metric, err = e.reg.LoadMetric(meta.MetricID); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SendPrompt dispatches one user prompt to every active endpoint through
// the manual pipeline: context strategy, system prompt, prompt template,
// connector, chat record, optional metric. Results come back one per
// endpoint in endpoint order.
func (e *Engine) SendPrompt(ctx context.Context, userPrompt string) ([]types.ConnectorPromptArguments, error) {
	r, err := e.resolve("")
	if err != nil {
		return nil, err
	}
	return e.fanOut(ctx, userPrompt, r)
}

// fanOut runs the manual pipeline concurrently across endpoints. Only
// cancellation aborts the round; per-endpoint failures are recorded on
// their result entry.
func (e *Engine) fanOut(ctx context.Context, userPrompt string, r *resolved) ([]types.ConnectorPromptArguments, error) {
	results := make([]types.ConnectorPromptArguments, len(e.endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, endpointID := range e.endpoints {
		i, endpointID := i, endpointID
		g.Go(func() error {
			args, err := e.dispatchOne(gctx, i, endpointID, userPrompt, r)
			results[i] = args
			if err != nil && types.IsCancelled(err) {
				return err
			}
			if err != nil {
				e.logger.Warn("red-teaming dispatch failed",
					"runner", e.runnerID, "endpoint", endpointID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, types.WrapError(types.RUN_CANCELLED, "red-teaming round cancelled", err)
	}
	return results, nil
}

// dispatchOne executes the pipeline for one endpoint and appends the chat
// record. Cancellation before dispatch leaves no record behind.
func (e *Engine) dispatchOne(ctx context.Context, index int, endpointID, userPrompt string, r *resolved) (types.ConnectorPromptArguments, error) {
	args := types.ConnectorPromptArguments{
		PromptIndex: index,
		Prompt:      userPrompt,
	}

	contextual := userPrompt
	if r.cs != nil {
		previous, err := e.dao.LastChatRecords(ctx, endpointID, r.meta.CSNumOfPrevPrompts)
		if err != nil {
			return args, err
		}
		contextual = r.cs.AddInContext(userPrompt, previous)
	}
	prepared := r.meta.SystemPrompt + contextual
	prepared = r.template.Render(prepared)
	args.PreparedPrompt = prepared

	dispatcher, err := e.pool.Dispatcher(endpointID)
	if err != nil {
		return args, err
	}

	promptTime := time.Now().UTC()
	dispatchErr := dispatcher.Predict(ctx, &args)
	if dispatchErr != nil && types.IsCancelled(dispatchErr) {
		return args, dispatchErr
	}

	record := types.ChatRecord{
		ConnectionID:    endpointID,
		Prompt:          userPrompt,
		PreparedPrompt:  prepared,
		PredictedResult: args.PredictedResult,
		Duration:        args.Duration,
		ContextStrategy: r.meta.ContextStrategyID,
		PromptTemplate:  r.meta.PromptTemplateID,
		AttackModule:    r.attackModule,
		Metric:          r.meta.MetricID,
		PromptTime:      promptTime,
	}
	if r.metric != nil && args.PredictedResult != nil {
		mr, merr := r.metric.GetResults(ctx,
			[]string{prepared}, []*string{args.PredictedResult}, []any{nil})
		if merr != nil {
			e.logger.Warn("metric scoring failed",
				"metric", r.meta.MetricID, "endpoint", endpointID, "error", merr)
		} else if raw, jerr := json.Marshal(mr.NumericScores); jerr == nil {
			record.MetricScore = string(raw)
		}
	}
	if err := e.dao.AppendChatRecord(ctx, endpointID, &record); err != nil {
		return args, err
	}
	return args, dispatchErr
}

// AttackStrategy names one automated red-teaming round: the attack module
// to run, its seed prompt, and module-specific parameters.
type AttackStrategy struct {
	AttackModuleID string         `json:"attack_module_id"`
	Prompt         string         `json:"prompt"`
	Params         map[string]any `json:"params,omitempty"`
}

// RunAutomated executes the attack strategies in order. Each attack module
// is the authoritative scheduler of its own iteration; the engine only
// supplies the SendPrompt pipeline. On cancellation everything accumulated
// so far is returned alongside the Cancelled error.
func (e *Engine) RunAutomated(ctx context.Context, strategies []AttackStrategy) ([]types.ConnectorPromptArguments, error) {
	if len(strategies) == 0 {
		return nil, types.NewError(types.VALIDATION_FAILED, "at least one attack strategy is required")
	}

	var accumulated []types.ConnectorPromptArguments
	for i, strategy := range strategies {
		r, err := e.resolve(strategy.AttackModuleID)
		if err != nil {
			return accumulated, err
		}

		args := registry.AttackModuleArguments{
			Prompt:             strategy.Prompt,
			SystemPrompt:       r.meta.SystemPrompt,
			ContextStrategy:    r.cs,
			CSNumOfPrevPrompts: r.meta.CSNumOfPrevPrompts,
			Metric:             r.metric,
			Params:             strategy.Params,
			SendPrompt: func(ctx context.Context, prompt string) ([]types.ConnectorPromptArguments, error) {
				return e.fanOut(ctx, prompt, r)
			},
		}
		if r.template != nil {
			args.PromptTemplates = []*types.PromptTemplate{r.template}
		}

		module, err := e.reg.LoadAttackModule(strategy.AttackModuleID, args)
		if err != nil {
			return accumulated, err
		}

		e.emit(types.ProgressEvent{
			RunnerID:        e.runnerID,
			RunnerType:      types.RunnerTypeRedTeam,
			CurrentStatus:   types.RunStatusRunning,
			CurrentProgress: i,
			Total:           len(strategies),
			Details:         strategy.AttackModuleID,
		})

		results, err := module.Execute(ctx)
		accumulated = append(accumulated, results...)
		if err != nil {
			if types.IsCancelled(err) {
				return accumulated, types.WrapError(types.RUN_CANCELLED,
					"automated red teaming cancelled", err)
			}
			return accumulated, err
		}
	}

	e.emit(types.ProgressEvent{
		RunnerID:        e.runnerID,
		RunnerType:      types.RunnerTypeRedTeam,
		CurrentStatus:   types.RunStatusRunning,
		CurrentProgress: len(strategies),
		Total:           len(strategies),
	})
	return accumulated, nil
}

func (e *Engine) emit(event types.ProgressEvent) {
	if e.progress != nil {
		e.progress(event)
	}
}
