// Package benchmark expands recipes and cookbooks into prompt sets,
// schedules execution across endpoints, aggregates metric scores, and
// grades recipes.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aiverify-foundation/moonshot-sub003/internal/cache"
	"github.com/aiverify-foundation/moonshot-sub003/internal/connector"
	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// RunOptions are the inputs of one benchmark run. Exactly one of Recipes or
// Cookbooks is non-empty; cookbooks expand to their recipes in order. The
// processing module identifiers fall back to the benchmarking builtins when
// empty.
type RunOptions struct {
	Recipes                []string
	Cookbooks              []string
	NumPrompts             int
	PromptPct              int
	RandomSeed             int64
	HasSeed                bool
	SystemPrompt           string
	RunnerProcessingModule string
	ResultProcessingModule string
}

// Validate rejects out-of-range prompt selection inputs.
func (o RunOptions) Validate() error {
	if o.NumPrompts < 0 {
		return types.NewError(types.OUT_OF_RANGE,
			fmt.Sprintf("number of prompts must not be negative, got %d", o.NumPrompts))
	}
	if o.PromptPct != 0 && (o.PromptPct < 1 || o.PromptPct > 100) {
		return types.NewError(types.OUT_OF_RANGE,
			fmt.Sprintf("prompt selection percentage must be within [1,100], got %d", o.PromptPct))
	}
	return nil
}

// runnerProcessingID resolves the runner processing module id, applying the
// builtin default.
func (o RunOptions) runnerProcessingID() string {
	if o.RunnerProcessingModule == "" {
		return BenchmarkingModuleID
	}
	return o.RunnerProcessingModule
}

// resultProcessingID resolves the result processing module id, applying the
// builtin default.
func (o RunOptions) resultProcessingID() string {
	if o.ResultProcessingModule == "" {
		return BenchmarkingResultModuleID
	}
	return o.ResultProcessingModule
}

// Engine drives benchmark runs. It borrows the runner's cache, pool, and
// progress callback; it owns no lifecycle of its own.
type Engine struct {
	store    *storage.ObjectStore
	reg      *registry.Registry
	pool     *connector.Pool
	cache    *cache.Cache
	runnerID string
	progress types.ProgressFunc
	logger   *slog.Logger
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

// NewEngine creates a benchmark engine over the runner's collaborators.
func NewEngine(store *storage.ObjectStore, reg *registry.Registry, pool *connector.Pool, c *cache.Cache, runnerID string, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		reg:      reg,
		pool:     pool,
		cache:    c,
		runnerID: runnerID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// cell is one (recipe, dataset, prompt template, endpoint) execution unit.
type cell struct {
	recipe   *types.Recipe
	dataset  *types.Dataset
	template *types.PromptTemplate
	examples []types.DatasetExample
	endpoint string
}

// Result is the computed result tree of one run: per recipe, the metric
// results keyed endpoint → prompt template → dataset → metric id, plus the
// recipe grade when a grading scale is present.
type Result struct {
	Recipes   map[string]*RecipeResult `json:"recipes"`
	Cookbooks map[string][]string      `json:"cookbooks,omitempty"`
}

// RecipeResult aggregates one recipe's cells.
type RecipeResult struct {
	RecipeID    string                                                        `json:"recipe_id"`
	Evaluations map[string]map[string]map[string]map[string]*types.MetricResult `json:"evaluations"`
	GradeScore  *float64                                                      `json:"grade_score,omitempty"`
	Grade       string                                                        `json:"grade,omitempty"`
}

func newRecipeResult(id string) *RecipeResult {
	return &RecipeResult{
		RecipeID:    id,
		Evaluations: make(map[string]map[string]map[string]map[string]*types.MetricResult),
	}
}

func (r *RecipeResult) record(endpoint, template, dataset, metricID string, result *types.MetricResult) {
	byTemplate, ok := r.Evaluations[endpoint]
	if !ok {
		byTemplate = make(map[string]map[string]map[string]*types.MetricResult)
		r.Evaluations[endpoint] = byTemplate
	}
	byDataset, ok := byTemplate[template]
	if !ok {
		byDataset = make(map[string]map[string]*types.MetricResult)
		byTemplate[template] = byDataset
	}
	byMetric, ok := byDataset[dataset]
	if !ok {
		byMetric = make(map[string]*types.MetricResult)
		byDataset[dataset] = byMetric
	}
	byMetric[metricID] = result
}

// Run executes the benchmark. Per-prompt and per-cell failures are recorded
// in the returned error message list and do not abort the run; only
// cancellation and fatal conditions return a non-nil error alongside the
// partial result tree.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Result, []string, error) {
	start := time.Now()

	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	processor, err := e.reg.LoadRunnerProcessing(opts.runnerProcessingID())
	if err != nil {
		return nil, nil, err
	}

	result := &Result{Recipes: make(map[string]*RecipeResult)}
	recipeIDs, err := e.expandCookbooks(opts, result)
	if err != nil {
		return result, nil, err
	}

	plan, err := e.buildPlan(recipeIDs, opts)
	if err != nil {
		return result, nil, err
	}

	var (
		mu        sync.Mutex
		errMsgs   []string
		completed int
	)
	total := 0
	for _, cells := range plan.byEndpoint {
		total += len(cells)
	}

	e.emit(types.ProgressEvent{
		RunnerID:      e.runnerID,
		RunnerType:    types.RunnerTypeBenchmark,
		CurrentStatus: types.RunStatusRunning,
		Total:         total,
	})

	g, gctx := errgroup.WithContext(ctx)
	for endpointID, cells := range plan.byEndpoint {
		endpointID, cells := endpointID, cells
		g.Go(func() error {
			dispatcher, err := e.pool.Dispatcher(endpointID)
			if err != nil {
				return err
			}
			for _, c := range cells {
				metrics, cellErrs, err := e.runCell(gctx, dispatcher, processor, c, plan.metrics, opts.SystemPrompt)
				mu.Lock()
				for metricID, mr := range metrics {
					recipeResult, ok := result.Recipes[c.recipe.ID]
					if !ok {
						recipeResult = newRecipeResult(c.recipe.ID)
						result.Recipes[c.recipe.ID] = recipeResult
					}
					recipeResult.record(c.endpoint, c.template.ID, c.dataset.ID, metricID, mr)
				}
				errMsgs = append(errMsgs, cellErrs...)
				completed++
				current := completed
				mu.Unlock()

				if err != nil {
					return err
				}
				e.emit(types.ProgressEvent{
					RunnerID:        e.runnerID,
					RunnerType:      types.RunnerTypeBenchmark,
					CurrentDuration: time.Since(start),
					CurrentStatus:   types.RunStatusRunning,
					CurrentProgress: current,
					Total:           total,
					Details:         c.recipe.ID + "/" + c.dataset.ID + "/" + c.template.ID + "@" + c.endpoint,
				})
			}
			return nil
		})
	}

	runErr := g.Wait()

	for _, recipeResult := range result.Recipes {
		e.grade(plan.recipes[recipeResult.RecipeID], recipeResult)
	}

	if runErr != nil {
		if types.IsCancelled(runErr) {
			errMsgs = append(errMsgs, "cancelled")
			return result, errMsgs, types.WrapError(types.RUN_CANCELLED, "benchmark run cancelled", runErr)
		}
		errMsgs = append(errMsgs, runErr.Error())
		return result, errMsgs, runErr
	}
	return result, errMsgs, nil
}

// expandCookbooks resolves cookbook ids into the recipe id list, recording
// the expansion on the result tree.
func (e *Engine) expandCookbooks(opts RunOptions, result *Result) ([]string, error) {
	if len(opts.Cookbooks) == 0 {
		return opts.Recipes, nil
	}
	result.Cookbooks = make(map[string][]string, len(opts.Cookbooks))
	var recipeIDs []string
	seen := make(map[string]struct{})
	for _, cbID := range opts.Cookbooks {
		var cb types.Cookbook
		if err := e.store.Read(storage.CategoryCookbooks, cbID, &cb); err != nil {
			return nil, err
		}
		result.Cookbooks[cbID] = cb.Recipes
		for _, rid := range cb.Recipes {
			if _, ok := seen[rid]; ok {
				continue
			}
			seen[rid] = struct{}{}
			recipeIDs = append(recipeIDs, rid)
		}
	}
	return recipeIDs, nil
}

// plan holds the expanded cells grouped by endpoint plus the loaded recipe
// and metric instances shared across cells.
type plan struct {
	byEndpoint map[string][]*cell
	recipes    map[string]*types.Recipe
	metrics    map[string]registry.Metric
}

// buildPlan expands {recipe} x {dataset} x {template ∪ identity} x
// {endpoint} and applies prompt selection per dataset.
func (e *Engine) buildPlan(recipeIDs []string, opts RunOptions) (*plan, error) {
	p := &plan{
		byEndpoint: make(map[string][]*cell),
		recipes:    make(map[string]*types.Recipe),
		metrics:    make(map[string]registry.Metric),
	}
	for _, recipeID := range recipeIDs {
		recipe := new(types.Recipe)
		if err := e.store.Read(storage.CategoryRecipes, recipeID, recipe); err != nil {
			return nil, err
		}
		if err := recipe.Validate(); err != nil {
			return nil, err
		}
		p.recipes[recipeID] = recipe

		for _, metricID := range recipe.Metrics {
			if _, ok := p.metrics[metricID]; ok {
				continue
			}
			m, err := e.reg.LoadMetric(metricID)
			if err != nil {
				return nil, err
			}
			p.metrics[metricID] = m
		}

		templates := []*types.PromptTemplate{}
		if len(recipe.PromptTemplates) == 0 {
			templates = append(templates, types.IdentityTemplate())
		} else {
			for _, tplID := range recipe.PromptTemplates {
				tpl := new(types.PromptTemplate)
				if err := e.store.Read(storage.CategoryPromptTemplates, tplID, tpl); err != nil {
					return nil, err
				}
				templates = append(templates, tpl)
			}
		}

		for _, datasetID := range recipe.Datasets {
			dataset := new(types.Dataset)
			if err := e.store.Read(storage.CategoryDatasets, datasetID, dataset); err != nil {
				return nil, err
			}
			if err := dataset.Validate(); err != nil {
				return nil, err
			}
			examples := selectExamples(dataset.Examples, requestedCount(dataset, opts), opts)

			for _, tpl := range templates {
				for _, endpointID := range e.pool.EndpointIDs() {
					p.byEndpoint[endpointID] = append(p.byEndpoint[endpointID], &cell{
						recipe:   recipe,
						dataset:  dataset,
						template: tpl,
						examples: examples,
						endpoint: endpointID,
					})
				}
			}
		}
	}
	return p, nil
}

// runCell executes one cell: render prompts, consult the cache, hand the
// misses to the runner processing module, insert results, and apply the
// recipe's metrics.
func (e *Engine) runCell(ctx context.Context, dispatcher *connector.Dispatcher, processor registry.RunnerProcessing, c *cell, loaded map[string]registry.Metric, systemPrompt string) (map[string]*types.MetricResult, []string, error) {
	prompts := make([]*types.ConnectorPromptArguments, len(c.examples))
	fingerprints := make([]string, len(c.examples))
	var misses []*types.ConnectorPromptArguments
	missByFP := make(map[string]*types.ConnectorPromptArguments)
	dupMisses := make(map[string][]*types.ConnectorPromptArguments)

	for i, example := range c.examples {
		rendered := c.template.Render(example.Input)
		args := &types.ConnectorPromptArguments{
			PromptIndex:    i,
			Prompt:         example.Input,
			PreparedPrompt: rendered,
			Target:         example.Target,
			SystemPrompt:   systemPrompt,
		}
		prompts[i] = args

		fp := cache.Fingerprint(c.endpoint, c.recipe.ID, c.template.ID,
			c.dataset.ID, rendered, types.CanonicalTarget(example.Target))
		fingerprints[i] = fp

		if hit, ok := e.cache.Lookup(fp); ok && hit.PredictedResult != nil {
			args.SetPredicted(*hit.PredictedResult)
			args.Duration = hit.Duration
			continue
		}
		if _, ok := missByFP[fp]; ok {
			// Identical examples share a fingerprint; dispatch once and
			// copy the result over afterwards.
			dupMisses[fp] = append(dupMisses[fp], args)
			continue
		}
		missByFP[fp] = args
		misses = append(misses, args)
	}

	var batchErr error
	if len(misses) > 0 {
		batchErr = processor.ProcessBatch(ctx, registry.BenchmarkPromptBatch{
			RecipeID:   c.recipe.ID,
			DatasetID:  c.dataset.ID,
			TemplateID: c.template.ID,
			EndpointID: c.endpoint,
			Prompts:    misses,
		}, dispatcher.PredictBatch)
		for _, args := range misses {
			if args.Error != "" && args.PredictedResult == nil && types.IsCancelled(batchErr) {
				// Never cache prompts that were cancelled before dispatch;
				// the next run must re-issue them.
				continue
			}
			e.cache.Insert(types.CacheRecord{
				Fingerprint:     fingerprints[args.PromptIndex],
				EndpointID:      c.endpoint,
				RecipeID:        c.recipe.ID,
				PromptTemplate:  c.template.ID,
				DatasetID:       c.dataset.ID,
				Prompt:          args.PreparedPrompt,
				Target:          types.CanonicalTarget(args.Target),
				PredictedResult: args.PredictedResult,
				Duration:        args.Duration,
			})
		}
		for fp, dups := range dupMisses {
			rep := missByFP[fp]
			for _, args := range dups {
				args.PredictedResult = rep.PredictedResult
				args.Duration = rep.Duration
				args.Error = rep.Error
			}
		}
	}

	var errMsgs []string
	for _, args := range prompts {
		if args.Error != "" {
			errMsgs = append(errMsgs,
				c.recipe.ID+"/"+c.dataset.ID+"/"+c.template.ID+"@"+c.endpoint+": "+args.Error)
		}
	}

	if batchErr != nil {
		return nil, errMsgs, batchErr
	}

	promptTexts := make([]string, len(prompts))
	predicted := make([]*string, len(prompts))
	targets := make([]any, len(prompts))
	for i, args := range prompts {
		promptTexts[i] = args.PreparedPrompt
		predicted[i] = args.PredictedResult
		targets[i] = args.Target
	}

	metrics := make(map[string]*types.MetricResult, len(c.recipe.Metrics))
	for _, metricID := range c.recipe.Metrics {
		m := loaded[metricID]
		mr, err := m.GetResults(ctx, promptTexts, predicted, targets)
		if err != nil {
			errMsgs = append(errMsgs, "metric "+metricID+" failed: "+err.Error())
			continue
		}
		metrics[metricID] = mr
	}
	return metrics, errMsgs, nil
}

// grade computes the recipe's overall grade: the unweighted average of
// grading criteria scores across all cells, mapped onto the grading scale.
func (e *Engine) grade(recipe *types.Recipe, result *RecipeResult) {
	if recipe == nil {
		return
	}
	scale := recipe.Scale()
	if scale == nil {
		return
	}
	sum, count := 0.0, 0
	for _, byTemplate := range result.Evaluations {
		for _, byDataset := range byTemplate {
			for _, byMetric := range byDataset {
				for _, mr := range byMetric {
					for _, score := range mr.GradingCriteria {
						sum += score
						count++
					}
				}
			}
		}
	}
	if count == 0 {
		return
	}
	avg := sum / float64(count)
	result.GradeScore = &avg
	if band, ok := scale.BandFor(avg); ok {
		result.Grade = band
	}
}

func (e *Engine) emit(event types.ProgressEvent) {
	if e.progress != nil {
		e.progress(event)
	}
}
