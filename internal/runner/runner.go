// Package runner owns the lifecycle and concurrency boundary of a Moonshot
// runner: the descriptor in the runners directory, the per-runner run
// database, the connector pool, and the two embedded engines.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aiverify-foundation/moonshot-sub003/internal/benchmark"
	"github.com/aiverify-foundation/moonshot-sub003/internal/cache"
	"github.com/aiverify-foundation/moonshot-sub003/internal/config"
	"github.com/aiverify-foundation/moonshot-sub003/internal/connector"
	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/session"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Runner binds a descriptor to its run database and engines. At most one
// run_* operation executes at a time; concurrent calls fail with Busy.
type Runner struct {
	cfg      *config.Config
	store    *storage.ObjectStore
	reg      *registry.Registry
	args     *types.RunnerArguments
	db       *storage.DB
	pool     *connector.Pool
	cache    *cache.Cache
	runDAO   storage.RunDAO
	session  *session.Engine
	progress types.ProgressFunc
	logger   *slog.Logger

	busy      atomic.Bool
	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
	closed    bool
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner)

// WithLogger sets the runner's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithProgress sets the progress callback forwarded to both engines.
// Callbacks run on the goroutine driving the run and must not block.
func WithProgress(fn types.ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// Create slugifies the name into the runner id, fails when the descriptor
// already exists, creates the run database, and writes the descriptor.
func Create(ctx context.Context, cfg *config.Config, store *storage.ObjectStore, reg *registry.Registry, name, description string, endpoints []string, opts ...Option) (*Runner, error) {
	id := types.Slugify(name)
	args := &types.RunnerArguments{
		ID:           id,
		Name:         name,
		Description:  description,
		Endpoints:    endpoints,
		DatabaseFile: filepath.Join(cfg.Dirs.Databases, id+".db"),
		CreatedDate:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	exists, err := store.Exists(storage.CategoryRunners, id, storage.ExtJSON)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, types.NewError(types.ALREADY_EXISTS, "runner "+id+" already exists")
	}

	r, err := open(ctx, cfg, store, reg, args, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Create(storage.CategoryRunners, id, args); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Load reads the descriptor and opens the run database; both must already
// exist.
func Load(ctx context.Context, cfg *config.Config, store *storage.ObjectStore, reg *registry.Registry, id string, opts ...Option) (*Runner, error) {
	args := new(types.RunnerArguments)
	if err := store.Read(storage.CategoryRunners, id, args); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(args.DatabaseFile); err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.NOT_FOUND,
				"run database for runner "+id+" does not exist")
		}
		return nil, types.WrapError(types.IO_FAILED, "stat "+args.DatabaseFile, err)
	}
	return open(ctx, cfg, store, reg, args, opts...)
}

// open wires the run database, DAOs, cache, connector pool, and session
// engine of a runner.
func open(ctx context.Context, cfg *config.Config, store *storage.ObjectStore, reg *registry.Registry, args *types.RunnerArguments, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		store:  store,
		reg:    reg,
		args:   args,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	db, err := storage.OpenDB(args.DatabaseFile)
	if err != nil {
		return nil, err
	}
	r.db = db
	r.runDAO = storage.NewRunDAO(db)
	if err := r.runDAO.CreateTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	r.cache, err = cache.New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	r.pool, err = connector.NewPool(store, reg, args.Endpoints, connector.Options{
		RetryAttempts:  cfg.Connector.RetryAttempts,
		InitialBackoff: cfg.Connector.InitialBackoff,
		CallTimeout:    cfg.Connector.CallTimeout,
		Logger:         r.logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	r.session = session.NewEngine(store, reg, r.pool, db, args.ID, args.Endpoints,
		session.WithLogger(r.logger), session.WithProgress(r.progress))
	if err := r.session.Open(ctx); err != nil {
		r.pool.Close()
		db.Close()
		return nil, err
	}
	return r, nil
}

// ID returns the runner's identifier slug.
func (r *Runner) ID() string { return r.args.ID }

// Arguments returns a copy of the runner descriptor.
func (r *Runner) Arguments() types.RunnerArguments {
	out := *r.args
	out.Endpoints = append([]string(nil), r.args.Endpoints...)
	return out
}

// Session exposes the red-teaming session engine for configuration updates
// and history reads.
func (r *Runner) Session() *session.Engine { return r.session }

// Runs lists every persisted run record of this runner.
func (r *Runner) Runs(ctx context.Context) ([]types.RunRecord, error) {
	return r.runDAO.ListRuns(ctx)
}

// acquire claims the single run slot.
func (r *Runner) acquire(ctx context.Context) (context.Context, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, types.NewError(types.RUNNER_BUSY,
			"runner "+r.args.ID+" already has a run in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancelRun = cancel
	r.cancelMu.Unlock()
	return runCtx, nil
}

// release frees the run slot.
func (r *Runner) release() {
	r.cancelMu.Lock()
	if r.cancelRun != nil {
		r.cancelRun()
		r.cancelRun = nil
	}
	r.cancelMu.Unlock()
	r.busy.Store(false)
}

// Cancel requests cooperative cancellation of the in-flight run. It is
// idempotent and a no-op when nothing is running.
func (r *Runner) Cancel() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if r.cancelRun != nil {
		r.cancelRun()
	}
}

// RunRecipes evaluates recipes against the runner's endpoints.
func (r *Runner) RunRecipes(ctx context.Context, opts benchmark.RunOptions) (*benchmark.Result, error) {
	opts.Cookbooks = nil
	if len(opts.Recipes) == 0 {
		return nil, types.NewError(types.VALIDATION_FAILED, "at least one recipe is required")
	}
	return r.runBenchmark(ctx, opts)
}

// RunCookbooks evaluates cookbooks, expanded through their recipes.
func (r *Runner) RunCookbooks(ctx context.Context, opts benchmark.RunOptions) (*benchmark.Result, error) {
	opts.Recipes = nil
	if len(opts.Cookbooks) == 0 {
		return nil, types.NewError(types.VALIDATION_FAILED, "at least one cookbook is required")
	}
	return r.runBenchmark(ctx, opts)
}

func (r *Runner) runBenchmark(ctx context.Context, opts benchmark.RunOptions) (*benchmark.Result, error) {
	runCtx, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.release()

	record, err := r.insertRun(runCtx, types.RunnerTypeBenchmark, opts)
	if err != nil {
		return nil, err
	}

	eng := benchmark.NewEngine(r.store, r.reg, r.pool, r.cache, r.args.ID,
		benchmark.WithLogger(r.logger), benchmark.WithProgress(r.progress))
	start := time.Now()
	result, errMsgs, runErr := eng.Run(runCtx, opts)
	end := time.Now()

	var resultsFile string
	if runErr == nil {
		resultsFile, err = benchmark.WriteResultFile(r.store, r.reg, r.args.ID,
			r.args.Endpoints, opts, result, start, end)
		if err != nil {
			errMsgs = append(errMsgs, err.Error())
			runErr = err
		}
	}

	record.ResultsFile = resultsFile
	record.ErrorMessages = errMsgs
	if raw, jerr := json.Marshal(result); jerr == nil {
		record.RawRuns = raw
	}
	if err := r.finishRun(record, start, end, runErr); err != nil {
		return result, err
	}
	return result, runErr
}

// RedTeamArgs selects the red-teaming mode: automated when attack
// strategies are present, manual when a prompt is supplied.
type RedTeamArgs struct {
	ManualPrompt     string                   `json:"manual_prompt,omitempty"`
	AttackStrategies []session.AttackStrategy `json:"attack_strategies,omitempty"`
}

// RunRedTeaming dispatches a red-teaming round, creating the session on
// first use and resuming it afterwards.
func (r *Runner) RunRedTeaming(ctx context.Context, args RedTeamArgs) ([]types.ConnectorPromptArguments, error) {
	if len(args.AttackStrategies) == 0 && args.ManualPrompt == "" {
		return nil, types.NewError(types.VALIDATION_FAILED,
			"either a manual prompt or attack strategies are required")
	}

	runCtx, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.release()

	record, err := r.insertRun(runCtx, types.RunnerTypeRedTeam, args)
	if err != nil {
		return nil, err
	}
	if _, err := r.session.CreateSession(runCtx); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		results []types.ConnectorPromptArguments
		runErr  error
	)
	if len(args.AttackStrategies) > 0 {
		results, runErr = r.session.RunAutomated(runCtx, args.AttackStrategies)
	} else {
		results, runErr = r.session.SendPrompt(runCtx, args.ManualPrompt)
	}
	end := time.Now()

	if runErr != nil {
		record.ErrorMessages = []string{runErr.Error()}
		if types.IsCancelled(runErr) {
			record.ErrorMessages = []string{"cancelled"}
		}
	}
	if raw, jerr := json.Marshal(results); jerr == nil {
		record.RawRuns = raw
	}
	if err := r.finishRun(record, start, end, runErr); err != nil {
		return results, err
	}
	return results, runErr
}

// insertRun persists the pending run record before any dispatch happens.
func (r *Runner) insertRun(ctx context.Context, runnerType types.RunnerType, args any) (*types.RunRecord, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "serializing run arguments", err)
	}
	record := &types.RunRecord{
		RunnerID:   r.args.ID,
		RunnerType: runnerType,
		RunnerArgs: raw,
		Endpoints:  r.args.Endpoints,
		StartTime:  time.Now().UTC(),
		Status:     types.RunStatusRunning,
	}
	if err := r.runDAO.InsertRun(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// finishRun flushes the cache and rewrites the run record under the
// cancellation grace window. A cancelled run that cannot persist within the
// grace period is fatal.
func (r *Runner) finishRun(record *types.RunRecord, start, end time.Time, runErr error) error {
	graceCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Runner.CancelGrace)
	defer cancel()

	record.EndTime = end.UTC()
	record.Duration = end.Sub(start).Seconds()
	switch {
	case runErr == nil:
		record.Status = types.RunStatusCompleted
	case types.IsCancelled(runErr):
		record.Status = types.RunStatusCancelled
	default:
		record.Status = types.RunStatusError
	}

	var persistErr error
	if err := r.cache.Flush(graceCtx); err != nil {
		persistErr = err
	}
	if err := r.runDAO.UpdateRun(graceCtx, record); err != nil && persistErr == nil {
		persistErr = err
	}
	if persistErr != nil {
		if graceCtx.Err() != nil {
			return types.WrapError(types.CANCEL_TIMED_OUT,
				"run failed to persist within the cancellation grace period", persistErr)
		}
		return persistErr
	}

	r.emit(types.ProgressEvent{
		RunnerID:        r.args.ID,
		RunnerType:      record.RunnerType,
		CurrentDuration: end.Sub(start),
		CurrentStatus:   record.Status,
		CurrentError:    firstOrEmpty(record.ErrorMessages),
	})
	return nil
}

func firstOrEmpty(msgs []string) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0]
}

func (r *Runner) emit(event types.ProgressEvent) {
	if r.progress != nil {
		r.progress(event)
	}
}

// Close flushes the cache, closes the run database, and closes every
// connector. Safe to call more than once.
func (r *Runner) Close() error {
	r.cancelMu.Lock()
	if r.closed {
		r.cancelMu.Unlock()
		return nil
	}
	r.closed = true
	r.cancelMu.Unlock()

	flushCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Runner.CancelGrace)
	defer cancel()
	var firstErr error
	if err := r.cache.Flush(flushCtx); err != nil {
		firstErr = err
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	r.pool.Close()
	return firstErr
}
