package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverify-foundation/moonshot-sub003/internal/config"
	"github.com/aiverify-foundation/moonshot-sub003/internal/connector"
	"github.com/aiverify-foundation/moonshot-sub003/internal/metric"
	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// echoConnector answers with a marker of what it was sent.
type echoConnector struct {
	id string
}

func (c *echoConnector) ID() string { return c.id }
func (c *echoConnector) GetResponse(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return "echo:" + prompt, nil
}
func (c *echoConnector) Close() error { return nil }

type harness struct {
	cfg    *config.Config
	store  *storage.ObjectStore
	reg    *registry.Registry
	pool   *connector.Pool
	db     *storage.DB
	dbPath string
}

func newHarness(t *testing.T, endpoints ...string) *harness {
	t.Helper()
	t.Setenv("MOONSHOT_HOME", t.TempDir())
	cfg := config.DefaultConfig()
	store := storage.NewObjectStore(cfg)

	reg := registry.New(map[registry.Category]string{
		registry.CategoryConnector:       cfg.Dirs.Connectors,
		registry.CategoryMetric:          cfg.Dirs.Metrics,
		registry.CategoryContextStrategy: cfg.Dirs.ContextStrategy,
		registry.CategoryAttackModule:    cfg.Dirs.AttackModules,
	})
	require.NoError(t, metric.RegisterBuiltins(reg))
	require.NoError(t, RegisterBuiltins(reg))

	require.NoError(t, reg.WriteManifest(registry.CategoryConnector,
		registry.ModuleMetadata{ID: "echo-connector", Name: "Echo"}))
	reg.RegisterConnector("echo-connector", func(ep *types.Endpoint) (registry.Connector, error) {
		return &echoConnector{id: ep.ID}, nil
	})

	if len(endpoints) == 0 {
		endpoints = []string{"ep-one"}
	}
	for _, id := range endpoints {
		require.NoError(t, store.Create(storage.CategoryConnectorEndpoints, id, &types.Endpoint{
			ID: id, Name: id, ConnectorType: "echo-connector",
			MaxCallsPerSecond: 100, MaxConcurrency: 10,
		}))
	}

	pool, err := connector.NewPool(store, reg, endpoints, connector.Options{
		RetryAttempts: 1, InitialBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	dbPath := filepath.Join(cfg.Dirs.Databases, "redteam.db")
	db, err := storage.OpenDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &harness{cfg: cfg, store: store, reg: reg, pool: pool, db: db, dbPath: dbPath}
}

func (h *harness) engine(t *testing.T, endpoints ...string) *Engine {
	t.Helper()
	if len(endpoints) == 0 {
		endpoints = []string{"ep-one"}
	}
	eng := NewEngine(h.store, h.reg, h.pool, h.db, "rt-runner", endpoints)
	require.NoError(t, eng.Open(context.Background()))
	return eng
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()

	meta, err := eng.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, meta.State)
	assert.Equal(t, []string{"ep-one"}, meta.Endpoints)
	assert.Equal(t, DefaultCSNumOfPrevPrompts, meta.CSNumOfPrevPrompts)

	require.NoError(t, eng.UpdateSystemPrompt(ctx, "keep me"))
	again, err := eng.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "keep me", again.SystemPrompt, "existing session is returned unchanged")
}

func TestUpdatesRequireActiveSession(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)

	err := eng.UpdateSystemPrompt(context.Background(), "nope")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestUpdateRejectsUnknownModules(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)

	err = eng.UpdateContextStrategy(ctx, "no-such-strategy")
	assert.Equal(t, types.MODULE_NOT_FOUND, types.CodeOf(err))

	err = eng.UpdateAttackModule(ctx, "no-such-module")
	assert.Equal(t, types.MODULE_NOT_FOUND, types.CodeOf(err))

	err = eng.UpdateMetric(ctx, "no-such-metric")
	assert.Equal(t, types.MODULE_NOT_FOUND, types.CodeOf(err))

	err = eng.UpdatePromptTemplate(ctx, "no-such-template")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestManualPipelineWithContextStrategy(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.UpdateContextStrategy(ctx, AddPreviousPromptID))
	require.NoError(t, eng.UpdateCSNumOfPrevPrompts(ctx, 2))
	require.NoError(t, eng.UpdateSystemPrompt(ctx, "S:"))

	first, err := eng.SendPrompt(ctx, "a")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "S:a", first[0].PreparedPrompt)

	second, err := eng.SendPrompt(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "S:"+"S:a"+"b", second[0].PreparedPrompt)

	third, err := eng.SendPrompt(ctx, "c")
	require.NoError(t, err)
	// System prompt, then the last two prepared prompts, then the new prompt.
	want := "S:" + first[0].PreparedPrompt + second[0].PreparedPrompt + "c"
	assert.Equal(t, want, third[0].PreparedPrompt)

	history, err := eng.ChatHistory(ctx, "ep-one")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, AddPreviousPromptID, history[2].ContextStrategy)
	assert.Equal(t, "echo:"+want, history[2].Predicted())
}

func TestManualPipelineRecordsMetricScore(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.UpdateMetric(ctx, metric.ExactStrMatchID))

	_, err = eng.SendPrompt(ctx, "hello")
	require.NoError(t, err)

	history, err := eng.ChatHistory(ctx, "ep-one")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, metric.ExactStrMatchID, history[0].Metric)
	assert.Contains(t, history[0].MetricScore, "accuracy")
}

func TestAutomatedRedTeaming(t *testing.T) {
	h := newHarness(t, "ep-one", "ep-two")
	eng := h.engine(t, "ep-one", "ep-two")
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)

	results, err := eng.RunAutomated(ctx, []AttackStrategy{{
		AttackModuleID: SampleAttackModuleID,
		Prompt:         "seed",
	}})
	require.NoError(t, err)

	// Five iterations across two endpoints.
	assert.Len(t, results, 10)

	for _, ep := range []string{"ep-one", "ep-two"} {
		history, err := eng.ChatHistory(ctx, ep)
		require.NoError(t, err)
		require.Len(t, history, 5, "five chat records for %s", ep)
		for i := 1; i < len(history); i++ {
			assert.False(t, history[i].PromptTime.Before(history[i-1].PromptTime),
				"records ordered by prompt time")
		}
		assert.Equal(t, SampleAttackModuleID, history[0].AttackModule)
	}
}

func TestAutomatedIterationCount(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)

	results, err := eng.RunAutomated(ctx, []AttackStrategy{{
		AttackModuleID: SampleAttackModuleID,
		Prompt:         "seed",
		Params:         map[string]any{"max_iterations": 2},
	}})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// The module feeds the previous answer back as the next prompt.
	assert.Equal(t, "seed", results[0].Prompt)
	assert.Equal(t, "echo:seed", results[1].Prompt)
}

func TestAutomatedCancellationReturnsAccumulated(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)

	// Cancel once two rounds have been recorded.
	go func() {
		for {
			history, _ := eng.ChatHistory(context.Background(), "ep-one")
			if len(history) >= 2 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	results, err := eng.RunAutomated(ctx, []AttackStrategy{{
		AttackModuleID: SampleAttackModuleID,
		Prompt:         "seed",
		Params:         map[string]any{"max_iterations": 1000},
	}})
	require.Error(t, err)
	assert.True(t, types.IsCancelled(err))
	assert.NotEmpty(t, results, "accumulated results survive cancellation")
	assert.Less(t, len(results), 1000)
}

func TestSessionPersistsAcrossReopen(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.UpdateContextStrategy(ctx, AddPreviousPromptID))
	require.NoError(t, eng.UpdateSystemPrompt(ctx, "persisted"))
	_, err = eng.SendPrompt(ctx, "before restart")
	require.NoError(t, err)

	require.NoError(t, h.db.Close())
	db, err := storage.OpenDB(h.dbPath)
	require.NoError(t, err)
	defer db.Close()

	reopened := NewEngine(h.store, h.reg, h.pool, db, "rt-runner", []string{"ep-one"})
	require.NoError(t, reopened.Open(ctx))

	meta, ok := reopened.Session()
	require.True(t, ok)
	assert.Equal(t, AddPreviousPromptID, meta.ContextStrategyID)
	assert.Equal(t, "persisted", meta.SystemPrompt)

	history, err := reopened.ChatHistory(ctx, "ep-one")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "before restart", history[0].Prompt)
}

func TestReopenWithForeignEndpointFails(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)
	_, err = eng.SendPrompt(ctx, "hello")
	require.NoError(t, err)

	other := NewEngine(h.store, h.reg, h.pool, h.db, "rt-runner", []string{"ep-other"})
	err = other.Open(ctx)
	assert.Equal(t, types.DB_SCHEMA_MISMATCH, types.CodeOf(err))
}

func TestDeleteSessionClearsHistory(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx)
	require.NoError(t, err)
	_, err = eng.SendPrompt(ctx, "hello")
	require.NoError(t, err)

	require.NoError(t, eng.DeleteSession(ctx))
	_, ok := eng.Session()
	assert.False(t, ok)

	history, err := eng.ChatHistory(ctx, "ep-one")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = eng.SendPrompt(ctx, "after delete")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}
