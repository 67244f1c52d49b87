package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// stubConnector is a scriptable in-memory connector.
type stubConnector struct {
	mu          sync.Mutex
	id          string
	latency     time.Duration
	respond     func(prompt string) (string, error)
	calls       int32
	inFlight    int32
	maxInFlight int32
	callTimes   []time.Time
	closed      bool
}

func (s *stubConnector) ID() string { return s.id }

func (s *stubConnector) GetResponse(ctx context.Context, prompt, systemPrompt string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&s.maxInFlight)
		if cur <= peak || atomic.CompareAndSwapInt32(&s.maxInFlight, peak, cur) {
			break
		}
	}
	s.mu.Lock()
	s.callTimes = append(s.callTimes, time.Now())
	s.mu.Unlock()

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.respond != nil {
		return s.respond(prompt)
	}
	return "yes", nil
}

func (s *stubConnector) Close() error {
	s.closed = true
	return nil
}

func testEndpoint(cps, conc int) *types.Endpoint {
	return &types.Endpoint{
		ID:                "stub-endpoint",
		ConnectorType:     "stub",
		MaxCallsPerSecond: cps,
		MaxConcurrency:    conc,
	}
}

func fastOptions() Options {
	return Options{RetryAttempts: 3, InitialBackoff: time.Millisecond, CallTimeout: 5 * time.Second}
}

func TestPredictFillsResult(t *testing.T) {
	stub := &stubConnector{id: "stub-endpoint"}
	d := NewDispatcher(testEndpoint(100, 10), stub, fastOptions())

	args := &types.ConnectorPromptArguments{PromptIndex: 0, Prompt: "A", PreparedPrompt: "A", Target: "yes"}
	require.NoError(t, d.Predict(context.Background(), args))
	assert.Equal(t, "yes", args.Predicted())
	assert.Greater(t, args.Duration, time.Duration(0))
	assert.Empty(t, args.Error)
}

func TestPredictRetriesTransient(t *testing.T) {
	var n int32
	stub := &stubConnector{id: "stub-endpoint", respond: func(string) (string, error) {
		if atomic.AddInt32(&n, 1) < 3 {
			return "", types.NewRetryableError(types.CONNECTOR_TRANSIENT, "flaky")
		}
		return "recovered", nil
	}}
	d := NewDispatcher(testEndpoint(100, 10), stub, fastOptions())

	args := &types.ConnectorPromptArguments{PreparedPrompt: "A"}
	require.NoError(t, d.Predict(context.Background(), args))
	assert.Equal(t, "recovered", args.Predicted())
	assert.Equal(t, int32(3), atomic.LoadInt32(&n))
}

func TestPredictNonTransientSurfacesImmediately(t *testing.T) {
	var n int32
	stub := &stubConnector{id: "stub-endpoint", respond: func(string) (string, error) {
		atomic.AddInt32(&n, 1)
		return "", types.NewError(types.CONNECTOR_REJECTED, "unauthorized")
	}}
	d := NewDispatcher(testEndpoint(100, 10), stub, fastOptions())

	args := &types.ConnectorPromptArguments{PreparedPrompt: "A"}
	err := d.Predict(context.Background(), args)
	require.Error(t, err)
	assert.Equal(t, types.CONNECTOR_REJECTED, types.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&n), "4xx must not retry")
	assert.Nil(t, args.PredictedResult)
	assert.NotEmpty(t, args.Error)
}

func TestPredictRetryLimitExhausted(t *testing.T) {
	var n int32
	stub := &stubConnector{id: "stub-endpoint", respond: func(string) (string, error) {
		atomic.AddInt32(&n, 1)
		return "", errors.New("connection reset")
	}}
	d := NewDispatcher(testEndpoint(100, 10), stub, fastOptions())

	args := &types.ConnectorPromptArguments{PreparedPrompt: "A"}
	err := d.Predict(context.Background(), args)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&n))
}

func TestPredictBatchPreservesOrder(t *testing.T) {
	stub := &stubConnector{id: "stub-endpoint", respond: func(prompt string) (string, error) {
		// Later prompts answer faster to scramble completion order.
		if prompt == "prompt-0" {
			time.Sleep(50 * time.Millisecond)
		}
		return "echo:" + prompt, nil
	}}
	d := NewDispatcher(testEndpoint(1000, 10), stub, fastOptions())

	prompts := make([]*types.ConnectorPromptArguments, 10)
	for i := range prompts {
		prompts[i] = &types.ConnectorPromptArguments{
			PromptIndex:    i,
			PreparedPrompt: fmt.Sprintf("prompt-%d", i),
		}
	}
	require.NoError(t, d.PredictBatch(context.Background(), prompts))

	for i, p := range prompts {
		assert.Equal(t, i, p.PromptIndex)
		assert.Equal(t, fmt.Sprintf("echo:prompt-%d", i), p.Predicted())
	}
}

func TestRateCompliance(t *testing.T) {
	if testing.Short() {
		t.Skip("timing sensitive")
	}
	stub := &stubConnector{id: "stub-endpoint"}
	// 2 calls/second, 10 concurrent, 8 prompts, zero latency: the token
	// bucket forces roughly 3.5s of wall clock.
	d := NewDispatcher(testEndpoint(2, 10), stub, fastOptions())

	prompts := make([]*types.ConnectorPromptArguments, 8)
	for i := range prompts {
		prompts[i] = &types.ConnectorPromptArguments{PromptIndex: i, PreparedPrompt: "p"}
	}

	start := time.Now()
	require.NoError(t, d.PredictBatch(context.Background(), prompts))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 3300*time.Millisecond)

	// No 1-second window may hold more than max_calls_per_second calls.
	stub.mu.Lock()
	times := append([]time.Time(nil), stub.callTimes...)
	stub.mu.Unlock()
	for i := range times {
		count := 0
		for j := i; j < len(times); j++ {
			if times[j].Sub(times[i]) < time.Second {
				count++
			}
		}
		assert.LessOrEqual(t, count, 2, "1-second window starting at call %d", i)
	}
}

func TestConcurrencyGate(t *testing.T) {
	stub := &stubConnector{id: "stub-endpoint", latency: 30 * time.Millisecond}
	d := NewDispatcher(testEndpoint(1000, 3), stub, fastOptions())

	prompts := make([]*types.ConnectorPromptArguments, 12)
	for i := range prompts {
		prompts[i] = &types.ConnectorPromptArguments{PromptIndex: i, PreparedPrompt: "p"}
	}
	require.NoError(t, d.PredictBatch(context.Background(), prompts))
	assert.LessOrEqual(t, atomic.LoadInt32(&stub.maxInFlight), int32(3))
}

func TestCancellationStopsQueuedCalls(t *testing.T) {
	stub := &stubConnector{id: "stub-endpoint", latency: 20 * time.Millisecond}
	d := NewDispatcher(testEndpoint(2, 1), stub, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	prompts := make([]*types.ConnectorPromptArguments, 20)
	for i := range prompts {
		prompts[i] = &types.ConnectorPromptArguments{PromptIndex: i, PreparedPrompt: "p"}
	}

	go func() {
		time.Sleep(600 * time.Millisecond)
		cancel()
	}()
	err := d.PredictBatch(ctx, prompts)
	require.Error(t, err)
	assert.True(t, types.IsCancelled(err))

	// Some calls were issued, but far fewer than 20: queued calls were
	// not dispatched after cancellation.
	calls := atomic.LoadInt32(&stub.calls)
	assert.Greater(t, calls, int32(0))
	assert.Less(t, calls, int32(20))
}
