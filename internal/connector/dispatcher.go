// Package connector mediates all remote model calls: per-endpoint rate
// limiting, bounded concurrency, retries with backoff, timeouts, and
// cooperative cancellation.
package connector

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Options tunes a Dispatcher. Zero values fall back to defaults matching
// the connector configuration defaults.
type Options struct {
	RetryAttempts  int
	InitialBackoff time.Duration
	CallTimeout    time.Duration
	Logger         *slog.Logger
}

func (o *Options) withDefaults() {
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 600 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Dispatcher serializes access to one endpoint. The token bucket releases
// max_calls_per_second permits refilling uniformly over a second (burst of
// one, so calls space out rather than cluster at window edges) and the
// semaphore admits at most max_concurrency in-flight calls.
type Dispatcher struct {
	endpoint *types.Endpoint
	conn     registry.Connector
	limiter  *rate.Limiter
	gate     *semaphore.Weighted
	opts     Options
}

// NewDispatcher builds a dispatcher for an endpoint over its connector
// instance.
func NewDispatcher(endpoint *types.Endpoint, conn registry.Connector, opts Options) *Dispatcher {
	opts.withDefaults()
	return &Dispatcher{
		endpoint: endpoint,
		conn:     conn,
		limiter:  rate.NewLimiter(rate.Limit(endpoint.MaxCallsPerSecond), 1),
		gate:     semaphore.NewWeighted(int64(endpoint.MaxConcurrency)),
		opts:     opts,
	}
}

// Endpoint returns the endpoint this dispatcher serves.
func (d *Dispatcher) Endpoint() *types.Endpoint {
	return d.endpoint
}

// Connector returns the underlying connector instance.
func (d *Dispatcher) Connector() registry.Connector {
	return d.conn
}

// Predict executes one prompt against the endpoint, filling PredictedResult,
// Duration, and Error on args. Queued calls that observe cancellation before
// acquiring a token are not issued; in-flight calls run to completion under
// their own timeout.
func (d *Dispatcher) Predict(ctx context.Context, args *types.ConnectorPromptArguments) error {
	if err := d.gate.Acquire(ctx, 1); err != nil {
		args.Error = "cancelled before dispatch"
		return types.WrapError(types.RUN_CANCELLED, "acquiring concurrency slot", err)
	}
	defer d.gate.Release(1)

	if err := d.limiter.Wait(ctx); err != nil {
		args.Error = "cancelled before dispatch"
		return types.WrapError(types.RUN_CANCELLED, "waiting for rate token", err)
	}

	start := time.Now()
	result, err := d.callWithRetry(ctx, args.PreparedPrompt, args.SystemPrompt)
	args.Duration = time.Since(start)
	if err != nil {
		args.Error = err.Error()
		return err
	}
	args.SetPredicted(result)
	return nil
}

// callWithRetry drives the retry policy: up to RetryAttempts attempts on
// transient errors with exponential backoff and jitter. Non-transient
// errors and cancellation surface immediately.
func (d *Dispatcher) callWithRetry(ctx context.Context, prompt, systemPrompt string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.InitialBackoff

	attempt := 0
	operation := func() (string, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
		defer cancel()

		result, err := d.conn.GetResponse(callCtx, prompt, systemPrompt)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(types.WrapError(types.RUN_CANCELLED, "call cancelled", ctx.Err()))
		}
		if callCtx.Err() == context.DeadlineExceeded {
			err = types.WrapRetryableError(types.CONNECTOR_TIMEOUT,
				"call exceeded timeout", err)
		}
		if !retryable(err) {
			return "", backoff.Permanent(err)
		}
		d.opts.Logger.Warn("transient connector failure, retrying",
			"endpoint", d.endpoint.ID, "attempt", attempt, "error", err)
		return "", err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(d.opts.RetryAttempts)))
}

// retryable classifies an error per the transient taxonomy. Coded errors
// carry their own retryability; uncoded errors are assumed to be transport
// failures and retried.
func retryable(err error) bool {
	if code := types.CodeOf(err); code != "" {
		return types.IsRetryable(err)
	}
	return true
}
