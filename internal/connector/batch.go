package connector

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// PredictBatch submits all prompts to the dispatcher concurrently and
// returns them in submission order. Concurrency is bounded by the
// dispatcher's gate; ordering is restored by sorting on PromptIndex, which
// the caller assigns before submission.
//
// Per-prompt failures are recorded on the prompt's Error field and do not
// abort the batch; only cancellation stops submission of queued prompts.
func (d *Dispatcher) PredictBatch(ctx context.Context, prompts []*types.ConnectorPromptArguments) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range prompts {
		p := p
		g.Go(func() error {
			err := d.Predict(gctx, p)
			if err != nil && types.IsCancelled(err) {
				// Propagate cancellation so queued siblings stop; other
				// failures stay on the record.
				return err
			}
			return nil
		})
	}

	err := g.Wait()

	sort.Slice(prompts, func(i, j int) bool {
		return prompts[i].PromptIndex < prompts[j].PromptIndex
	})
	return err
}
