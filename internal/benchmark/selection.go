package benchmark

import (
	"math/rand"
	"sort"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// requestedCount resolves the prompt selection inputs into the number of
// examples to take from one dataset: an explicit count wins over a
// percentage; zero means the whole dataset.
func requestedCount(dataset *types.Dataset, opts RunOptions) int {
	total := len(dataset.Examples)
	if opts.NumPrompts > 0 {
		if opts.NumPrompts < total {
			return opts.NumPrompts
		}
		return total
	}
	if opts.PromptPct > 0 && opts.PromptPct < 100 {
		n := total * opts.PromptPct / 100
		if n < 1 {
			n = 1
		}
		return n
	}
	return total
}

// selectExamples takes the first n examples, or a deterministic
// pseudo-random subset of size n when a seed is supplied. The subset keeps
// dataset order so result ordering stays stable.
func selectExamples(examples []types.DatasetExample, n int, opts RunOptions) []types.DatasetExample {
	if n >= len(examples) {
		return examples
	}
	if !opts.HasSeed {
		return examples[:n]
	}
	rng := rand.New(rand.NewSource(opts.RandomSeed))
	indices := rng.Perm(len(examples))[:n]
	sort.Ints(indices)
	subset := make([]types.DatasetExample, 0, n)
	for _, i := range indices {
		subset = append(subset, examples[i])
	}
	return subset
}
