package benchmark

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

func exampleSet(n int) []types.DatasetExample {
	return manyExamples(n)
}

func TestRequestedCount(t *testing.T) {
	dataset := &types.Dataset{ID: "ds", Examples: exampleSet(10)}

	tests := []struct {
		name string
		opts RunOptions
		want int
	}{
		{"default takes all", RunOptions{}, 10},
		{"explicit count", RunOptions{NumPrompts: 4}, 4},
		{"count capped at dataset size", RunOptions{NumPrompts: 50}, 10},
		{"percentage", RunOptions{PromptPct: 50}, 5},
		{"percentage floors to at least one", RunOptions{PromptPct: 1}, 1},
		{"count wins over percentage", RunOptions{NumPrompts: 3, PromptPct: 90}, 3},
		{"full percentage takes all", RunOptions{PromptPct: 100}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, requestedCount(dataset, tt.opts))
		})
	}
}

func TestSelectExamplesFirstN(t *testing.T) {
	examples := exampleSet(10)
	subset := selectExamples(examples, 3, RunOptions{})
	assert.Equal(t, examples[:3], subset)
}

func TestSelectExamplesSeededIsDeterministic(t *testing.T) {
	examples := exampleSet(20)
	opts := RunOptions{RandomSeed: 42, HasSeed: true}

	first := selectExamples(examples, 5, opts)
	second := selectExamples(examples, 5, opts)
	assert.Equal(t, first, second, "same seed yields the same subset")

	other := selectExamples(examples, 5, RunOptions{RandomSeed: 43, HasSeed: true})
	assert.NotEqual(t, first, other, "different seed yields a different subset")
}

func TestSelectExamplesSeededKeepsDatasetOrder(t *testing.T) {
	examples := exampleSet(20)
	subset := selectExamples(examples, 6, RunOptions{RandomSeed: 7, HasSeed: true})

	positions := make(map[string]int, len(examples))
	for i, e := range examples {
		positions[e.Input] = i
	}
	prev := -1
	for _, e := range subset {
		assert.Greater(t, positions[e.Input], prev)
		prev = positions[e.Input]
	}
}

