package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecipe() *Recipe {
	return &Recipe{
		ID:       "bbq",
		Name:     "BBQ",
		Datasets: []string{"bbq-lite-age-ambiguous"},
		Metrics:  []string{"exactstrmatch"},
	}
}

func TestRecipeValidate(t *testing.T) {
	assert.NoError(t, validRecipe().Validate())

	r := validRecipe()
	r.Datasets = nil
	assert.Equal(t, VALIDATION_FAILED, CodeOf(r.Validate()))

	r = validRecipe()
	r.Metrics = nil
	assert.Equal(t, VALIDATION_FAILED, CodeOf(r.Validate()))

	r = validRecipe()
	r.ID = "Bad Slug"
	assert.Error(t, r.Validate())
}

func TestGradingScaleValidate(t *testing.T) {
	tests := []struct {
		name    string
		scale   GradingScale
		wantErr bool
	}{
		{
			name: "full tiling",
			scale: GradingScale{
				"E": {0, 19}, "D": {20, 39}, "C": {40, 59}, "B": {60, 79}, "A": {80, 100},
			},
		},
		{
			name:  "empty scale is valid",
			scale: nil,
		},
		{
			name: "gap",
			scale: GradingScale{
				"low": {0, 40}, "high": {60, 100},
			},
			wantErr: true,
		},
		{
			name: "overlap",
			scale: GradingScale{
				"low": {0, 50}, "high": {50, 100},
			},
			wantErr: true,
		},
		{
			name: "out of range",
			scale: GradingScale{
				"all": {0, 101},
			},
			wantErr: true,
		},
		{
			name: "inverted band",
			scale: GradingScale{
				"bad": {50, 10},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scale.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGradingScaleBandFor(t *testing.T) {
	scale := GradingScale{
		"E": {0, 19}, "D": {20, 39}, "C": {40, 59}, "B": {60, 79}, "A": {80, 100},
	}

	band, ok := scale.BandFor(50.0)
	require.True(t, ok)
	assert.Equal(t, "C", band)

	// Rounding: 19.4 stays in E, 19.6 rounds up into D, and the tie at
	// 19.5 resolves to the lower band.
	band, _ = scale.BandFor(19.4)
	assert.Equal(t, "E", band)
	band, _ = scale.BandFor(19.6)
	assert.Equal(t, "D", band)
	band, _ = scale.BandFor(19.5)
	assert.Equal(t, "E", band)
	band, _ = scale.BandFor(20.5)
	assert.Equal(t, "D", band)

	// Clamping at the extremes.
	band, _ = scale.BandFor(-3)
	assert.Equal(t, "E", band)
	band, _ = scale.BandFor(104)
	assert.Equal(t, "A", band)

	_, ok = GradingScale(nil).BandFor(10)
	assert.False(t, ok)
}

func TestGradingMonotonicity(t *testing.T) {
	scale := GradingScale{
		"E": {0, 19}, "D": {20, 39}, "C": {40, 59}, "B": {60, 79}, "A": {80, 100},
	}
	order := map[string]int{"E": 0, "D": 1, "C": 2, "B": 3, "A": 4}

	prev := -1
	for s := 0.0; s <= 100.0; s += 0.5 {
		band, ok := scale.BandFor(s)
		require.True(t, ok, "score %f has no band", s)
		assert.GreaterOrEqual(t, order[band], prev, "band order regressed at score %f", s)
		prev = order[band]
	}
}

func TestRecipeScaleConversion(t *testing.T) {
	r := validRecipe()
	r.GradingScale = map[string][2]int{"low": {0, 49}, "high": {50, 100}}

	scale := r.Scale()
	require.Len(t, scale, 2)
	assert.Equal(t, GradingBand{0, 49}, scale["low"])
	assert.NoError(t, scale.Validate())

	r.GradingScale = nil
	assert.Nil(t, r.Scale())
}

func TestCookbookValidate(t *testing.T) {
	cb := &Cookbook{ID: "chinese-safety-cookbook", Name: "Chinese Safety", Recipes: []string{"arc", "bbq"}}
	assert.NoError(t, cb.Validate())

	cb.Recipes = nil
	assert.Error(t, cb.Validate())
}

func TestEndpointValidate(t *testing.T) {
	ep := NewEndpoint("My Endpoint", "openai-connector", "https://api.example.com", "tok", 2, 10, "gpt-4", nil)
	assert.Equal(t, "my-endpoint", ep.ID)
	assert.NoError(t, ep.Validate())

	ep.MaxCallsPerSecond = 0
	assert.Equal(t, OUT_OF_RANGE, CodeOf(ep.Validate()))

	ep.MaxCallsPerSecond = 2
	ep.MaxConcurrency = -1
	assert.Equal(t, OUT_OF_RANGE, CodeOf(ep.Validate()))
}

func TestCanonicalTarget(t *testing.T) {
	assert.Equal(t, "yes", CanonicalTarget("yes"))
	assert.Equal(t, "null", CanonicalTarget(nil))
	assert.Equal(t, `{"a":1,"b":2}`, CanonicalTarget(map[string]any{"b": 2, "a": 1}))
	assert.Equal(t, "42", CanonicalTarget(42))
}

func TestMetricResultValidate(t *testing.T) {
	r := &MetricResult{NumericScores: map[string]float64{"accuracy": 50}}
	assert.NoError(t, r.Validate())

	r.GradingCriteria = map[string]float64{"accuracy": 120}
	assert.Equal(t, OUT_OF_RANGE, CodeOf(r.Validate()))

	empty := &MetricResult{}
	assert.Error(t, empty.Validate())
}
