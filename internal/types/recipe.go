package types

import (
	"fmt"
	"math"
	"sort"
)

// GradingBand is an inclusive integer score range [Lo, Hi] within [0,100].
type GradingBand struct {
	Lo int
	Hi int
}

// GradingScale maps band labels to inclusive score ranges. When present on a
// recipe the bands must tile [0,100] without overlap.
type GradingScale map[string]GradingBand

// Validate checks that the bands cover [0,100] exactly once.
func (g GradingScale) Validate() error {
	if len(g) == 0 {
		return nil
	}
	type labelled struct {
		label string
		band  GradingBand
	}
	bands := make([]labelled, 0, len(g))
	for label, band := range g {
		if band.Lo < 0 || band.Hi > 100 || band.Lo > band.Hi {
			return NewError(OUT_OF_RANGE,
				fmt.Sprintf("grading band %q has invalid range [%d,%d]", label, band.Lo, band.Hi))
		}
		bands = append(bands, labelled{label, band})
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].band.Lo < bands[j].band.Lo })
	next := 0
	for _, lb := range bands {
		if lb.band.Lo != next {
			return NewError(VALIDATION_FAILED,
				fmt.Sprintf("grading bands do not tile [0,100]: gap or overlap at %d (band %q)", next, lb.label))
		}
		next = lb.band.Hi + 1
	}
	if next != 101 {
		return NewError(VALIDATION_FAILED,
			fmt.Sprintf("grading bands do not cover [0,100]: coverage stops at %d", next-1))
	}
	return nil
}

// BandFor returns the label of the band containing score. The score is
// rounded half-down to the nearest integer before lookup, so a score
// exactly between two bands resolves to the lower band's inclusive upper
// bound.
func (g GradingScale) BandFor(score float64) (string, bool) {
	if len(g) == 0 {
		return "", false
	}
	rounded := int(math.Ceil(score - 0.5))
	if rounded < 0 {
		rounded = 0
	}
	if rounded > 100 {
		rounded = 100
	}
	for label, band := range g {
		if rounded >= band.Lo && rounded <= band.Hi {
			return label, true
		}
	}
	return "", false
}

// Recipe is a declarative leaf test bundle: datasets crossed with optional
// prompt templates, scored by metrics, optionally graded.
type Recipe struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Tags            []string          `json:"tags"`
	Categories      []string          `json:"categories"`
	Datasets        []string          `json:"datasets"`
	PromptTemplates []string          `json:"prompt_templates,omitempty"`
	Metrics         []string          `json:"metrics"`
	AttackModules   []string          `json:"attack_modules,omitempty"`
	GradingScale    map[string][2]int `json:"grading_scale,omitempty"`
}

// Scale converts the JSON grading_scale representation into a GradingScale.
func (r *Recipe) Scale() GradingScale {
	if len(r.GradingScale) == 0 {
		return nil
	}
	scale := make(GradingScale, len(r.GradingScale))
	for label, pair := range r.GradingScale {
		scale[label] = GradingBand{Lo: pair[0], Hi: pair[1]}
	}
	return scale
}

// Validate checks the recipe for structural errors.
func (r *Recipe) Validate() error {
	if err := ValidateSlug(r.ID); err != nil {
		return err
	}
	if len(r.Datasets) == 0 {
		return NewError(VALIDATION_FAILED, "recipe "+r.ID+": at least one dataset is required")
	}
	if len(r.Metrics) == 0 {
		return NewError(VALIDATION_FAILED, "recipe "+r.ID+": at least one metric is required")
	}
	return r.Scale().Validate()
}

// Cookbook is an ordered composite of recipes.
type Cookbook struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Recipes     []string `json:"recipes"`
}

// Validate checks the cookbook for structural errors.
func (c *Cookbook) Validate() error {
	if err := ValidateSlug(c.ID); err != nil {
		return err
	}
	if len(c.Recipes) == 0 {
		return NewError(VALIDATION_FAILED, "cookbook "+c.ID+": at least one recipe is required")
	}
	return nil
}
