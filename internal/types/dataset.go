package types

import "strings"

// DatasetExample is a single (input, expected target) pair. Targets are
// frequently strings but the format permits arbitrary JSON values.
type DatasetExample struct {
	Input  string `json:"input"`
	Target any    `json:"target"`
}

// Dataset is a named finite sequence of examples with provenance metadata.
// The example slice is loaded lazily by the object store; NumPrompts caches
// the declared count so listing datasets does not parse every example file.
type Dataset struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Examples    []DatasetExample `json:"examples"`
	NumPrompts  int              `json:"num_of_dataset_prompts"`
	CreatedDate string           `json:"created_date"`
	Reference   string           `json:"reference"`
	License     string           `json:"license"`
}

// Validate checks the dataset for structural errors.
func (d *Dataset) Validate() error {
	if err := ValidateSlug(d.ID); err != nil {
		return err
	}
	if len(d.Examples) == 0 {
		return NewError(VALIDATION_FAILED, "dataset "+d.ID+": at least one example is required")
	}
	return nil
}

// NoTemplateID is the identity prompt template sentinel used when a recipe
// declares no prompt templates. Rendering with it returns the raw prompt.
const NoTemplateID = "no-template"

// PromptTemplate wraps a textual template with a single {{ prompt }}
// substitution point.
type PromptTemplate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Template    string `json:"template"`
}

// Validate checks the prompt template for structural errors.
func (t *PromptTemplate) Validate() error {
	if err := ValidateSlug(t.ID); err != nil {
		return err
	}
	if t.Template == "" {
		return NewError(VALIDATION_FAILED, "prompt template "+t.ID+": template text is required")
	}
	return nil
}

// Render substitutes the prompt into the template's substitution point.
// Both spaced and unspaced placeholder spellings are accepted; an empty
// template is the identity.
func (t *PromptTemplate) Render(prompt string) string {
	if t == nil || t.Template == "" {
		return prompt
	}
	r := strings.NewReplacer("{{ prompt }}", prompt, "{{prompt}}", prompt)
	return r.Replace(t.Template)
}

// IdentityTemplate returns the no-template sentinel.
func IdentityTemplate() *PromptTemplate {
	return &PromptTemplate{
		ID:       NoTemplateID,
		Name:     "No Template",
		Template: "{{ prompt }}",
	}
}
