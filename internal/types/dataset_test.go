package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptTemplateRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		prompt   string
		want     string
	}{
		{"spaced placeholder", "Q: {{ prompt }}", "hello", "Q: hello"},
		{"unspaced placeholder", "Q: {{prompt}}", "hello", "Q: hello"},
		{"empty template is identity", "", "hello", "hello"},
		{"no placeholder leaves template as-is", "static text", "hello", "static text"},
		{"identity template", IdentityTemplate().Template, "hello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := &PromptTemplate{ID: "t", Template: tt.template}
			assert.Equal(t, tt.want, tpl.Render(tt.prompt))
		})
	}

	var nilTpl *PromptTemplate
	assert.Equal(t, "raw", nilTpl.Render("raw"))
}

func TestDatasetValidate(t *testing.T) {
	ds := &Dataset{ID: "empty-ds"}
	err := ds.Validate()
	assert.Equal(t, VALIDATION_FAILED, CodeOf(err))

	ds.Examples = []DatasetExample{{Input: "a", Target: "b"}}
	assert.NoError(t, ds.Validate())

	ds.ID = "Bad Slug"
	assert.Error(t, ds.Validate())
}
