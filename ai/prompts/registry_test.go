package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRender(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", "v1", "Hello {{.Name}}, you asked: {{.Query}}"))

	out, err := r.Render("greet", map[string]any{"Name": "Ada", "Query": "top posts"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, you asked: top posts", out)
}

func TestRenderMissingVariableIsZero(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", "v1", "Hello {{.Name}}!"))

	// missingkey=zero: absent variables render as the zero value rather
	// than failing the whole prompt.
	out, err := r.Render("greet", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hello <no value>!", out)
}

func TestRenderUnknownPrompt(t *testing.T) {
	r := NewRegistry()
	_, err := r.Render("nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRegisterRejectsBadTemplate(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register("broken", "v1", "Hello {{.Name"))
}

func TestReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("greet", "v1", "one"))
	require.NoError(t, r.Register("greet", "v2", "two"))

	out, err := r.Render("greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "two", out)
	assert.Len(t, r.List(), 1)
}

func TestDefaultRegistryHasAllPipelinePrompts(t *testing.T) {
	r := NewDefaultRegistry()

	names := []string{
		PromptPlan, PromptSQLGenerate, PromptSQLReview,
		PromptInterpret, PromptInterpretScore, PromptFormatResponse,
	}
	for _, name := range names {
		out, err := r.Render(name, map[string]any{"Query": "q"})
		require.NoError(t, err, name)
		assert.NotEmpty(t, out, name)
	}
	assert.Len(t, r.List(), len(names))
}
