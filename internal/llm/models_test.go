package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRouterModel(t *testing.T) {
	tests := map[string]string{
		"gemini-2.5-flash-preview-05-20": "google/gemini-2.5-flash-preview-05-20",
		"gpt-4o-mini":                    "openai/gpt-4o-mini",
		"anthropic/claude-3.5-sonnet":    "anthropic/claude-3.5-sonnet",
		"some-unknown-model":             "some-unknown-model",
	}
	for in, want := range tests {
		assert.Equal(t, want, OpenRouterModel(in), in)
	}
}

func TestGeminiModel(t *testing.T) {
	name, err := GeminiModel("google/gemini-1.5-pro-latest")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro-latest", name)

	name, err = GeminiModel("gemini-2.5-pro-preview-05-06")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro-preview-05-06", name)

	_, err = GeminiModel("gpt-4o-mini")
	assert.Error(t, err)

	_, err = GeminiModel("openai/gpt-4o")
	assert.Error(t, err)
}

func TestLookupModel(t *testing.T) {
	m, ok := LookupModel("gpt-4o-mini")
	require.True(t, ok)
	assert.Equal(t, "openai", m.Provider)

	_, ok = LookupModel("nope")
	assert.False(t, ok)

	_, ok = LookupModel(defaultModel)
	assert.True(t, ok, "default model must be in the catalogue")
}
