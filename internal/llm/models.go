package llm

import (
	"fmt"
	"strings"
)

// Model is a selectable vision model.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"` // google or openai
}

// Models lists the models offered for OCR.
var Models = []Model{
	{ID: "gemini-2.5-pro-preview-05-06", Name: "Gemini 2.5 Pro", Provider: "google"},
	{ID: "gemini-2.5-flash-preview-05-20", Name: "Gemini 2.5 Flash", Provider: "google"},
	{ID: "gemini-1.5-pro-latest", Name: "Gemini 1.5 Pro", Provider: "google"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: "openai"},
}

// LookupModel finds a catalogue model by ID.
func LookupModel(id string) (Model, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// OpenRouterModel maps a model selector to an OpenRouter model slug.
// Selectors that already carry a vendor prefix are passed through.
func OpenRouterModel(selector string) string {
	if strings.Contains(selector, "/") {
		return selector
	}
	if m, ok := LookupModel(selector); ok {
		return m.Provider + "/" + m.ID
	}
	return selector
}

// GeminiModel maps a model selector to a Gemini API model name.
func GeminiModel(selector string) (string, error) {
	name := strings.TrimPrefix(selector, "google/")
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("model %q is not a Gemini model", selector)
	}
	if m, ok := LookupModel(name); ok && m.Provider != "google" {
		return "", fmt.Errorf("model %q is served by %s, not Gemini", selector, m.Provider)
	}
	return name, nil
}
