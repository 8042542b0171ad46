package domain

import "slices"

// Provider is the user-facing identifier of a language-model backend.
type Provider string

const (
	// ProviderOllama runs models locally through Ollama.
	ProviderOllama Provider = "ollama"
	// ProviderChatGPT is the hosted OpenAI offering.
	ProviderChatGPT Provider = "chatgpt"
)

// ProviderSpec describes the models a provider accepts.
type ProviderSpec struct {
	Label        string   `json:"label"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
}

var providerOrder = []Provider{ProviderOllama, ProviderChatGPT}

var providerSpecs = map[Provider]ProviderSpec{
	ProviderOllama: {
		Label:        "Ollama",
		Models:       []string{"mistral:instruct"},
		DefaultModel: "mistral:instruct",
	},
	ProviderChatGPT: {
		Label:        "ChatGPT",
		Models:       []string{"gpt-4o-mini", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"},
		DefaultModel: "gpt-4o-mini",
	},
}

// Providers returns all known providers in display order.
func Providers() []Provider {
	return slices.Clone(providerOrder)
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	_, ok := providerSpecs[p]
	return ok
}

// Spec returns the provider's model catalogue.
func (p Provider) Spec() (ProviderSpec, bool) {
	spec, ok := providerSpecs[p]
	if !ok {
		return ProviderSpec{}, false
	}
	spec.Models = slices.Clone(spec.Models)
	return spec, true
}

// Label returns the display name, falling back to the raw identifier.
func (p Provider) Label() string {
	if spec, ok := providerSpecs[p]; ok {
		return spec.Label
	}
	return string(p)
}

// DefaultModel returns the model selected when switching to p.
func (p Provider) DefaultModel() string {
	return providerSpecs[p].DefaultModel
}

// AllowsModel reports whether model is offered by p.
func (p Provider) AllowsModel(model string) bool {
	spec, ok := providerSpecs[p]
	return ok && slices.Contains(spec.Models, model)
}

// LLMConfig is the selected provider/model pair.
type LLMConfig struct {
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
}

// DefaultLLMConfig returns the configuration used before the user picks one.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{Provider: ProviderOllama, Model: ProviderOllama.DefaultModel()}
}

// Valid reports whether the model belongs to the provider.
func (c LLMConfig) Valid() bool {
	return c.Provider.AllowsModel(c.Model)
}

// Normalize repairs an inconsistent pair. An unknown provider yields the
// default configuration; an unknown model yields the provider's default model.
func (c LLMConfig) Normalize() LLMConfig {
	if !c.Provider.Valid() {
		return DefaultLLMConfig()
	}
	if !c.Provider.AllowsModel(c.Model) {
		c.Model = c.Provider.DefaultModel()
	}
	return c
}
