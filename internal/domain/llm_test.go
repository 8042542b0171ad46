package domain

import "testing"

func TestProviderCatalogue(t *testing.T) {
	t.Parallel()

	for _, p := range Providers() {
		spec, ok := p.Spec()
		if !ok {
			t.Fatalf("provider %q missing from catalogue", p)
		}
		if !p.AllowsModel(spec.DefaultModel) {
			t.Errorf("provider %q default model %q is not in its model list", p, spec.DefaultModel)
		}
	}
	if ProviderChatGPT.DefaultModel() != "gpt-4o-mini" {
		t.Errorf("chatgpt default = %q", ProviderChatGPT.DefaultModel())
	}
	if ProviderChatGPT.AllowsModel("mistral:instruct") {
		t.Error("chatgpt must not allow an ollama-only model")
	}
}

func TestLLMConfigNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want LLMConfig
	}{
		{LLMConfig{Provider: ProviderChatGPT, Model: "gpt-4"}, LLMConfig{Provider: ProviderChatGPT, Model: "gpt-4"}},
		{LLMConfig{Provider: ProviderChatGPT, Model: "mistral:instruct"}, LLMConfig{Provider: ProviderChatGPT, Model: "gpt-4o-mini"}},
		{LLMConfig{Provider: "unknown", Model: "x"}, DefaultLLMConfig()},
		{LLMConfig{}, DefaultLLMConfig()},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(); got != tt.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestStageOutcome(t *testing.T) {
	t.Parallel()

	if StageSQLError.Outcome() != OutcomeFailure {
		t.Errorf("sql_error outcome = %q", StageSQLError.Outcome())
	}
	if StageCompleted.Outcome() != OutcomeSuccess {
		t.Errorf("completed outcome = %q", StageCompleted.Outcome())
	}
	if ProgressStage("nope").Valid() {
		t.Error("unknown stage reported valid")
	}
}
