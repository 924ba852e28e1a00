package prompt

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnknownModel is returned for a model name missing from the registry.
var ErrUnknownModel = eris.New("unknown model")

// Variant is the calling convention a model accepts.
type Variant string

const (
	// VariantCompletion takes a single prompt string.
	VariantCompletion Variant = "completion"
	// VariantChat takes role/content messages.
	VariantChat Variant = "chat"
	// VariantChatJSON is a chat model that also supports a strict JSON
	// response mode.
	VariantChatJSON Variant = "chat_json"
)

// Provider names the API that serves a model.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ModelSpec describes how to call one model.
type ModelSpec struct {
	Name     string   `mapstructure:"name"`
	Variant  Variant  `mapstructure:"variant"`
	Provider Provider `mapstructure:"provider"`
}

// Registry maps model names to their specs.
type Registry map[string]ModelSpec

// DefaultRegistry returns the models the pipeline knows how to call.
func DefaultRegistry() Registry {
	r := Registry{}
	for _, s := range []ModelSpec{
		{Name: "text-davinci-003", Variant: VariantCompletion, Provider: ProviderOpenAI},
		{Name: "gpt-3.5-turbo", Variant: VariantChat, Provider: ProviderOpenAI},
		{Name: "gpt-4", Variant: VariantChat, Provider: ProviderOpenAI},
		{Name: "gpt-4-1106-preview", Variant: VariantChatJSON, Provider: ProviderOpenAI},
		{Name: "claude-haiku-4-5-20251001", Variant: VariantChat, Provider: ProviderAnthropic},
		{Name: "claude-sonnet-4-5-20250929", Variant: VariantChat, Provider: ProviderAnthropic},
	} {
		r[s.Name] = s
	}
	return r
}

// Register adds or replaces a model spec. Provider defaults to anthropic for
// claude-* names and openai otherwise.
func (r Registry) Register(s ModelSpec) error {
	switch s.Variant {
	case VariantCompletion, VariantChat, VariantChatJSON:
	default:
		return eris.Errorf("prompt: model %q has unknown variant %q", s.Name, s.Variant)
	}
	if s.Provider == "" {
		s.Provider = ProviderOpenAI
		if strings.HasPrefix(s.Name, "claude-") {
			s.Provider = ProviderAnthropic
		}
	}
	r[s.Name] = s
	return nil
}

// Lookup returns the spec for model.
func (r Registry) Lookup(model string) (ModelSpec, error) {
	s, ok := r[model]
	if !ok {
		return ModelSpec{}, eris.Wrapf(ErrUnknownModel, "model %q", model)
	}
	return s, nil
}
