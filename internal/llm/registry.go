package llm

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrUnknownModel means the requested identifier is not configured.
	ErrUnknownModel = errors.New("unknown model")
	// ErrCredentialMissing means the identifier is configured but the
	// provider credential is absent from the environment.
	ErrCredentialMissing = errors.New("provider credential missing")
)

type provider struct {
	// Model is the provider-side model name.
	Model string
	// BaseURL overrides the OpenAI endpoint for OpenAI-compatible providers.
	BaseURL string
	// KeyEnv names the environment variable holding the API key.
	KeyEnv string
}

// Registry maps accepted model identifiers to backend configurations. It is
// built once at startup and read-only afterwards, so it needs no locking.
type Registry struct {
	providers    map[string]provider
	defaultModel string
	getenv       func(string) string
}

// NewRegistry builds the static model mapping. defaultModel must be one of
// the configured identifiers.
func NewRegistry(defaultModel string) *Registry {
	return &Registry{
		providers: map[string]provider{
			"gpt-4o": {
				Model:  "gpt-4o",
				KeyEnv: "OPENAI_API_KEY",
			},
			"gpt-4o-mini": {
				Model:  "gpt-4o-mini",
				KeyEnv: "OPENAI_API_KEY",
			},
			"deepseek-chat": {
				Model:   "deepseek-chat",
				BaseURL: "https://api.deepseek.com/v1",
				KeyEnv:  "DEEPSEEK_API_KEY",
			},
		},
		defaultModel: defaultModel,
		getenv:       os.Getenv,
	}
}

// WithEnv overrides the environment lookup. Used in tests.
func (r *Registry) WithEnv(getenv func(string) string) *Registry {
	r.getenv = getenv
	return r
}

// Models lists the accepted identifiers.
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	return out
}

// Resolve maps a model identifier to a ready backend. An empty identifier
// selects the default. Resolution happens before any browser session is
// provisioned: a rejected model must not cost a browser allocation.
func (r *Registry) Resolve(id string) (Backend, error) {
	if id == "" {
		id = r.defaultModel
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	apiKey := r.getenv(p.KeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is not set for model %q", ErrCredentialMissing, p.KeyEnv, id)
	}
	return newOpenAIBackend(p.Model, p.BaseURL, apiKey), nil
}
