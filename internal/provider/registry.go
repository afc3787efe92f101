package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/paseohq/paseo/internal/config"
)

// Registry holds the configured chat providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ChatProvider
	defaults  config.AgentsConfig
}

// NewRegistry builds the provider set from config. Providers without an
// API key are left out; a Mock is always registered for tests and dry runs.
func NewRegistry(cfg config.Config) *Registry {
	r := &Registry{
		providers: make(map[string]ChatProvider),
		defaults:  cfg.Agents,
	}
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		r.providers["anthropic"] = NewAnthropic(key, AnthropicOptions{
			BaseURL:      cfg.Providers.Anthropic.BaseURL,
			Version:      cfg.Providers.Anthropic.Version,
			DefaultModel: cfg.Agents.DefaultModel,
		})
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		r.providers["openai"] = NewOpenAI(key, OpenAIOptions{
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
	}
	r.providers["mock"] = NewMock(MockRound{Text: "ok"})
	return r
}

// Register adds or replaces a provider (used by tests).
func (r *Registry) Register(p ChatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves a provider by name; empty name means the configured default.
func (r *Registry) Get(name string) (ChatProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults.DefaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return p, nil
}

// Names lists configured providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheapModel returns the provider+model used for metadata generation:
// the configured cheap model on the default provider, falling back to the
// provider's own default.
func (r *Registry) CheapModel() (ChatProvider, string, error) {
	p, err := r.Get("")
	if err != nil {
		return nil, "", err
	}
	model := r.defaults.CheapModel
	if model == "" {
		model = p.DefaultModel()
	}
	return p, model, nil
}

// AllModels aggregates ListModels across providers (optionally one).
func (r *Registry) AllModels(ctx context.Context, providerName string) (map[string][]Model, error) {
	r.mu.RLock()
	providers := make(map[string]ChatProvider, len(r.providers))
	for name, p := range r.providers {
		if providerName != "" && name != providerName {
			continue
		}
		providers[name] = p
	}
	r.mu.RUnlock()

	if providerName != "" && len(providers) == 0 {
		return nil, fmt.Errorf("provider %q is not configured", providerName)
	}
	out := make(map[string][]Model, len(providers))
	for name, p := range providers {
		models, err := p.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s models: %w", name, err)
		}
		out[name] = models
	}
	return out, nil
}
