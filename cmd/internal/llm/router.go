package llm

import (
	"sync"

	"chatgate/cmd/internal/catalog"
)

// Factory builds a Provider for one catalog provider entry.
type Factory func(p catalog.Provider, apiKey string) (Provider, error)

// OpenAIFactory builds OpenAI-compatible providers.
func OpenAIFactory(p catalog.Provider, apiKey string) (Provider, error) {
	return NewOpenAIProvider(OpenAIConfig{APIKey: apiKey, BaseURL: p.BaseURL, MaxRetries: 2})
}

// Router hands out one cached Provider per catalog provider name.
type Router struct {
	catalog *catalog.Registry
	factory Factory

	mu    sync.Mutex
	cache map[string]Provider
}

// NewRouter constructs a Router. A nil factory uses OpenAIFactory.
func NewRouter(cat *catalog.Registry, factory Factory) *Router {
	if factory == nil {
		factory = OpenAIFactory
	}
	return &Router{catalog: cat, factory: factory, cache: make(map[string]Provider)}
}

// For returns the Provider serving model.
func (r *Router) For(model catalog.Model) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[model.Provider]; ok {
		return p, nil
	}
	def, ok := r.catalog.Provider(model.Provider)
	if !ok {
		return nil, ErrUnknownModel
	}
	key, ok := r.catalog.APIKey(model.Provider)
	if !ok {
		return nil, ErrNoCredentials
	}
	p, err := r.factory(def, key)
	if err != nil {
		return nil, err
	}
	r.cache[model.Provider] = p
	return p, nil
}
