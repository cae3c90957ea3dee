// Package catalog maps public model aliases to provider model identifiers.
//
// The alias set is closed: it is fixed at startup from a YAML file (or the built-in defaults) and
// unknown aliases resolve to the default, least-privileged one.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a models file is structurally wrong.
var ErrInvalidConfig = errors.New("catalog: invalid config")

// Model is one public alias.
type Model struct {
	Alias    string `yaml:"alias"`
	Provider string `yaml:"provider"`
	ModelID  string `yaml:"model"`
}

// Provider describes where a provider lives and which env var carries its key.
type Provider struct {
	Name      string `yaml:"-"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type fileConfig struct {
	Default   string              `yaml:"default"`
	Providers map[string]Provider `yaml:"providers"`
	Models    []Model             `yaml:"models"`
}

// defaultConfig is used when no models file is configured.
const defaultConfig = `
default: mini
providers:
  openai:
    api_key_env: OPENAI_API_KEY
models:
  - alias: mini
    provider: openai
    model: gpt-4o-mini
  - alias: pro
    provider: openai
    model: gpt-4.1
  - alias: max
    provider: openai
    model: o3
`

// Registry is immutable after construction.
type Registry struct {
	models    map[string]Model
	providers map[string]Provider
	def       string
	lookupEnv func(string) (string, bool)
}

// Option configures a Registry.
type Option func(*Registry)

// WithEnvLookup overrides how provider credentials are read (tests).
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.lookupEnv = fn
		}
	}
}

// Default returns the built-in registry.
func Default(opts ...Option) *Registry {
	r, err := Parse([]byte(defaultConfig), opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Load reads a YAML models file. An empty path yields the built-in registry.
func Load(path string, opts ...Option) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(opts...), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	return Parse(raw, opts...)
}

// Parse builds a Registry from YAML.
func Parse(raw []byte, opts ...Option) (*Registry, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	r := &Registry{
		models:    make(map[string]Model, len(cfg.Models)),
		providers: make(map[string]Provider, len(cfg.Providers)),
		lookupEnv: os.LookupEnv,
	}
	for name, p := range cfg.Providers {
		name = strings.TrimSpace(name)
		if name == "" || strings.TrimSpace(p.APIKeyEnv) == "" {
			return nil, fmt.Errorf("%w: provider %q needs api_key_env", ErrInvalidConfig, name)
		}
		p.Name = name
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		p.APIKeyEnv = strings.TrimSpace(p.APIKeyEnv)
		r.providers[name] = p
	}
	for _, m := range cfg.Models {
		m.Alias = strings.ToLower(strings.TrimSpace(m.Alias))
		m.Provider = strings.TrimSpace(m.Provider)
		m.ModelID = strings.TrimSpace(m.ModelID)
		if m.Alias == "" || m.ModelID == "" {
			return nil, fmt.Errorf("%w: model entries need alias and model", ErrInvalidConfig)
		}
		if _, ok := r.providers[m.Provider]; !ok {
			return nil, fmt.Errorf("%w: alias %q references unknown provider %q", ErrInvalidConfig, m.Alias, m.Provider)
		}
		if _, dup := r.models[m.Alias]; dup {
			return nil, fmt.Errorf("%w: duplicate alias %q", ErrInvalidConfig, m.Alias)
		}
		r.models[m.Alias] = m
	}
	if len(r.models) == 0 {
		return nil, fmt.Errorf("%w: no models", ErrInvalidConfig)
	}

	r.def = strings.ToLower(strings.TrimSpace(cfg.Default))
	if _, ok := r.models[r.def]; !ok {
		return nil, fmt.Errorf("%w: default alias %q is not defined", ErrInvalidConfig, cfg.Default)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// DefaultAlias returns the least-privileged alias.
func (r *Registry) DefaultAlias() string { return r.def }

// Aliases returns the known aliases in sorted order.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.models))
	for a := range r.models {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the model for an exact alias.
func (r *Registry) Lookup(alias string) (Model, bool) {
	m, ok := r.models[strings.ToLower(strings.TrimSpace(alias))]
	return m, ok
}

// Resolve returns the model for alias, or the default when alias is unknown or blank.
func (r *Registry) Resolve(alias string) Model {
	if m, ok := r.Lookup(alias); ok {
		return m
	}
	return r.models[r.def]
}

// Provider returns the provider definition by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// APIKey returns the credential for a provider, if present and non-blank.
func (r *Registry) APIKey(provider string) (string, bool) {
	p, ok := r.providers[provider]
	if !ok {
		return "", false
	}
	v, ok := r.lookupEnv(p.APIKeyEnv)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// HasCredentials reports whether the provider behind alias (resolved with fallback) has a key.
func (r *Registry) HasCredentials(alias string) bool {
	_, ok := r.APIKey(r.Resolve(alias).Provider)
	return ok
}
