package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_ResolveFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := Default()
	if r.DefaultAlias() != "mini" {
		t.Fatalf("expected default alias mini, got %q", r.DefaultAlias())
	}

	cases := []struct {
		alias string
		want  string
	}{
		{"mini", "mini"},
		{"pro", "pro"},
		{" MAX ", "max"},
		{"", "mini"},
		{"ultra", "mini"},
	}
	for _, tc := range cases {
		if got := r.Resolve(tc.alias).Alias; got != tc.want {
			t.Fatalf("Resolve(%q): expected %q, got %q", tc.alias, tc.want, got)
		}
	}

	got := r.Aliases()
	if len(got) != 3 || got[0] != "max" || got[1] != "mini" || got[2] != "pro" {
		t.Fatalf("unexpected aliases: %v", got)
	}
}

func TestHasCredentials(t *testing.T) {
	t.Parallel()

	withKey := Default(WithEnvLookup(envMap(map[string]string{"OPENAI_API_KEY": "sk-test"})))
	if !withKey.HasCredentials("pro") {
		t.Fatalf("expected credentials for pro")
	}

	blank := Default(WithEnvLookup(envMap(map[string]string{"OPENAI_API_KEY": "  "})))
	if blank.HasCredentials("pro") {
		t.Fatalf("expected blank key to count as missing")
	}

	none := Default(WithEnvLookup(envMap(nil)))
	if none.HasCredentials("mini") {
		t.Fatalf("expected no credentials")
	}
}

func TestParse_MultipleProviders(t *testing.T) {
	t.Parallel()

	raw := []byte(`
default: small
providers:
  openai:
    api_key_env: OPENAI_API_KEY
  local:
    base_url: http://localhost:11434/v1
    api_key_env: LOCAL_API_KEY
models:
  - alias: small
    provider: local
    model: llama3.1:8b
  - alias: big
    provider: openai
    model: gpt-4.1
`)
	r, err := Parse(raw, WithEnvLookup(envMap(map[string]string{"LOCAL_API_KEY": "x"})))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !r.HasCredentials("small") {
		t.Fatalf("expected local credentials")
	}
	if r.HasCredentials("big") {
		t.Fatalf("expected openai credentials missing")
	}
	p, ok := r.Provider("local")
	if !ok || p.BaseURL != "http://localhost:11434/v1" {
		t.Fatalf("unexpected provider: %+v ok=%v", p, ok)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad yaml":         "default: [",
		"no models":        "default: a\nproviders:\n  p:\n    api_key_env: K\n",
		"unknown provider": "default: a\nproviders:\n  p:\n    api_key_env: K\nmodels:\n  - alias: a\n    provider: q\n    model: m\n",
		"missing default":  "default: z\nproviders:\n  p:\n    api_key_env: K\nmodels:\n  - alias: a\n    provider: p\n    model: m\n",
		"duplicate alias":  "default: a\nproviders:\n  p:\n    api_key_env: K\nmodels:\n  - alias: a\n    provider: p\n    model: m\n  - alias: A\n    provider: p\n    model: n\n",
		"provider no env":  "default: a\nproviders:\n  p:\n    base_url: http://x\nmodels:\n  - alias: a\n    provider: p\n    model: m\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	if err := os.WriteFile(path, []byte("default: a\nproviders:\n  p:\n    api_key_env: K\nmodels:\n  - alias: a\n    provider: p\n    model: m\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Resolve("a").ModelID != "m" {
		t.Fatalf("unexpected model: %+v", r.Resolve("a"))
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if r, err := Load(""); err != nil || r.DefaultAlias() != "mini" {
		t.Fatalf("expected built-in registry for empty path, err=%v", err)
	}
}
