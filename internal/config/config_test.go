package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Streaming.MaxConcurrent != 20 {
			t.Errorf("max_concurrent = %v, want 20", cfg.Streaming.MaxConcurrent)
		}
		if cfg.Retry.MaxRetries != 2 {
			t.Errorf("max_retries = %v, want 2", cfg.Retry.MaxRetries)
		}
		if cfg.Pipeline.MaxIterations != 10 {
			t.Errorf("max_iterations = %v, want 10", cfg.Pipeline.MaxIterations)
		}
		if got := cfg.Logging.WriteTimeoutDuration(); got != 5*time.Second {
			t.Errorf("write timeout = %v, want 5s", got)
		}
		if cfg.Logging.Sink.Type != "memory" {
			t.Errorf("sink type = %q, want memory", cfg.Logging.Sink.Type)
		}
	})

	t.Run("env var overrides", func(t *testing.T) {
		t.Setenv("ORCH_SERVER__PORT", "9000")
		t.Setenv("ORCH_POLICY__ALLOWED_MODELS", "m1, m2")
		t.Setenv("ORCH_POLICY__DEFAULT_MODEL", "m2")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("port = %v, want 9000", cfg.Server.Port)
		}
		if want := []string{"m1", "m2"}; !reflect.DeepEqual(cfg.Policy.AllowedModels, want) {
			t.Errorf("allowed models = %v, want %v", cfg.Policy.AllowedModels, want)
		}
		if cfg.Policy.DefaultModel != "m2" {
			t.Errorf("default model = %q, want m2", cfg.Policy.DefaultModel)
		}
	})

	t.Run("legacy variables", func(t *testing.T) {
		t.Setenv("LLM_ALLOWED_MODELS", "gpt-4o,claude-3-5-sonnet-20241022")
		t.Setenv("DEFAULT_LLM_MODEL", "gpt-4o")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(cfg.Policy.AllowedModels) != 2 || cfg.Policy.DefaultModel != "gpt-4o" {
			t.Errorf("policy = %+v", cfg.Policy)
		}
	})

	t.Run("yaml file", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "sk-test")
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := `
policy:
  allowed_models: [gpt-4o, gpt-4o-mini]
  default_model: gpt-4o-mini
retry:
  max_retries: 4
  max_delay: 10s
providers:
  - prefix: gpt-
    type: openai
    api_key: ${TEST_API_KEY}
hooks:
  pre:
    - name: guard
      type: max_messages
      max_messages: 50
`
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if want := []string{"gpt-4o", "gpt-4o-mini"}; !reflect.DeepEqual(cfg.Policy.AllowedModels, want) {
			t.Errorf("allowed models = %v, want %v", cfg.Policy.AllowedModels, want)
		}
		if cfg.Retry.MaxRetries != 4 || cfg.Retry.MaxDelayDuration() != 10*time.Second {
			t.Errorf("retry = %+v", cfg.Retry)
		}
		if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "sk-test" {
			t.Errorf("providers = %+v", cfg.Providers)
		}
		if len(cfg.Hooks.Pre) != 1 || cfg.Hooks.Pre[0].MaxMessages != 50 {
			t.Errorf("hooks = %+v", cfg.Hooks)
		}
	})
}

func TestStringList(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  []string
	}{
		{"comma separated", "a, b,,c", []string{"a", "b", "c"}},
		{"yaml list", []any{"a", "b"}, []string{"a", "b"}},
		{"string slice", []string{" a "}, []string{"a"}},
		{"nil", nil, nil},
		{"empty string", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stringList(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("stringList(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple substitution", "${TEST_VAR}", "test-value"},
		{"substitution in string", "prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"no substitution", "plain-string", "plain-string"},
		{"undefined var", "${UNDEFINED_VAR_XYZ}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
