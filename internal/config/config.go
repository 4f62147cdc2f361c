// Package config loads orchestrator configuration from config.yaml and the
// environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore maps
// to a nesting level: ORCH_RETRY__MAX_RETRIES sets retry.max_retries.
const EnvPrefix = "ORCH_"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Policy    PolicyConfig     `koanf:"policy"`
	Streaming StreamingConfig  `koanf:"streaming"`
	Retry     RetryConfig      `koanf:"retry"`
	Logging   LoggingConfig    `koanf:"logging"`
	Pipeline  PipelineConfig   `koanf:"pipeline"`
	Pricing   PricingConfig    `koanf:"pricing"`
	Hooks     HooksConfig      `koanf:"hooks"`
	Providers []ProviderConfig `koanf:"providers"`
	Telemetry TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// PolicyConfig constrains which models may be used.
type PolicyConfig struct {
	// AllowedModels accepts a YAML list or a comma-separated string, so it is
	// decoded by hand.
	AllowedModels []string `koanf:"-"`
	DefaultModel  string   `koanf:"default_model"`
}

type StreamingConfig struct {
	MaxConcurrent int `koanf:"max_concurrent"`
	Buffer        int `koanf:"buffer"`
}

type RetryConfig struct {
	MaxRetries int    `koanf:"max_retries"`
	MaxDelay   string `koanf:"max_delay"` // Duration string like "60s"
}

// MaxDelayDuration returns the backoff cap.
func (c RetryConfig) MaxDelayDuration() time.Duration {
	return parseDuration(c.MaxDelay, 60*time.Second)
}

type LoggingConfig struct {
	WriteTimeout string     `koanf:"write_timeout"`
	Sink         SinkConfig `koanf:"sink"`
}

// WriteTimeoutDuration returns the bound on a single call-log write.
func (c LoggingConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(c.WriteTimeout, 5*time.Second)
}

// SinkConfig selects where call logs are written.
type SinkConfig struct {
	Type     string         `koanf:"type"` // memory, sqlite, mysql, redis, rabbitmq, slog
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, mysql
	DSN    string `koanf:"dsn"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

type RabbitMQConfig struct {
	URL   string `koanf:"url"`
	Queue string `koanf:"queue"`
}

type PipelineConfig struct {
	MaxIterations int `koanf:"max_iterations"`
}

type PricingConfig struct {
	// File is an optional YAML price table merged over the built-in one.
	File string `koanf:"file"`
}

// HooksConfig lists the ordered pre-call and post-call policy stages.
type HooksConfig struct {
	Pre  []StageConfig `koanf:"pre"`
	Post []StageConfig `koanf:"post"`
}

// StageConfig configures one policy hook stage.
type StageConfig struct {
	Name        string `koanf:"name"`
	Type        string `koanf:"type"` // webhook, max_messages
	Order       int    `koanf:"order"`
	URL         string `koanf:"url"`
	Timeout     string `koanf:"timeout"`
	Retries     int    `koanf:"retries"`
	OnError     string `koanf:"on_error"` // allow, deny
	MaxMessages int    `koanf:"max_messages"`
}

// ProviderConfig binds a model-name prefix to a provider backend.
type ProviderConfig struct {
	Prefix  string `koanf:"prefix"`
	Type    string `koanf:"type"` // openai, echo
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (config.yaml when empty), then ORCH_ environment overrides,
// then the legacy LLM_ALLOWED_MODELS and DEFAULT_LLM_MODEL variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if v := os.Getenv("LLM_ALLOWED_MODELS"); v != "" && !k.Exists("policy.allowed_models") {
		k.Set("policy.allowed_models", v)
	}
	for _, name := range []string{"DEFAULT_LLM_MODEL", "LLM_DEFAULT_MODEL"} {
		if v := os.Getenv(name); v != "" && !k.Exists("policy.default_model") {
			k.Set("policy.default_model", v)
		}
	}

	setDefault(k, "server.port", 8080)
	setDefault(k, "streaming.max_concurrent", 20)
	setDefault(k, "streaming.buffer", 32)
	setDefault(k, "retry.max_retries", 2)
	setDefault(k, "retry.max_delay", "60s")
	setDefault(k, "logging.write_timeout", "5s")
	setDefault(k, "logging.sink.type", "memory")
	setDefault(k, "logging.sink.redis.key", "orchestrator:call_logs")
	setDefault(k, "logging.sink.rabbitmq.queue", "orchestrator.call_logs")
	setDefault(k, "pipeline.max_iterations", 10)
	setDefault(k, "telemetry.service_name", "polyglot-orchestrator")

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Policy.AllowedModels = stringList(k.Get("policy.allowed_models"))

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = substituteEnvVars(cfg.Providers[i].BaseURL)
	}
	cfg.Logging.Sink.Database.DSN = substituteEnvVars(cfg.Logging.Sink.Database.DSN)
	cfg.Logging.Sink.Redis.Password = substituteEnvVars(cfg.Logging.Sink.Redis.Password)
	cfg.Logging.Sink.RabbitMQ.URL = substituteEnvVars(cfg.Logging.Sink.RabbitMQ.URL)

	return &cfg, nil
}

func setDefault(k *koanf.Koanf, key string, val any) {
	if !k.Exists(key) {
		k.Set(key, val)
	}
}

// stringList accepts a comma-separated string or a YAML list.
func stringList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			raw = append(raw, fmt.Sprint(item))
		}
	}

	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
