// Package config loads engine configuration from an optional YAML file and
// BEACON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ahrav/go-beacon/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g.
// BEACON_EXECUTION_MAX_CONCURRENCY.
const EnvPrefix = "BEACON"

// Config is the complete engine configuration.
type Config struct {
	Execution ExecutionConfig `mapstructure:"execution"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Store     StoreConfig     `mapstructure:"store"`
	Lock      LockConfig      `mapstructure:"lock"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ExecutionConfig selects which enabled providers a snapshot runs against.
type ExecutionConfig struct {
	// Providers is the execution set. Providers outside it stay reachable
	// for diagnostics only.
	Providers []string `mapstructure:"providers" validate:"dive,oneof=openai anthropic google"`
	// MaxConcurrency caps how many providers run at once.
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"min=1,max=16"`
	// MaxTokens caps each answer.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=1"`
}

// PromptsConfig points at the active prompt pack. An empty PackPath uses
// the embedded default pack.
type PromptsConfig struct {
	PackPath string `mapstructure:"pack_path"`
}

// ProvidersConfig holds one block per vendor.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	Google    ProviderConfig `mapstructure:"google"`
}

// ProviderConfig configures a single vendor adapter. A provider is enabled
// when APIKey is set.
type ProviderConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"min=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"min=0"`
	Burst             int           `mapstructure:"burst" validate:"min=0"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	DSN      string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	MaxConns int32  `mapstructure:"max_conns" validate:"min=0"`
	MinConns int32  `mapstructure:"min_conns" validate:"min=0"`
}

// LockConfig selects the run lock backend.
type LockConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=local redis"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"min=0"`
	TTL           time.Duration `mapstructure:"ttl" validate:"min=0"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout" validate:"min=0"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

var validate = validator.New()

// Load reads configuration. path names a config file explicitly; when empty,
// beacon.yaml is looked up in the working directory and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("beacon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindVendorEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("execution.providers", []string{string(domain.ProviderOpenAI)})
	v.SetDefault("execution.max_concurrency", 3)
	v.SetDefault("execution.max_tokens", 1024)
	v.SetDefault("prompts.pack_path", "")
	for _, p := range domain.KnownProviders {
		prefix := "providers." + string(p) + "."
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"model", "")
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"timeout", 60*time.Second)
		v.SetDefault(prefix+"requests_per_second", 0.0)
		v.SetDefault(prefix+"burst", 1)
	}
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "beacon.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.wait_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindVendorEnv lets the vendors' conventional variables stand in for the
// prefixed ones.
func bindVendorEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"providers.openai.api_key":    {"BEACON_PROVIDERS_OPENAI_API_KEY", "OPENAI_API_KEY"},
		"providers.anthropic.api_key": {"BEACON_PROVIDERS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
		"providers.google.api_key":    {"BEACON_PROVIDERS_GOOGLE_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return eris.Wrapf(err, "config: bind %s", key)
		}
	}
	return nil
}

// Validate checks field constraints and cross-field rules. Failures are
// reported together as a *domain.ValidationError.
func (c *Config) Validate() error {
	verr := domain.NewValidationError("config")

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range fieldErrs {
			verr.AddError(fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	seen := make(map[string]bool, len(c.Execution.Providers))
	for _, p := range c.Execution.Providers {
		if seen[p] {
			verr.AddError(fmt.Sprintf("execution.providers lists %q twice", p))
		}
		seen[p] = true
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ExecutionSet returns the configured execution path as providers.
func (c *Config) ExecutionSet() []domain.Provider {
	out := make([]domain.Provider, 0, len(c.Execution.Providers))
	for _, name := range c.Execution.Providers {
		if p, err := domain.ParseProvider(name); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Provider returns the block for p.
func (c *Config) Provider(p domain.Provider) ProviderConfig {
	switch p {
	case domain.ProviderOpenAI:
		return c.Providers.OpenAI
	case domain.ProviderAnthropic:
		return c.Providers.Anthropic
	case domain.ProviderGoogle:
		return c.Providers.Google
	}
	return ProviderConfig{}
}

// InitLogger builds the global zap logger and returns it.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return logger, nil
}
