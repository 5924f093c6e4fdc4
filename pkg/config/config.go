// Package config loads the proxy configuration from defaults, an optional YAML
// file, an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultUID is the portfolio queried when a request names none.
const DefaultUID = "4438679961865098497"

var validate = validator.New()

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Pagination PaginationConfig `yaml:"pagination"`
	Batch      BatchConfig      `yaml:"batch"`
	Completion CompletionConfig `yaml:"completion"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `yaml:"port" default:"8080" validate:"required,numeric"`
	APIKey          string        `yaml:"api_key"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"5m" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s" validate:"gt=0"`
}

// UpstreamConfig holds order history upstream configuration.
type UpstreamConfig struct {
	PrimaryBase     string        `yaml:"primary_base" default:"https://www.binance.com" validate:"required,url"`
	ProxyBase       string        `yaml:"proxy_base" validate:"omitempty,url"`
	AttemptsPerHost int           `yaml:"attempts_per_host" default:"3" validate:"min=1,max=10"`
	Timeout         time.Duration `yaml:"timeout" default:"15s" validate:"gt=0"`
	RetryDelay      time.Duration `yaml:"retry_delay" default:"375ms" validate:"gte=0"`
	RetryJitter     float64       `yaml:"retry_jitter" default:"0.2" validate:"gte=0,lte=1"`
	Fingerprint     bool          `yaml:"fingerprint" default:"true"`
}

// PaginationConfig holds per-portfolio walk configuration.
type PaginationConfig struct {
	PageCap   int           `yaml:"page_cap" default:"3" validate:"min=1,max=20"`
	PageSize  int           `yaml:"page_size" default:"30" validate:"min=1,max=100"`
	PageDelay time.Duration `yaml:"page_delay" default:"300ms" validate:"gte=0"`
}

// BatchConfig holds identifier window configuration.
type BatchConfig struct {
	MaxPerCall    int    `yaml:"max_per_call" default:"35" validate:"min=1,max=35"`
	DefaultUIDs   string `yaml:"default_uids" default:"4438679961865098497" validate:"required"`
	SuccessPolicy string `yaml:"success_policy" default:"any-record" validate:"oneof=any-record all-identifiers"`
	DefaultLimit  int    `yaml:"default_limit" default:"50"`
}

// CompletionConfig holds the chat completion pass-through configuration.
type CompletionConfig struct {
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url" default:"https://api.openai.com/v1/chat/completions" validate:"required,url"`
}

// RedisConfig enables host diagnostics when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty"`
}

// UIDs splits DefaultUIDs on commas, dropping empty entries.
func (b BatchConfig) UIDs() []string {
	return SplitCSV(b.DefaultUIDs)
}

// SplitCSV splits s on commas, trimming spaces and dropping empty entries.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Default returns the configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load builds the configuration. path may be empty, in which case no YAML
// file is read. A .env file in the working directory is loaded if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from environment variables. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.str("PORT", &c.Server.Port)
	env.str("PROXY_INTERNAL_API_KEY", &c.Server.APIKey)
	env.duration("ORDERS_REQUEST_TIMEOUT", &c.Server.RequestTimeout)

	env.str("BINANCE_PRIMARY_BASE", &c.Upstream.PrimaryBase)
	env.str("BINANCE_PROXY_BASE", &c.Upstream.ProxyBase)
	env.integer("UPSTREAM_ATTEMPTS_PER_HOST", &c.Upstream.AttemptsPerHost)
	env.duration("UPSTREAM_TIMEOUT", &c.Upstream.Timeout)
	env.duration("RETRY_DELAY", &c.Upstream.RetryDelay)

	env.integer("PAGE_CAP", &c.Pagination.PageCap)
	env.integer("PAGE_SIZE", &c.Pagination.PageSize)
	env.duration("PAGE_DELAY", &c.Pagination.PageDelay)

	env.integer("MAX_PER_CALL", &c.Batch.MaxPerCall)
	env.str("DEFAULT_UIDS", &c.Batch.DefaultUIDs)
	env.str("SUCCESS_POLICY", &c.Batch.SuccessPolicy)

	env.str("OPENAI_API_KEY", &c.Completion.APIKey)
	env.str("COMPLETION_UPSTREAM_URL", &c.Completion.URL)

	env.str("REDIS_URL", &c.Redis.URL)

	env.str("LOG_LEVEL", &c.Logging.Level)
	env.boolean("LOG_PRETTY", &c.Logging.Pretty)

	return errors.Join(env.errs...)
}

// Validate checks the configuration against its validate tags.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

// duration accepts Go durations ("300ms") or a bare number of milliseconds.
func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = b
}
