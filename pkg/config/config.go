package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is where Load looks for the YAML file.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for comment-insights.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// AllowedOrigins lists extra host patterns allowed to open WebSocket
	// connections. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Queue    QueueConfig    `yaml:"queue"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether API requests need a bearer token.
	// Off by default: the API is normally only reachable on localhost.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"false"`

	// JWTSecret is the HS256 signing key for API tokens.
	JWTSecret string `yaml:"-" env:"AUTH_JWT_SECRET"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"insights"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"comment_insights"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration for the job broker and the
// cross-process event relay. An empty Host selects the in-memory broker.
type RedisConfig struct {
	Host         string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port         int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password     string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB           int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix    string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"ci"`
	EventChannel string `yaml:"event_channel" env:"REDIS_EVENT_CHANNEL" env-default:"comment-insights:events"`
}

// Enabled reports whether a Redis server is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns host:port.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMConfig selects the provider and performance tier used by the analysis
// agents. Model identifiers are resolved from the tier, not configured.
type LLMConfig struct {
	Provider         string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	PerformanceTier  string  `yaml:"performance_tier" env:"LLM_PERFORMANCE_TIER" env-default:"medium"`
	Temperature      float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.2"`
	OpenAIBaseURL    string  `yaml:"openai_base_url" env:"OPENAI_BASE_URL" env-default:""`
	OpenAIAPIKey     string  `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	AnthropicBaseURL string  `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL" env-default:""`
	AnthropicAPIKey  string  `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
}

// QueueConfig holds job queue tuning.
type QueueConfig struct {
	Concurrency     int `yaml:"concurrency" env:"QUEUE_CONCURRENCY" env-default:"20"`
	BatchSize       int `yaml:"batch_size" env:"QUEUE_BATCH_SIZE" env-default:"5"`
	Attempts        int `yaml:"attempts" env:"QUEUE_ATTEMPTS" env-default:"3"`
	BackoffMs       int `yaml:"backoff_ms" env:"QUEUE_BACKOFF_MS" env-default:"2000"`
	RetainCompleted int `yaml:"retain_completed" env:"QUEUE_RETAIN_COMPLETED" env-default:"100"`
	RetainFailed    int `yaml:"retain_failed" env:"QUEUE_RETAIN_FAILED" env-default:"500"`
	// LeaseSeconds is how long an active job survives its worker going silent.
	LeaseSeconds int `yaml:"lease_seconds" env:"QUEUE_LEASE_SECONDS" env-default:"30"`
}

// Backoff returns the initial retry delay.
func (c *QueueConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// Lease returns the active job lease.
func (c *QueueConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom reads configuration from the YAML file at path. A missing file is
// not an error: configuration then comes from the environment alone.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.LLM.PerformanceTier {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("unknown llm performance tier %q", c.LLM.PerformanceTier)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("queue batch size must be positive")
	}
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("queue attempts must be positive")
	}
	if c.Queue.LeaseSeconds < 1 {
		return fmt.Errorf("queue lease must be at least one second")
	}
	if c.Auth.EnableVerification && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required when auth verification is enabled")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
