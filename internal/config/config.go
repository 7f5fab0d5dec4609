package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the scout orchestrator.
type Config struct {
	Service      ServiceConfig      `mapstructure:"service" yaml:"service"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Tasks        TasksConfig        `mapstructure:"tasks" yaml:"tasks"`
	Workers      WorkersConfig      `mapstructure:"workers" yaml:"workers"`
	Research     ResearchConfig     `mapstructure:"research" yaml:"research"`
	Gates        GatesConfig        `mapstructure:"gates" yaml:"gates"`
	Interrupts   InterruptsConfig   `mapstructure:"interrupts" yaml:"interrupts"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities" yaml:"capabilities"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Threads      ThreadsConfig      `mapstructure:"threads" yaml:"threads"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing" yaml:"tracing"`
}

// ServiceConfig contains HTTP server settings.
type ServiceConfig struct {
	Port              int           `mapstructure:"port" yaml:"port"`
	AdminPort         int           `mapstructure:"admin_port" yaml:"admin_port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	GracefulTimeout   time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
	ApprovalAuthToken string        `mapstructure:"approval_auth_token" yaml:"approval_auth_token"`
}

// RedisConfig contains Redis connection settings. The password is always
// taken from REDIS_PASSWORD and never from the config file.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	DB           int           `mapstructure:"db" yaml:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// TasksConfig controls task retention and overall processing deadline.
type TasksConfig struct {
	RetentionWindow time.Duration `mapstructure:"retention_window" yaml:"retention_window"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WorkersConfig controls the orchestration worker pool.
type WorkersConfig struct {
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`
}

// ResearchConfig bounds the research delegation phase.
type ResearchConfig struct {
	MaxConcurrentUnits   int     `mapstructure:"max_concurrent_units" yaml:"max_concurrent_units"`
	MaxIterationsPerUnit int     `mapstructure:"max_iterations_per_unit" yaml:"max_iterations_per_unit"`
	SearchRatePerSecond  float64 `mapstructure:"search_rate_per_second" yaml:"search_rate_per_second"`
	SearchBurst          int     `mapstructure:"search_burst" yaml:"search_burst"`
}

// GatesConfig controls safety gate evaluation.
type GatesConfig struct {
	CheckTimeout time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
}

// InterruptsConfig controls the human confirmation flow. A zero
// ApprovalTimeout means the approval wait shares the task deadline.
type InterruptsConfig struct {
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout" yaml:"approval_timeout"`
}

// RetryConfig is the explicit retry policy applied to remote capability calls.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// CapabilitiesConfig points at the external classification/research services.
type CapabilitiesConfig struct {
	SafetyURL    string        `mapstructure:"safety_url" yaml:"safety_url"`
	AnalyzerURL  string        `mapstructure:"analyzer_url" yaml:"analyzer_url"`
	SearchURL    string        `mapstructure:"search_url" yaml:"search_url"`
	SynthesisURL string        `mapstructure:"synthesis_url" yaml:"synthesis_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retry        RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// RateLimitConfig controls per-thread submission rate limiting.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// ThreadsConfig controls conversation history retention.
type ThreadsConfig struct {
	MaxMessages int           `mapstructure:"max_messages" yaml:"max_messages"`
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Service.Port = 8080
	cfg.Service.AdminPort = 2112
	cfg.Service.ReadTimeout = 10 * time.Second
	cfg.Service.WriteTimeout = 10 * time.Second
	cfg.Service.GracefulTimeout = 30 * time.Second
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second
	cfg.Tasks.RetentionWindow = time.Hour
	cfg.Tasks.Timeout = 5 * time.Minute
	cfg.Workers.PoolSize = 10
	cfg.Research.MaxConcurrentUnits = 3
	cfg.Research.MaxIterationsPerUnit = 5
	cfg.Research.SearchRatePerSecond = 5
	cfg.Research.SearchBurst = 5
	cfg.Gates.CheckTimeout = 10 * time.Second
	cfg.Capabilities.Timeout = 30 * time.Second
	cfg.Capabilities.Retry.MaxAttempts = 3
	cfg.Capabilities.Retry.InitialBackoff = 200 * time.Millisecond
	cfg.Capabilities.Retry.MaxBackoff = 5 * time.Second
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 60
	cfg.Threads.MaxMessages = 100
	cfg.Threads.TTL = 24 * time.Hour
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Tracing.ServiceName = "scout-orchestrator"
	return cfg
}

// Load reads configuration from the given YAML file (optional) layered over
// the defaults, with SCOUT_* environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path == "" {
		path = os.Getenv("SCOUT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Workers.PoolSize <= 0 {
		return fmt.Errorf("workers.pool_size must be positive, got %d", c.Workers.PoolSize)
	}
	if c.Research.MaxConcurrentUnits <= 0 {
		return fmt.Errorf("research.max_concurrent_units must be positive, got %d", c.Research.MaxConcurrentUnits)
	}
	if c.Research.MaxIterationsPerUnit <= 0 {
		return fmt.Errorf("research.max_iterations_per_unit must be positive, got %d", c.Research.MaxIterationsPerUnit)
	}
	if c.Tasks.RetentionWindow <= 0 {
		return fmt.Errorf("tasks.retention_window must be positive, got %s", c.Tasks.RetentionWindow)
	}
	if c.Tasks.Timeout <= 0 {
		return fmt.Errorf("tasks.timeout must be positive, got %s", c.Tasks.Timeout)
	}
	if c.Capabilities.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("capabilities.retry.max_attempts must be positive, got %d", c.Capabilities.Retry.MaxAttempts)
	}
	if c.Gates.CheckTimeout <= 0 {
		return fmt.Errorf("gates.check_timeout must be positive, got %s", c.Gates.CheckTimeout)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.port", d.Service.Port)
	v.SetDefault("service.admin_port", d.Service.AdminPort)
	v.SetDefault("service.read_timeout", d.Service.ReadTimeout)
	v.SetDefault("service.write_timeout", d.Service.WriteTimeout)
	v.SetDefault("service.graceful_timeout", d.Service.GracefulTimeout)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)
	v.SetDefault("tasks.retention_window", d.Tasks.RetentionWindow)
	v.SetDefault("tasks.timeout", d.Tasks.Timeout)
	v.SetDefault("workers.pool_size", d.Workers.PoolSize)
	v.SetDefault("research.max_concurrent_units", d.Research.MaxConcurrentUnits)
	v.SetDefault("research.max_iterations_per_unit", d.Research.MaxIterationsPerUnit)
	v.SetDefault("research.search_rate_per_second", d.Research.SearchRatePerSecond)
	v.SetDefault("research.search_burst", d.Research.SearchBurst)
	v.SetDefault("gates.check_timeout", d.Gates.CheckTimeout)
	v.SetDefault("interrupts.approval_timeout", d.Interrupts.ApprovalTimeout)
	v.SetDefault("capabilities.safety_url", d.Capabilities.SafetyURL)
	v.SetDefault("capabilities.analyzer_url", d.Capabilities.AnalyzerURL)
	v.SetDefault("capabilities.search_url", d.Capabilities.SearchURL)
	v.SetDefault("capabilities.synthesis_url", d.Capabilities.SynthesisURL)
	v.SetDefault("capabilities.timeout", d.Capabilities.Timeout)
	v.SetDefault("capabilities.retry.max_attempts", d.Capabilities.Retry.MaxAttempts)
	v.SetDefault("capabilities.retry.initial_backoff", d.Capabilities.Retry.InitialBackoff)
	v.SetDefault("capabilities.retry.max_backoff", d.Capabilities.Retry.MaxBackoff)
	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_minute", d.RateLimit.RequestsPerMinute)
	v.SetDefault("threads.max_messages", d.Threads.MaxMessages)
	v.SetDefault("threads.ttl", d.Threads.TTL)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
}
