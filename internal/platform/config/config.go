package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. ONBOARDING_SERVER_ADDR.
const EnvPrefix = "ONBOARDING"

// Config is the fully resolved process configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Forms     FormsConfig     `mapstructure:"forms"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds operator token validation settings.
type AuthConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig selects postgres when URL is set; otherwise stores run in memory.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig selects the redis correlation store when URL is set.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyTTL       time.Duration `mapstructure:"key_ttl"`
}

// KafkaConfig enables the outbox relay, operator alerts and the resume consumer when Brokers is set.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	EventsTopic    string        `mapstructure:"events_topic"`
	AlertsTopic    string        `mapstructure:"alerts_topic"`
	ResumeTopic    string        `mapstructure:"resume_topic"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
	RelayInterval  time.Duration `mapstructure:"relay_interval"`
	RelayBatchSize int           `mapstructure:"relay_batch_size"`
	Partitions     int32         `mapstructure:"partitions"`
	Replication    int16         `mapstructure:"replication"`
}

// AgentsConfig tunes the capability dispatch pool and callback validation.
type AgentsConfig struct {
	Workers        int                       `mapstructure:"workers"`
	QueueSize      int                       `mapstructure:"queue_size"`
	MaxAttempts    int                       `mapstructure:"max_attempts"`
	InitialBackoff time.Duration             `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration             `mapstructure:"max_backoff"`
	WebhookSecret  string                    `mapstructure:"webhook_secret"`
	RiskThreshold  float64                   `mapstructure:"risk_threshold"`
	Providers      map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes one out-of-process capability provider.
type ProviderConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Deadline time.Duration `mapstructure:"deadline"`
}

type SweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type FormsConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxTTL     time.Duration `mapstructure:"max_ttl"`
}

// RateLimitConfig bounds unauthenticated traffic per client IP. Zero disables a limit.
type RateLimitConfig struct {
	PublicForms int           `mapstructure:"public_forms"`
	Callbacks   int           `mapstructure:"callbacks"`
	Window      time.Duration `mapstructure:"window"`
}

// CapabilityDeadline returns how long a dispatched capability may run before its wait times out.
func (c AgentsConfig) CapabilityDeadline(capability string) time.Duration {
	if p, ok := c.Providers[capability]; ok && p.Deadline > 0 {
		return p.Deadline
	}
	return defaultCapabilityDeadline
}

const defaultCapabilityDeadline = 30 * time.Minute

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("auth.jwt_signing_key", "")
	v.SetDefault("auth.issuer", "onboarding")
	v.SetDefault("auth.audience", "onboarding-operators")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.key_ttl", 14*24*time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "onboarding.workflow-events")
	v.SetDefault("kafka.alerts_topic", "onboarding.operator-alerts")
	v.SetDefault("kafka.resume_topic", "onboarding.resume-signals")
	v.SetDefault("kafka.consumer_group", "onboarding-coordinator")
	v.SetDefault("kafka.relay_interval", time.Second)
	v.SetDefault("kafka.relay_batch_size", 100)
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.replication", 1)

	v.SetDefault("agents.workers", 8)
	v.SetDefault("agents.queue_size", 256)
	v.SetDefault("agents.max_attempts", 5)
	v.SetDefault("agents.initial_backoff", 500*time.Millisecond)
	v.SetDefault("agents.max_backoff", 30*time.Second)
	v.SetDefault("agents.webhook_secret", "")
	v.SetDefault("agents.risk_threshold", 70.0)
	v.SetDefault("agents.providers.quote_generation.url", "")
	v.SetDefault("agents.providers.quote_generation.timeout", 10*time.Second)
	v.SetDefault("agents.providers.quote_generation.deadline", 15*time.Minute)
	v.SetDefault("agents.providers.risk_scoring.url", "")
	v.SetDefault("agents.providers.risk_scoring.timeout", 30*time.Second)
	v.SetDefault("agents.providers.risk_scoring.deadline", 30*time.Minute)
	v.SetDefault("agents.providers.procurement_screening.url", "")
	v.SetDefault("agents.providers.procurement_screening.timeout", 30*time.Second)
	v.SetDefault("agents.providers.procurement_screening.deadline", time.Hour)

	v.SetDefault("sweep.interval", 30*time.Second)
	v.SetDefault("sweep.batch_size", 200)

	v.SetDefault("forms.default_ttl", 7*24*time.Hour)
	v.SetDefault("forms.max_ttl", 30*24*time.Hour)

	v.SetDefault("rate_limit.public_forms", 60)
	v.SetDefault("rate_limit.callbacks", 600)
	v.SetDefault("rate_limit.window", time.Minute)
}

// Load resolves configuration from defaults, an optional config file and the environment.
// An empty path searches for config.yaml in the working directory and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Auth.JWTSigningKey == "" {
		return errors.New("auth.jwt_signing_key is required")
	}
	if c.Agents.Workers <= 0 {
		return errors.New("agents.workers must be positive")
	}
	if c.Agents.QueueSize <= 0 {
		return errors.New("agents.queue_size must be positive")
	}
	if c.Agents.MaxAttempts <= 0 {
		return errors.New("agents.max_attempts must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}
	if c.Forms.DefaultTTL <= 0 || c.Forms.MaxTTL < c.Forms.DefaultTTL {
		return errors.New("forms.default_ttl must be positive and not exceed forms.max_ttl")
	}
	if (c.RateLimit.PublicForms > 0 || c.RateLimit.Callbacks > 0) && c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.window must be positive")
	}
	return nil
}

// splitList accepts comma-separated values from a single env var.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for part := range strings.SplitSeq(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
