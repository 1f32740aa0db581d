package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type MQConfig struct {
	URL string `yaml:"url"`
	// RecreateQueues enables the destructive delete-and-redeclare path when a
	// content queue already exists with incompatible arguments. Any pending
	// messages in that queue are lost. Default false: a mismatch is a fatal
	// startup error instead.
	RecreateQueues bool `yaml:"recreate_queues"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type RateLimitConfig struct {
	MaxRequests int   `yaml:"max_requests"`
	WindowMS    int64 `yaml:"window_ms"`
	// FailOpen admits requests when Redis is unreachable instead of blocking
	// traffic.
	FailOpen bool `yaml:"fail_open"`
}

type BreakerConfig struct {
	TimeoutMS         int64 `yaml:"timeout_ms"`
	ErrorThresholdPct int   `yaml:"error_threshold_pct"`
	ResetTimeoutMS    int64 `yaml:"reset_timeout_ms"`
	WindowMS          int64 `yaml:"window_ms"`
	WindowBuckets     int   `yaml:"window_buckets"`
}

type RetryConfig struct {
	MaxAttempts    int   `yaml:"max_attempts"`
	InitialDelayMS int64 `yaml:"initial_delay_ms"`
	Multiplier     int   `yaml:"multiplier"`
}

type UpstreamConfig struct {
	UserServiceURL     string `yaml:"user_service_url"`
	TemplateServiceURL string `yaml:"template_service_url"`
}

type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
}

type PushConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	MQ        MQConfig        `yaml:"mq"`
	Redis     RedisConfig     `yaml:"redis"`
	DB        DBConfig        `yaml:"db"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retry     RetryConfig     `yaml:"retry"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Push      PushConfig      `yaml:"push"`
}

func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

func (b BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutMS) * time.Millisecond
}

func (b BreakerConfig) Window() time.Duration {
	return time.Duration(b.WindowMS) * time.Millisecond
}

func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMS) * time.Millisecond
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMS) * time.Millisecond
}

func Load() *Config {
	return LoadFile(GetEnv("CONFIG_FILE", "config.yaml"))
}

func LoadFile(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	cfg := Defaults()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		log.Fatalf("failed to decode %s: %v", path, err)
	}

	overrideFromEnv(cfg)

	return cfg
}

// Defaults returns a config pre-filled with the pipeline's documented
// defaults: 100 req/min sliding window, 50% breaker threshold over a 10s
// window, 4 delivery attempts with a 1s/5s/25s backoff ladder.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: ":3000"},
		RateLimit: RateLimitConfig{
			MaxRequests: 100,
			WindowMS:    60_000,
			FailOpen:    true,
		},
		Breaker: BreakerConfig{
			TimeoutMS:         5_000,
			ErrorThresholdPct: 50,
			ResetTimeoutMS:    30_000,
			WindowMS:          10_000,
			WindowBuckets:     10,
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			InitialDelayMS: 1_000,
			Multiplier:     5,
		},
	}
}

func overrideFromEnv(cfg *Config) {
	// Server
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	// MQ
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	// Redis
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// DB
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	// JWT
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	// Rate limit
	if raw := os.Getenv("RATE_LIMIT_MAX_REQUESTS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.RateLimit.MaxRequests = n
		}
	}
	if raw := os.Getenv("RATE_LIMIT_WINDOW_MS"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.RateLimit.WindowMS = n
		}
	}

	// Upstream services
	if url := os.Getenv("USER_SERVICE_URL"); url != "" {
		cfg.Upstream.UserServiceURL = url
	}
	if url := os.Getenv("TEMPLATE_SERVICE_URL"); url != "" {
		cfg.Upstream.TemplateServiceURL = url
	}

	// SMTP
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if user := os.Getenv("SMTP_USER"); user != "" {
		cfg.SMTP.User = user
	}
	if password := os.Getenv("SMTP_PASS"); password != "" {
		cfg.SMTP.Password = password
	}
	if from := os.Getenv("SMTP_FROM_EMAIL"); from != "" {
		cfg.SMTP.FromEmail = from
	}

	// Push
	if endpoint := os.Getenv("PUSH_ENDPOINT"); endpoint != "" {
		cfg.Push.Endpoint = endpoint
	}
	if key := os.Getenv("PUSH_API_KEY"); key != "" {
		cfg.Push.APIKey = key
	}
}

// GetEnv returns an environment variable or a default when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
