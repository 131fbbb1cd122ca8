package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Store      StoreConfig
	JWT        JWTConfig
	Gateway    GatewayConfig
	RateLimit  RateLimitConfig
	Queue      QueueConfig
	Confidence ConfidenceConfig
	EDL        EDLConfig
	Media      MediaConfig
	Groq       GroqConfig
	R2         R2Config
	Render     RenderConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StoreConfig struct {
	Driver string // redis, postgres, sqlite, memory
	DSN    string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	ComputePerHour int
	RenderPerHour  int
}

type QueueConfig struct {
	Concurrency int
	MaxRetry    int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Retention   time.Duration
	CancelPoll  time.Duration
	CancelGrace time.Duration
	Timeouts    map[string]time.Duration
}

type ConfidenceConfig struct {
	High   float64
	Medium float64
}

type EDLConfig struct {
	FPS int
}

type MediaConfig struct {
	ServiceURL   string
	Timeout      int // seconds
	PollInterval time.Duration
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type RenderConfig struct {
	MockStepDelay time.Duration
}

var envBindings = map[string]string{
	"server.port":            "SERVER_PORT",
	"server.env":             "SERVER_ENV",
	"server.log_level":       "LOG_LEVEL",
	"server.api_domain":      "API_DOMAIN",
	"redis.addr":             "REDIS_ADDR",
	"redis.password":         "REDIS_PASSWORD",
	"redis.db":               "REDIS_DB",
	"store.driver":           "STORE_DRIVER",
	"store.dsn":              "STORE_DSN",
	"jwt.secret":             "JWT_SECRET",
	"jwt.expiration":         "JWT_EXPIRATION",
	"gateway.enabled":        "GATEWAY_ENABLED",
	"queue.concurrency":      "QUEUE_CONCURRENCY",
	"queue.max_retry":        "QUEUE_MAX_RETRY",
	"queue.cancel_grace":     "QUEUE_CANCEL_GRACE",
	"confidence.high":        "CONFIDENCE_HIGH",
	"confidence.medium":      "CONFIDENCE_MEDIUM",
	"edl.fps":                "EDL_FPS",
	"media.service_url":      "MEDIA_SERVICE_URL",
	"media.timeout":          "MEDIA_SERVICE_TIMEOUT",
	"groq.api_key":           "GROQ_API_KEY",
	"groq.base_url":          "GROQ_BASE_URL",
	"groq.model":             "GROQ_MODEL",
	"r2.account_id":          "R2_ACCOUNT_ID",
	"r2.access_key_id":       "R2_ACCESS_KEY_ID",
	"r2.secret_access_key":   "R2_SECRET_ACCESS_KEY",
	"r2.bucket_name":         "R2_BUCKET_NAME",
	"r2.public_url":          "R2_PUBLIC_URL",
	"render.mock_step_delay": "RENDER_MOCK_STEP_DELAY",
}

// Load reads configuration from defaults, an optional config file, an
// optional .env file and the environment, in increasing precedence.
// configFile may be empty to search ./config.yaml and ./config/config.yaml.
func Load(configFile string) (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORE_DSN")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !asConfigNotFound(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Store: StoreConfig{
			Driver: v.GetString("store.driver"),
			DSN:    v.GetString("store.dsn"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			ComputePerHour: v.GetInt("ratelimit.compute_per_hour"),
			RenderPerHour:  v.GetInt("ratelimit.render_per_hour"),
		},
		Queue: QueueConfig{
			Concurrency: v.GetInt("queue.concurrency"),
			MaxRetry:    v.GetInt("queue.max_retry"),
			BackoffBase: v.GetDuration("queue.backoff_base"),
			BackoffCap:  v.GetDuration("queue.backoff_cap"),
			Retention:   v.GetDuration("queue.retention"),
			CancelPoll:  v.GetDuration("queue.cancel_poll"),
			CancelGrace: v.GetDuration("queue.cancel_grace"),
			Timeouts: map[string]time.Duration{
				"sync":       v.GetDuration("queue.timeouts.sync"),
				"edl":        v.GetDuration("queue.timeouts.edl"),
				"transcript": v.GetDuration("queue.timeouts.transcript"),
				"render":     v.GetDuration("queue.timeouts.render"),
			},
		},
		Confidence: ConfidenceConfig{
			High:   v.GetFloat64("confidence.high"),
			Medium: v.GetFloat64("confidence.medium"),
		},
		EDL: EDLConfig{
			FPS: v.GetInt("edl.fps"),
		},
		Media: MediaConfig{
			ServiceURL:   v.GetString("media.service_url"),
			Timeout:      v.GetInt("media.timeout"),
			PollInterval: v.GetDuration("media.poll_interval"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Render: RenderConfig{
			MockStepDelay: v.GetDuration("render.mock_step_delay"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.driver", "redis")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.compute_per_hour", 60)
	v.SetDefault("ratelimit.render_per_hour", 10)

	// Queue defaults
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("queue.backoff_base", "2s")
	v.SetDefault("queue.backoff_cap", "2m")
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("queue.cancel_poll", "1s")
	v.SetDefault("queue.cancel_grace", "15s")
	v.SetDefault("queue.timeouts.sync", "10m")
	v.SetDefault("queue.timeouts.edl", "1m")
	v.SetDefault("queue.timeouts.transcript", "30m")
	v.SetDefault("queue.timeouts.render", "60m")

	v.SetDefault("confidence.high", 0.85)
	v.SetDefault("confidence.medium", 0.50)
	v.SetDefault("edl.fps", 30)

	// Media service defaults; an empty URL switches workers to mock mode
	v.SetDefault("media.service_url", "")
	v.SetDefault("media.timeout", 120)
	v.SetDefault("media.poll_interval", "2s")

	// Groq defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "whisper-large-v3")

	v.SetDefault("render.mock_step_delay", "1s")
}

func asConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "redis", "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			problems = append(problems, fmt.Sprintf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of redis, postgres, sqlite, memory", c.Store.Driver))
	}

	if !(c.Confidence.Medium > 0 && c.Confidence.Medium < c.Confidence.High && c.Confidence.High <= 1) {
		problems = append(problems, fmt.Sprintf("confidence thresholds must satisfy 0 < medium (%v) < high (%v) <= 1", c.Confidence.Medium, c.Confidence.High))
	}
	if c.Queue.Concurrency < 1 {
		problems = append(problems, "queue.concurrency must be at least 1")
	}
	if c.Queue.MaxRetry < 0 {
		problems = append(problems, "queue.max_retry must not be negative")
	}
	if c.Queue.CancelPoll <= 0 || c.Queue.CancelGrace <= 0 {
		problems = append(problems, "queue.cancel_poll and queue.cancel_grace must be positive")
	}
	if c.EDL.FPS < 1 || c.EDL.FPS > 120 {
		problems = append(problems, fmt.Sprintf("edl.fps %d is out of range", c.EDL.FPS))
	}
	if c.Server.Env == "production" && !c.Gateway.Enabled && c.JWT.Secret == "change-me-in-production" {
		problems = append(problems, "jwt.secret must be set in production")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
