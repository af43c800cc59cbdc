package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// Config holds all configuration for the jobforge server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Credits   CreditsConfig
	RateLimit RateLimitConfig
	Dispatch  DispatchConfig
	Jobs      JobsConfig
	Events    EventsConfig
	AI        AIConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// CreditsConfig controls the per-user balance and the action cost table.
type CreditsConfig struct {
	DefaultAllotment int
	ResetInterval    time.Duration
	ResetSpec        string
	CostsFile        string
	Costs            CostTable
}

// RateLimitConfig controls fixed-window request counting.
type RateLimitConfig struct {
	Window            time.Duration
	DefaultLimit      int
	Limits            map[string]int
	APIRequestsPerMin int
}

type DispatchConfig struct {
	Mode        string
	WebhookURL  string
	Channel     string
	Timeout     time.Duration
	Concurrency int
	// Consume runs a local processor on the redis channel in redis mode.
	Consume bool
}

type JobsConfig struct {
	MaxRetries           int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	ProcessingTimeout    time.Duration
	StalePendingAfter    time.Duration
	StaleProcessingAfter time.Duration
	SweepSpec            string
}

type EventsConfig struct {
	Channel string
}

// AIConfig selects the generator the local runner uses.
type AIConfig struct {
	Provider string
	Ollama   OllamaConfig
	OpenAI   OpenAIConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OpenAIConfig also serves OpenAI-compatible servers such as vLLM via BaseURL.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

const (
	AIProviderEcho   = "echo"
	AIProviderOllama = "ollama"
	AIProviderOpenAI = "openai"
)

var validProviders = map[string]bool{
	AIProviderEcho:   true,
	AIProviderOllama: true,
	AIProviderOpenAI: true,
}

const (
	DispatchModeLocal = "local"
	DispatchModeHTTP  = "http"
	DispatchModeRedis = "redis"
)

var validDispatchModes = map[string]bool{
	DispatchModeLocal: true,
	DispatchModeHTTP:  true,
	DispatchModeRedis: true,
}

// DefaultRateLimits are the per-endpoint request limits applied within one window.
var DefaultRateLimits = map[string]int{
	string(models.JobTypeResumeGeneration):      10,
	string(models.JobTypeCoverLetterGeneration): 10,
	string(models.JobTypeATSAnalysis):           20,
	string(models.JobTypeContentOptimization):   20,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("JOBFORGE_PORT", 8080),
			Env:  envString("JOBFORGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Credits: CreditsConfig{
			DefaultAllotment: envInt("CREDITS_DEFAULT_ALLOTMENT", 20),
			ResetInterval:    envDuration("CREDITS_RESET_INTERVAL", 24*time.Hour),
			ResetSpec:        envString("CREDITS_RESET_SPEC", "@every 15m"),
			CostsFile:        os.Getenv("CREDITS_COSTS_FILE"),
		},
		RateLimit: RateLimitConfig{
			Window:            envDuration("RATE_LIMIT_WINDOW", time.Hour),
			DefaultLimit:      envInt("RATE_LIMIT_DEFAULT", 30),
			APIRequestsPerMin: envInt("RATE_LIMIT_API_PER_MIN", 120),
		},
		Dispatch: DispatchConfig{
			Mode:        envString("DISPATCH_MODE", DispatchModeLocal),
			WebhookURL:  os.Getenv("DISPATCH_WEBHOOK_URL"),
			Channel:     envString("DISPATCH_CHANNEL", "CMD_PROCESS_JOB"),
			Timeout:     envDuration("DISPATCH_TIMEOUT", 5*time.Second),
			Concurrency: envInt("DISPATCH_CONCURRENCY", 8),
			Consume:     envBool("DISPATCH_CONSUME", true),
		},
		Jobs: JobsConfig{
			MaxRetries:           envInt("JOBS_MAX_RETRIES", 3),
			BackoffInitial:       envDuration("JOBS_BACKOFF_INITIAL", 5*time.Second),
			BackoffMax:           envDuration("JOBS_BACKOFF_MAX", 5*time.Minute),
			ProcessingTimeout:    envDurationSecs("JOBS_PROCESSING_TIMEOUT_SECS", 120*time.Second),
			StalePendingAfter:    envDuration("JOBS_STALE_PENDING_AFTER", 2*time.Minute),
			StaleProcessingAfter: envDuration("JOBS_STALE_PROCESSING_AFTER", 10*time.Minute),
			SweepSpec:            envString("JOBS_SWEEP_SPEC", "@every 1m"),
		},
		Events: EventsConfig{
			Channel: envString("EVENTS_CHANNEL", "EVENT_JOB_UPDATED"),
		},
		AI: AIConfig{
			Provider: envString("AI_PROVIDER", AIProviderEcho),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
		},
	}

	limits, err := parseLimits(os.Getenv("RATE_LIMITS"))
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.Limits = limits

	costs, err := LoadCostTable(cfg.Credits.CostsFile)
	if err != nil {
		return nil, err
	}
	cfg.Credits.Costs = costs

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Credits.DefaultAllotment < 0 {
		return fmt.Errorf("CREDITS_DEFAULT_ALLOTMENT must be >= 0, got %d", c.Credits.DefaultAllotment)
	}
	if c.Credits.ResetInterval <= 0 {
		return fmt.Errorf("CREDITS_RESET_INTERVAL must be positive")
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimit.DefaultLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT_DEFAULT must be positive, got %d", c.RateLimit.DefaultLimit)
	}

	if !validDispatchModes[c.Dispatch.Mode] {
		return fmt.Errorf("DISPATCH_MODE must be one of local, http, redis; got %q", c.Dispatch.Mode)
	}
	if c.Dispatch.Mode == DispatchModeHTTP {
		if c.Dispatch.WebhookURL == "" {
			return fmt.Errorf("DISPATCH_WEBHOOK_URL is required when DISPATCH_MODE is http")
		}
		if !strings.HasPrefix(c.Dispatch.WebhookURL, "http://") && !strings.HasPrefix(c.Dispatch.WebhookURL, "https://") {
			return fmt.Errorf("DISPATCH_WEBHOOK_URL must start with http:// or https://, got %q", c.Dispatch.WebhookURL)
		}
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive, got %d", c.Dispatch.Concurrency)
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of echo, ollama, openai; got %q", c.AI.Provider)
	}
	if c.AI.Provider == AIProviderOpenAI && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}

	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("JOBS_MAX_RETRIES must be >= 0, got %d", c.Jobs.MaxRetries)
	}

	return nil
}

// parseLimits parses "endpoint=limit,endpoint=limit" on top of DefaultRateLimits.
func parseLimits(raw string) (map[string]int, error) {
	limits := make(map[string]int, len(DefaultRateLimits))
	for k, v := range DefaultRateLimits {
		limits[k] = v
	}
	if strings.TrimSpace(raw) == "" {
		return limits, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		endpoint, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || endpoint == "" {
			return nil, fmt.Errorf("RATE_LIMITS entry %q must be endpoint=limit", pair)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RATE_LIMITS limit for %q must be a positive integer, got %q", endpoint, value)
		}
		limits[endpoint] = n
	}
	return limits, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
