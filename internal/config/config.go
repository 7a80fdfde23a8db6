package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"taskhub/internal/orchestrator"
	"taskhub/internal/retry"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
	// Role selects which routes are mounted: dashboard, jobs or all.
	Role string `yaml:"role" validate:"omitempty,oneof=dashboard jobs all"`
	// ProxyHeader names the header carrying the client address when the
	// server sits behind a proxy, e.g. X-Forwarded-For.
	ProxyHeader string `yaml:"proxyHeader"`
}

type ScraperConfig struct {
	UserAgent string `yaml:"userAgent"`
	TimeoutMs int    `yaml:"timeoutMs" validate:"gte=0"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type RodConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
	// Channel receives every task snapshot; Key holds the latest one.
	Channel string `yaml:"channel"`
	Key     string `yaml:"key"`
}

// RateLimitConfig caps job submissions per client IP per minute. Zero
// disables the limit; it also needs redis.url. ExemptIPs lists peers that
// POST /v1/jobs never limits, such as a separately deployed dashboard.
type RateLimitConfig struct {
	PerMinute int      `yaml:"perMinute" validate:"gte=0"`
	ExemptIPs []string `yaml:"exemptIPs" validate:"dive,ip"`
}

type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs" validate:"gte=0"`
	PollIntervalMs    int `yaml:"pollIntervalMs" validate:"gte=0"`
}

// JobAPIConfig points the dashboard at the job system it orchestrates.
type JobAPIConfig struct {
	BaseURL   string `yaml:"baseURL" validate:"omitempty,url"`
	TimeoutMs int    `yaml:"timeoutMs" validate:"gte=0"`
}

// OrchestratorConfig holds the default poll bounds and the adopter sweep.
type OrchestratorConfig struct {
	PollIntervalMs  int `yaml:"pollIntervalMs" validate:"gte=0"`
	PollMaxAttempts int `yaml:"pollMaxAttempts" validate:"gte=0"`
	// AdoptIntervalMs enables the orphan sweep when positive.
	AdoptIntervalMs int `yaml:"adoptIntervalMs" validate:"gte=0"`
}

type RetryConfig struct {
	MaxRetries     int `yaml:"maxRetries" validate:"gte=0,lte=20"`
	InitialDelayMs int `yaml:"initialDelayMs" validate:"gte=0"`
	MaxDelayMs     int `yaml:"maxDelayMs" validate:"gte=0"`
}

// JobTTLConfig controls per-job-type retention in days.
type JobTTLConfig struct {
	DefaultDays int `yaml:"defaultDays" validate:"gte=0"`
	PageDays    int `yaml:"pageDays" validate:"gte=0"`
}

// RetentionConfig controls deletion of old finished jobs so that the
// database does not grow without bound.
type RetentionConfig struct {
	Enabled                bool         `yaml:"enabled"`
	CleanupIntervalMinutes int          `yaml:"cleanupIntervalMinutes" validate:"gte=0"`
	Jobs                   JobTTLConfig `yaml:"jobs"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Scraper      ScraperConfig      `yaml:"scraper"`
	Robots       RobotsConfig       `yaml:"robots"`
	Rod          RodConfig          `yaml:"rod"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Worker       WorkerConfig       `yaml:"worker"`
	JobAPI       JobAPIConfig       `yaml:"jobAPI"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Retry        RetryConfig        `yaml:"retry"`
	Retention    RetentionConfig    `yaml:"retention"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	return &cfg
}

// Validate checks field ranges and the cross-field rules a struct tag
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	role := c.Role()
	if role == "dashboard" && c.JobAPI.BaseURL == "" {
		return fmt.Errorf("jobAPI.baseURL is required for role dashboard")
	}
	if role != "dashboard" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for role %q", role)
	}
	if c.Retry.MaxDelayMs > 0 && c.Retry.InitialDelayMs > c.Retry.MaxDelayMs {
		return fmt.Errorf("retry.initialDelayMs (%d) exceeds retry.maxDelayMs (%d)", c.Retry.InitialDelayMs, c.Retry.MaxDelayMs)
	}
	return nil
}

// Role returns the configured server role, defaulting to all.
func (c *Config) Role() string {
	if c.Server.Role == "" {
		return "all"
	}
	return c.Server.Role
}

// JobAPIBaseURL returns the job system the dashboard submits to. With no
// explicit base URL the in-process job API on the local port is used.
func (c *Config) JobAPIBaseURL() string {
	if c.JobAPI.BaseURL != "" {
		return c.JobAPI.BaseURL
	}
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// PollOptions returns the orchestrator defaults; zero fields keep the
// built-in values.
func (c *Config) PollOptions() orchestrator.PollOptions {
	po := orchestrator.DefaultPollOptions()
	if c.Orchestrator.PollIntervalMs > 0 {
		po.Interval = time.Duration(c.Orchestrator.PollIntervalMs) * time.Millisecond
	}
	if c.Orchestrator.PollMaxAttempts > 0 {
		po.MaxAttempts = c.Orchestrator.PollMaxAttempts
	}
	return po
}

// RetryPolicy returns the policy for resilient reads. A zero MaxRetries in
// the file means "use the default"; disable retries with a retry block that
// sets maxRetries to 0 and initialDelayMs to a positive value.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	r := c.Retry
	if r.MaxRetries > 0 || r.InitialDelayMs > 0 {
		p.MaxRetries = r.MaxRetries
	}
	if r.InitialDelayMs > 0 {
		p.InitialDelay = time.Duration(r.InitialDelayMs) * time.Millisecond
	}
	if r.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(r.MaxDelayMs) * time.Millisecond
	}
	return p
}
