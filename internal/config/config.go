package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the DocuFlow server.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Auth     AuthConfig
	OpenAI   OpenAIConfig
	Pipeline PipelineConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	// Bcrypt hashes of accepted API keys, comma-separated in the env.
	APIKeyHashes []string
	RatePerMin   int
}

type OpenAIConfig struct {
	APIKey          string
	AssistantID     string
	BaseURL         string
	Timeout         time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int
}

// PipelineConfig points at the externally hosted document pipeline the
// poll-to-push bridge talks to.
type PipelineConfig struct {
	BaseURL       string
	Timeout       time.Duration
	PollInterval  time.Duration
	CancelTimeout time.Duration
	AbandonAfter  time.Duration
}

type JobsConfig struct {
	EvictDelay time.Duration
	ResultTTL  time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid. A missing OpenAI API key is deliberately not a load
// error: jobs on the direct-AI path surface it as an authentication failure.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("DOCUFLOW_PORT", 8080),
			Env:  envString("DOCUFLOW_ENV", "development"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			APIKeyHashes: envList("DOCUFLOW_API_KEY_HASHES"),
			RatePerMin:   envInt("DOCUFLOW_RATE_PER_MIN", 60),
		},
		OpenAI: OpenAIConfig{
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			AssistantID:     os.Getenv("OPENAI_ASSISTANT_ID"),
			BaseURL:         envString("OPENAI_BASE_URL", "https://api.openai.com"),
			Timeout:         envDuration("OPENAI_TIMEOUT", 30*time.Second),
			PollInterval:    envDuration("OPENAI_POLL_INTERVAL", 2*time.Second),
			MaxPollAttempts: envInt("OPENAI_MAX_POLL_ATTEMPTS", 60),
		},
		Pipeline: PipelineConfig{
			BaseURL:       os.Getenv("PIPELINE_BASE_URL"),
			Timeout:       envDuration("PIPELINE_TIMEOUT", 10*time.Second),
			PollInterval:  envDuration("PIPELINE_POLL_INTERVAL", time.Second),
			CancelTimeout: envDuration("PIPELINE_CANCEL_TIMEOUT", 3*time.Second),
			AbandonAfter:  envDuration("PIPELINE_ABANDON_AFTER", 2*time.Minute),
		},
		Jobs: JobsConfig{
			EvictDelay: envDuration("DOCUFLOW_EVICT_DELAY", 30*time.Second),
			ResultTTL:  envDuration("DOCUFLOW_RESULT_TTL", 10*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if len(c.Auth.APIKeyHashes) == 0 {
		return fmt.Errorf("DOCUFLOW_API_KEY_HASHES is required")
	}
	for _, h := range c.Auth.APIKeyHashes {
		if !strings.HasPrefix(h, "$2") {
			return fmt.Errorf("DOCUFLOW_API_KEY_HASHES entries must be bcrypt hashes, got %q", h)
		}
	}

	if c.Pipeline.BaseURL != "" &&
		!strings.HasPrefix(c.Pipeline.BaseURL, "http://") &&
		!strings.HasPrefix(c.Pipeline.BaseURL, "https://") {
		return fmt.Errorf("PIPELINE_BASE_URL must start with http:// or https://, got %q", c.Pipeline.BaseURL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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
