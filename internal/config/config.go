// Package config loads process configuration: a YAML file overridden by
// environment variables, with an optional local .env file for
// development. Grounded on the teacher's internal/config/config.go
// (Load/LoadFromEnv split, godotenv.Load before env overrides), trimmed
// to exactly the options spec.md §6 names plus the connection strings
// and provider credentials every component needs to construct.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the single configuration object assembled at process start
// and passed by value/pointer into cmd/server and cmd/worker.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	Bedrock  BedrockConfig  `yaml:"bedrock"`
	Google   GoogleConfig   `yaml:"google"`
}

// ServerConfig controls the HTTP/event listener (cmd/server).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the Postgres connection string — spec.md §6
// "Persisted state layout" DSN.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional Redis connection string used by
// internal/pkg/distlock for the cursor lock; empty means fall back to
// Postgres advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// WorkerConfig holds the options spec.md §6's configuration table names
// verbatim, governing cmd/worker's background loops.
type WorkerConfig struct {
	// WorkerMode enables the background sync+worker loops in this
	// process (WORKER_MODE).
	WorkerMode bool `yaml:"worker_mode"`
	// AISummEnabled enables the Summarizer Worker (AI_SUMM_ENABLED).
	AISummEnabled bool `yaml:"ai_summ_enabled"`
	// AIJobsBatch is the worker claim batch size (AI_JOBS_BATCH, default 5).
	AIJobsBatch int `yaml:"ai_jobs_batch"`
	// AIIdleSleepSeconds is the worker idle sleep, in seconds
	// (AI_IDLE_SLEEP, default 5).
	AIIdleSleepSeconds int `yaml:"ai_idle_sleep_seconds"`
	// StripReplyChains enables reply-chain removal in the preprocessor
	// (STRIP_REPLY_CHAINS).
	StripReplyChains bool `yaml:"strip_reply_chains"`
	// MaxEmailsPerCycle is the sync pass budget, i.e. the policy record's
	// max_emails_per_cycle (MAX_EMAILS_PER_CYCLE).
	MaxEmailsPerCycle int `yaml:"max_emails_per_cycle"`
}

// IdleSleep converts AIIdleSleepSeconds to a time.Duration.
func (w WorkerConfig) IdleSleep() time.Duration {
	return time.Duration(w.AIIdleSleepSeconds) * time.Second
}

// BedrockConfig names the region and model for the LLM call
// (internal/summarizer.BedrockClient) — not recognized as per-request
// configuration (spec.md §6 "model name... are compile-time constants"),
// but the region/model identity is deployment-specific, not a prompt
// parameter, so it lives here rather than in internal/summarizer/constants.go.
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
}

// GoogleConfig holds the Gmail OAuth client credentials used by
// internal/credentials.NewGoogleRefresher.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Load reads and parses the YAML configuration file at path, applying
// defaults to server host and port, worker batch size and idle sleep,
// and Bedrock region when left zero; other fields keep their zero value.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			return nil, uerr
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Worker.AIJobsBatch == 0 {
		cfg.Worker.AIJobsBatch = 5
	}
	if cfg.Worker.AIIdleSleepSeconds == 0 {
		cfg.Worker.AIIdleSleepSeconds = 5
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}

	return &cfg, nil
}

// LoadFromEnv loads path via Load, first sourcing a local .env file (no
// error if missing), then overriding recognized fields from the process
// environment — exactly the teacher's LoadFromEnv precedence (env beats
// YAML beats built-in default).
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("WORKER_MODE"); v != "" {
		cfg.Worker.WorkerMode = parseBool(v)
	}
	if v := os.Getenv("AI_SUMM_ENABLED"); v != "" {
		cfg.Worker.AISummEnabled = parseBool(v)
	}
	if v := os.Getenv("AI_JOBS_BATCH"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			cfg.Worker.AIJobsBatch = n
		}
	}
	if v := os.Getenv("AI_IDLE_SLEEP"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			cfg.Worker.AIIdleSleepSeconds = n
		}
	}
	if v := os.Getenv("STRIP_REPLY_CHAINS"); v != "" {
		cfg.Worker.StripReplyChains = parseBool(v)
	}
	if v := os.Getenv("MAX_EMAILS_PER_CYCLE"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			cfg.Worker.MaxEmailsPerCycle = n
		}
	}
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.Bedrock.Region = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Bedrock.ModelID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}

	return cfg, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
