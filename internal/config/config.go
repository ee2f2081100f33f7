// Package config loads the daemon's configuration from environment
// variables, with an optional YAML defaults file layered underneath them.
// It is constructed once at startup and passed explicitly into every
// component constructor. The daemon's main package still reads a few
// process-level variables (YOKEFLOW_CONFIG_FILE, YOKEFLOW_CLUE_LOG,
// SCAN_INTERVAL) directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dynamous-community/YokeFlow/internal/sandbox"
)

// Config is the daemon's complete runtime configuration, covering exactly
// the "Environment" list spec.md §6 names plus the domain-stack wiring
// SPEC_FULL.md adds on top of it.
type Config struct {
	// DatabaseDSN is the Task Store's SQLite connection string.
	DatabaseDSN string `yaml:"database_dsn"`
	// LogDir is the root directory for per-project event log artifacts.
	LogDir string `yaml:"log_dir"`

	// AnthropicAPIKey, OpenAIAPIKey authenticate the two directly-keyed
	// providers. Bedrock authenticates via the standard AWS credential
	// chain instead, so it has no key field here.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AWSRegion       string `yaml:"aws_region"`

	// InitializerModel, CodingModel, ReviewModel are the default-models
	// pair (plus the deep-review model) spec.md §6 requires.
	InitializerModel string `yaml:"initializer_model"`
	CodingModel      string `yaml:"coding_model"`
	ReviewModel      string `yaml:"review_model"`

	// AutoContinueDelay is slept between auto-chained sessions.
	AutoContinueDelay time.Duration `yaml:"auto_continue_delay"`
	// SessionTimeout soft-caps one session's wall-clock duration. Zero
	// disables the cap.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// MaxSessionsPerRun bounds how many sessions one workflow execution
	// auto-chains through. Zero means unbounded.
	MaxSessionsPerRun int `yaml:"max_sessions_per_run"`
	// BufferCap is the agent transport's per-tool-result buffer size cap.
	BufferCap int `yaml:"buffer_cap"`
	// DeepReviewPoolSize bounds concurrent deep reviews.
	DeepReviewPoolSize int `yaml:"deep_review_pool_size"`

	// DefaultSandboxPolicy seeds projects created without an explicit
	// policy.
	DefaultSandboxPolicy sandbox.Policy `yaml:"default_sandbox_policy"`

	// Engine selects the durable-execution backend: "inmem" or "temporal".
	Engine string `yaml:"engine"`
	// TemporalHostPort, TemporalNamespace, TemporalTaskQueue configure the
	// Temporal engine; ignored when Engine is "inmem".
	TemporalHostPort  string `yaml:"temporal_host_port"`
	TemporalNamespace string `yaml:"temporal_namespace"`
	TemporalTaskQueue string `yaml:"temporal_task_queue"`

	// RedisAddr, RedisPassword configure the per-project advisory lock and
	// the live counter-snapshot Pub/Sub fan-out. Empty disables both: the
	// daemon falls back to an in-process lock and skips counter fan-out.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`

	// MongoURI, MongoDatabase configure the session correlation store
	// (internal/session/mongo). Empty leaves the orchestrator without a
	// session store, so run attempts are not recorded.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// an optional YAML file at yamlPath (skipped entirely if it does not
// exist), then environment variables.
func Load(yamlPath string) (Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	applyEnv(&cfg)

	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("config: DATABASE_DSN is required")
	}
	if cfg.AnthropicAPIKey == "" && cfg.OpenAIAPIKey == "" && cfg.AWSRegion == "" {
		return Config{}, fmt.Errorf("config: at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY, AWS_REGION must be set")
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		LogDir:             "./data/logs",
		InitializerModel:   "claude-sonnet-4-5",
		CodingModel:        "claude-sonnet-4-5",
		ReviewModel:        "claude-sonnet-4-5",
		AutoContinueDelay:  5 * time.Second,
		MaxSessionsPerRun:  0,
		BufferCap:          10 * 1024 * 1024,
		DeepReviewPoolSize: 4,
		DefaultSandboxPolicy: sandbox.Policy{
			Kind: "none",
		},
		Engine:            "inmem",
		TemporalTaskQueue: "yokeflow-projects",
	}
}

func applyEnv(cfg *Config) {
	cfg.DatabaseDSN = envOr("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.LogDir = envOr("YOKEFLOW_LOG_DIR", cfg.LogDir)
	cfg.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.OpenAIAPIKey = envOr("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.AWSRegion = envOr("AWS_REGION", cfg.AWSRegion)
	cfg.InitializerModel = envOr("YOKEFLOW_INITIALIZER_MODEL", cfg.InitializerModel)
	cfg.CodingModel = envOr("YOKEFLOW_CODING_MODEL", cfg.CodingModel)
	cfg.ReviewModel = envOr("YOKEFLOW_REVIEW_MODEL", cfg.ReviewModel)
	cfg.AutoContinueDelay = envDurationOr("YOKEFLOW_AUTO_CONTINUE_DELAY", cfg.AutoContinueDelay)
	cfg.SessionTimeout = envDurationOr("YOKEFLOW_SESSION_TIMEOUT", cfg.SessionTimeout)
	cfg.MaxSessionsPerRun = envIntOr("YOKEFLOW_MAX_SESSIONS_PER_RUN", cfg.MaxSessionsPerRun)
	cfg.BufferCap = envIntOr("YOKEFLOW_BUFFER_CAP", cfg.BufferCap)
	cfg.DeepReviewPoolSize = envIntOr("YOKEFLOW_DEEP_REVIEW_POOL_SIZE", cfg.DeepReviewPoolSize)
	cfg.DefaultSandboxPolicy.Kind = envOr("YOKEFLOW_SANDBOX_KIND", cfg.DefaultSandboxPolicy.Kind)
	cfg.DefaultSandboxPolicy.Image = envOr("YOKEFLOW_SANDBOX_IMAGE", cfg.DefaultSandboxPolicy.Image)
	cfg.DefaultSandboxPolicy.CPULimit = envOr("YOKEFLOW_SANDBOX_CPU", cfg.DefaultSandboxPolicy.CPULimit)
	cfg.DefaultSandboxPolicy.MemLimit = envOr("YOKEFLOW_SANDBOX_MEM", cfg.DefaultSandboxPolicy.MemLimit)
	cfg.Engine = envOr("YOKEFLOW_ENGINE", cfg.Engine)
	cfg.TemporalHostPort = envOr("TEMPORAL_HOST_PORT", cfg.TemporalHostPort)
	cfg.TemporalNamespace = envOr("TEMPORAL_NAMESPACE", cfg.TemporalNamespace)
	cfg.TemporalTaskQueue = envOr("TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)
	cfg.RedisAddr = envOr("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envOr("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.MongoURI = envOr("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = envOr("MONGO_DATABASE", cfg.MongoDatabase)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
