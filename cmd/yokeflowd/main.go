// Command yokeflowd runs the session orchestration daemon: it schedules and
// drives build sessions against sandboxed workspaces for every open project
// in one Task Store, streaming events and quality signals as it goes. It
// carries no HTTP or WebSocket surface, no dashboard, and no project-creation
// API — those are out of scope; operators create projects directly against
// the Task Store and this daemon picks up the resulting work.
//
// # Configuration
//
// Environment variables:
//
//	DATABASE_DSN                    - Task Store SQLite DSN (required)
//	ANTHROPIC_API_KEY               - Anthropic provider credential
//	OPENAI_API_KEY                  - OpenAI provider credential
//	AWS_REGION                      - enables the Bedrock provider via the default AWS credential chain
//	YOKEFLOW_CONFIG_FILE            - optional YAML defaults file, env vars above still win
//	YOKEFLOW_LOG_DIR                - root directory for per-project event logs (default: "./data/logs")
//	YOKEFLOW_INITIALIZER_MODEL      - default initializer-session model (default: "claude-sonnet-4-5")
//	YOKEFLOW_CODING_MODEL           - default coding-session model (default: "claude-sonnet-4-5")
//	YOKEFLOW_REVIEW_MODEL           - default deep-review model (default: "claude-sonnet-4-5")
//	YOKEFLOW_AUTO_CONTINUE_DELAY    - delay between auto-chained sessions (default: "5s")
//	YOKEFLOW_SESSION_TIMEOUT        - soft per-session wall-clock cap, "0" disables (default: "0")
//	YOKEFLOW_MAX_SESSIONS_PER_RUN   - iteration budget per workflow execution, "0" means unbounded
//	YOKEFLOW_BUFFER_CAP             - agent transport per-tool-result buffer cap in bytes
//	YOKEFLOW_DEEP_REVIEW_POOL_SIZE  - concurrent deep reviews across the instance (default: 4)
//	YOKEFLOW_SANDBOX_KIND           - default sandbox policy kind: "none", "container", "remote_cloud"
//	YOKEFLOW_SANDBOX_IMAGE          - default sandbox container image
//	YOKEFLOW_SANDBOX_CPU            - default sandbox CPU quota
//	YOKEFLOW_SANDBOX_MEM            - default sandbox memory limit
//	YOKEFLOW_ENGINE                 - durable execution backend: "inmem" or "temporal" (default: "inmem")
//	TEMPORAL_HOST_PORT              - Temporal frontend address, required when YOKEFLOW_ENGINE=temporal
//	TEMPORAL_NAMESPACE              - Temporal namespace
//	TEMPORAL_TASK_QUEUE             - Temporal task queue (default: "yokeflow-projects")
//	REDIS_ADDR                      - enables the cross-instance project lock and counter Pub/Sub fan-out
//	REDIS_PASSWORD                  - Redis password (optional)
//	MONGO_URI                       - enables the Mongo-backed session correlation store
//	MONGO_DATABASE                  - Mongo database name, required when MONGO_URI is set
//	SCAN_INTERVAL                   - how often to look for projects with no running workflow (default: "30s")
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider/anthropic"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider/bedrock"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider/openai"
	yokeconfig "github.com/dynamous-community/YokeFlow/internal/config"
	"github.com/dynamous-community/YokeFlow/internal/engine"
	"github.com/dynamous-community/YokeFlow/internal/engine/inmem"
	"github.com/dynamous-community/YokeFlow/internal/engine/temporal"
	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/orchestrator"
	"github.com/dynamous-community/YokeFlow/internal/orchestrator/lock"
	"github.com/dynamous-community/YokeFlow/internal/sandbox"
	"github.com/dynamous-community/YokeFlow/internal/security"
	"github.com/dynamous-community/YokeFlow/internal/session"
	"github.com/dynamous-community/YokeFlow/internal/session/mongo"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := yokeconfig.Load(os.Getenv("YOKEFLOW_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewNoopLogger()
	tracer := telemetry.NewNoopTracer()
	if _, ok := os.LookupEnv("YOKEFLOW_CLUE_LOG"); ok {
		logger = telemetry.NewClueLogger()
		tracer = telemetry.NewClueTracer()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("close redis: %v", err)
			}
		}()
	}

	var locker taskstore.Locker
	if redisClient != nil && cfg.Engine == "temporal" {
		locker = lock.New(redisClient, 30*time.Second)
	}

	store, err := taskstore.New(cfg.DatabaseDSN, locker)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	var orchOpts []orchestrator.Option
	if cfg.MongoURI != "" {
		sessionStore, err := connectSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, orchestrator.WithSessionStore(sessionStore))
	}

	gate := security.New()
	sandboxMgr := sandbox.NewManager(sandbox.DefaultFactory(gate), 2, 4)

	bus := hooks.NewBus()
	if redisClient != nil {
		if _, err := bus.Register(orchestrator.NewRedisCounterPublisher(redisClient)); err != nil {
			return fmt.Errorf("register counter publisher: %w", err)
		}
	}

	providers, err := buildProviderSelector(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build provider selector: %w", err)
	}

	eng, closeEngine, err := buildEngine(cfg, logger, tracer)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if closeEngine != nil {
		defer closeEngine()
	}

	orch, err := orchestrator.New(ctx, orchestratorConfig(cfg), store, sandboxMgr, bus, eng, providers, logger, tracer, orchOpts...)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	log.Printf("reconciling orphaned sessions")
	if err := orch.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	scanInterval := envDurationOr("SCAN_INTERVAL", 30*time.Second)

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanLoop(ctx, store, orch, scanInterval, logger)
	}()

	log.Printf("yokeflowd running (engine=%s scan_interval=%s)", cfg.Engine, scanInterval)
	log.Printf("exiting (%v)", <-errc)

	cancel()
	wg.Wait()
	log.Printf("exited")
	return nil
}

// scanLoop starts (or resumes) the project workflow for every non-archived
// project at a fixed interval. Starting an already-running workflow is a
// no-op at the engine level, so this is safe to run repeatedly rather than
// reacting to project-creation events the daemon has no API surface to
// receive.
func scanLoop(ctx context.Context, store *taskstore.Store, orch *orchestrator.Orchestrator, interval time.Duration, logger telemetry.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scanOnce(ctx, store, orch, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanOnce(ctx, store, orch, logger)
		}
	}
}

func scanOnce(ctx context.Context, store *taskstore.Store, orch *orchestrator.Orchestrator, logger telemetry.Logger) {
	projects, err := store.ListProjects(ctx)
	if err != nil {
		logger.Error(ctx, "yokeflowd: list projects", "error", err)
		return
	}
	for _, p := range projects {
		if _, err := orch.StartProject(ctx, p.ID); err != nil {
			logger.Error(ctx, "yokeflowd: start project", "project_id", p.ID, "error", err)
		}
	}
}

func orchestratorConfig(cfg yokeconfig.Config) orchestrator.Config {
	return orchestrator.Config{
		LogDir:               cfg.LogDir,
		InitializerModel:     cfg.InitializerModel,
		CodingModel:          cfg.CodingModel,
		ReviewModel:          cfg.ReviewModel,
		AutoContinueDelay:    cfg.AutoContinueDelay,
		DefaultSandboxPolicy: cfg.DefaultSandboxPolicy,
		SessionTimeout:       cfg.SessionTimeout,
		MaxSessionsPerRun:    cfg.MaxSessionsPerRun,
		DeepReviewPoolSize:   cfg.DeepReviewPoolSize,
	}
}

func buildEngine(cfg yokeconfig.Config, logger telemetry.Logger, tracer telemetry.Tracer) (engine.Engine, func(), error) {
	switch cfg.Engine {
	case "", "inmem":
		return inmem.New(), nil, nil
	case "temporal":
		if cfg.TemporalHostPort == "" {
			return nil, nil, fmt.Errorf("TEMPORAL_HOST_PORT is required when YOKEFLOW_ENGINE=temporal")
		}
		eng, err := temporal.New(temporal.Options{
			ClientOptions: &client.Options{HostPort: cfg.TemporalHostPort, Namespace: cfg.TemporalNamespace},
			WorkerOptions: temporal.WorkerOptions{TaskQueue: cfg.TemporalTaskQueue},
			Logger:        logger,
			Tracer:        tracer,
		})
		if err != nil {
			return nil, nil, err
		}
		return eng, func() {
			if err := eng.Close(); err != nil {
				log.Printf("close temporal engine: %v", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown YOKEFLOW_ENGINE %q", cfg.Engine)
	}
}

func buildProviderSelector(ctx context.Context, cfg yokeconfig.Config) (orchestrator.ProviderSelector, error) {
	var (
		anthropicClient provider.Provider
		openaiClient    provider.Provider
		bedrockClient   provider.Provider
	)

	if cfg.AnthropicAPIKey != "" {
		c, err := anthropic.New(cfg.AnthropicAPIKey, maxTokensFor(cfg.BufferCap))
		if err != nil {
			return nil, fmt.Errorf("build anthropic provider: %w", err)
		}
		anthropicClient = c
	}
	if cfg.OpenAIAPIKey != "" {
		c, err := openai.New(cfg.OpenAIAPIKey, maxTokensFor(cfg.BufferCap))
		if err != nil {
			return nil, fmt.Errorf("build openai provider: %w", err)
		}
		openaiClient = c
	}
	if cfg.AWSRegion != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		c, err := bedrock.New(bedrockruntime.NewFromConfig(awsCfg), maxTokensFor(cfg.BufferCap))
		if err != nil {
			return nil, fmt.Errorf("build bedrock provider: %w", err)
		}
		bedrockClient = c
	}

	return func(modelID string) (provider.Provider, error) {
		switch {
		case hasPrefix(modelID, "claude-") && anthropicClient != nil:
			return anthropicClient, nil
		case hasPrefix(modelID, "gpt-") && openaiClient != nil:
			return openaiClient, nil
		case hasPrefix(modelID, "bedrock/") && bedrockClient != nil:
			return bedrockClient, nil
		case anthropicClient != nil:
			return anthropicClient, nil
		default:
			return nil, fmt.Errorf("no provider configured for model %q", modelID)
		}
	}, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func maxTokensFor(bufferCap int) int {
	if bufferCap <= 0 {
		return 8192
	}
	return bufferCap
}

func connectSessionStore(ctx context.Context, cfg yokeconfig.Config) (session.Store, error) {
	if cfg.MongoDatabase == "" {
		return nil, fmt.Errorf("MONGO_DATABASE is required when MONGO_URI is set")
	}
	mongoClient, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	store, err := mongo.New(ctx, mongo.Options{Client: mongoClient, Database: cfg.MongoDatabase})
	if err != nil {
		return nil, fmt.Errorf("build session store: %w", err)
	}
	return store, nil
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
