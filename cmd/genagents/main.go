package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/midnight-learners/generative-agents/internal/api"
	"github.com/midnight-learners/generative-agents/internal/cache"
	"github.com/midnight-learners/generative-agents/internal/config"
	"github.com/midnight-learners/generative-agents/internal/memory"
	"github.com/midnight-learners/generative-agents/internal/orchestrator"
	"github.com/midnight-learners/generative-agents/internal/prompt"
	"github.com/midnight-learners/generative-agents/internal/provider"
	"github.com/midnight-learners/generative-agents/internal/store"
	"github.com/midnight-learners/generative-agents/internal/world"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/genagents.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting generative agents memory service", zap.String("config", cfgPath))

	ctx := context.Background()

	// Providers
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Timeout: pc.TimeoutDuration(),
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	gw := provider.NewGateway(router, provider.GatewayConfig{
		AgentID:   cfg.Gateway.AgentID,
		Model:     cfg.Gateway.Model,
		RateLimit: cfg.Gateway.RateLimit,
		Burst:     cfg.Gateway.Burst,
		Breaker: provider.BreakerConfig{
			MaxFailures: cfg.Gateway.BreakerMaxFailures,
			Timeout:     cfg.Gateway.BreakerTimeoutDuration(),
		},
	}, logger)

	// Importance scoring
	templates, err := prompt.Load(cfg.PromptsPath)
	if err != nil {
		logger.Fatal("failed to load prompts", zap.String("path", cfg.PromptsPath), zap.Error(err))
	}
	tmpl, err := templates.Get(memory.ImportancePromptKey)
	if err != nil {
		logger.Fatal("importance prompt missing", zap.Error(err))
	}
	scorer, err := memory.NewPromptScorer(gw, memory.ScorerConfig{
		Template:   tmpl,
		Scale:      cfg.Scoring.Scale(),
		MaxRetries: cfg.Scoring.Retries(),
	}, logger)
	if err != nil {
		logger.Fatal("invalid scorer config", zap.Error(err))
	}

	var importanceCache *cache.ImportanceCache
	if cfg.Database.Redis.URL != "" {
		importanceCache, err = cache.Dial(ctx, cfg.Database.Redis.URL, cfg.Database.Redis.TTL())
		if err != nil {
			logger.Warn("Redis unavailable, running without shared importance cache", zap.Error(err))
		} else {
			scorer.SetCache(importanceCache)
		}
	}

	composer, err := memory.NewComposer(scorer, memory.ComposerConfig{
		DecayFactor: cfg.Scoring.DecayFactor,
		Scale:       cfg.Scoring.Scale(),
		Concurrency: cfg.Scoring.Concurrency,
		Timeout:     cfg.Scoring.TimeoutDuration(),
	}, logger)
	if err != nil {
		logger.Fatal("invalid retrieval config", zap.Error(err))
	}

	// Memory storage
	backend, closeStore := openStorage(ctx, cfg.Database, logger)
	defer closeStore()

	stream := memory.NewStream(backend, composer, logger)

	// Eager scoring over the Redis memory stream
	var bus *orchestrator.MessageBus
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if cfg.Scoring.Eager {
		saver, _ := backend.(memory.ImportanceSaver)
		bus, err = orchestrator.NewMessageBus(ctx, cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, eager scoring disabled", zap.Error(err))
		} else {
			stream.SetPublisher(bus)
			hostname, _ := os.Hostname()
			eager := orchestrator.NewEagerScorer(bus, scorer, saver, hostname, cfg.Scoring.EagerWorkers, logger)
			go func() {
				if err := eager.Run(workerCtx); err != nil && workerCtx.Err() == nil {
					logger.Error("eager scorer stopped", zap.Error(err))
				}
			}()
			logger.Info("Eager importance scoring enabled", zap.Int("workers", cfg.Scoring.EagerWorkers))
		}
	}

	// World clock
	clock := world.NewWorldClock(
		cfg.World.StartTime(time.Now()),
		cfg.World.Interval(),
		cfg.World.SpeedOrDefault(),
		logger,
	)
	clock.Start()

	handler := api.NewHandler(stream, clock, cfg.Scoring.RankingWeights(), logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Memory service listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	clock.Stop()
	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if bus != nil {
		bus.Close()
	}
	if importanceCache != nil {
		importanceCache.Close()
	}
}

// openStorage connects the configured backend. Without a reachable database
// the service falls back to process memory.
func openStorage(ctx context.Context, db config.DatabaseConfig, logger *zap.Logger) (memory.Storage, func()) {
	switch db.Backend {
	case "postgres":
		pg, err := store.New(ctx, db.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, keeping memories in process", zap.Error(err))
			break
		}
		migrations := db.Postgres.Migrations
		if migrations == "" {
			migrations = "migrations"
		}
		if err := pg.Migrate(ctx, migrations); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		return pg, pg.Close
	case "neo4j":
		g, err := store.NewGraphStore(ctx, db.Neo4j.URI, db.Neo4j.User, db.Neo4j.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, keeping memories in process", zap.Error(err))
			break
		}
		if err := g.EnsureSchema(ctx); err != nil {
			logger.Fatal("neo4j schema setup failed", zap.Error(err))
		}
		return g, func() { g.Close(context.Background()) }
	}
	logger.Info("Using in-process memory store")
	return store.NewInMemory(), func() {}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
