package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/adapters/datasource/mssql"
	"github.com/ekaya-inc/context-engine/pkg/cache"
	"github.com/ekaya-inc/context-engine/pkg/config"
	"github.com/ekaya-inc/context-engine/pkg/database"
	"github.com/ekaya-inc/context-engine/pkg/handlers"
	"github.com/ekaya-inc/context-engine/pkg/llm"
	"github.com/ekaya-inc/context-engine/pkg/logging"
	"github.com/ekaya-inc/context-engine/pkg/mcp"
	"github.com/ekaya-inc/context-engine/pkg/metrics"
	"github.com/ekaya-inc/context-engine/pkg/middleware"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/repositories"
	"github.com/ekaya-inc/context-engine/pkg/retry"
	"github.com/ekaya-inc/context-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	// Bounded sizes keep a burst of distinct questions from growing memory without limit.
	terminologyCacheSize    = 50_000
	relationshipCacheSize   = 1_000
	classificationCacheSize = 10_000

	shutdownTimeout = 20 * time.Second
)

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Context engine exited", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("anthropic", cfg.LLM.AnthropicAvailable()),
		zap.Bool("customer_sqlserver", cfg.CustomerSQLServer.IsAvailable()))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	retryCfg := retry.DefaultConfig()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
		Retry:          retryCfg,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect database: %s", logging.SanitizeError(err))
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	d := cfg.Discovery
	sweep := d.CacheSweepInterval()

	// Classification responses: Redis when configured, otherwise in-process.
	var classifications cache.Provider
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	switch {
	case err != nil:
		logger.Warn("Redis unavailable, using in-memory classification cache",
			zap.String("error", logging.SanitizeError(err)))
		fallthrough
	case redisClient == nil:
		mem := cache.NewMemoryProvider(d.ClassificationCacheTTL(), classificationCacheSize,
			cache.WithLookupObserver(metrics.CacheLookupObserver("classification")))
		go mem.Run(ctx, sweep)
		classifications = mem
	default:
		classifications = cache.NewRedisProvider(redisClient, "context-engine:",
			cache.WithLookupObserver(metrics.CacheLookupObserver("classification")))
	}
	defer func() { _ = classifications.Close() }()

	llmFactory := llm.NewClientFactory(llm.FactoryConfig{
		OpenAI: llm.Config{
			Endpoint: cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey,
		},
		Anthropic: llm.Config{
			Model:  cfg.LLM.AnthropicModel,
			APIKey: cfg.LLM.AnthropicAPIKey,
		},
	}, logger)

	classifier := services.NewIntentClassifier(llmFactory, classifications, services.IntentClassifierConfig{
		Temperature: cfg.LLM.Temperature,
		CacheTTL:    d.ClassificationCacheTTL(),
		Breaker: llm.CircuitBreakerConfig{
			Threshold:  cfg.LLM.CircuitThreshold,
			ResetAfter: time.Duration(cfg.LLM.CircuitResetSeconds) * time.Second,
		},
	}, logger)

	semanticIndex := repositories.NewSemanticIndexRepository(db, retryCfg)

	mappingCache := cache.NewTTLCache[*models.TerminologyMapping](d.TerminologyCacheTTL(), terminologyCacheSize,
		cache.WithLookupObserver(metrics.CacheLookupObserver("terminology")))
	go mappingCache.Run(ctx, sweep)

	terminology := services.NewTerminologyMapper(semanticIndex, mappingCache, services.TerminologyMapperConfig{
		MinConfidence: d.TerminologyMinConfidence,
		MaxCandidates: d.TerminologyMaxCandidates,
	}, logger)

	searcher := services.NewSemanticSearcher(semanticIndex, models.SearchOptions{
		MinConfidence:  d.SearchMinConfidence,
		Limit:          d.SearchLimit,
		IncludeNonForm: d.IncludeNonForm,
	}, logger)

	var fallbackRelationships services.RelationshipLoader
	if ss := cfg.CustomerSQLServer; ss.IsAvailable() {
		loader, err := mssql.NewRelationshipLoader(&mssql.Config{
			Host:     ss.Host,
			Port:     ss.Port,
			Database: ss.Database,
			Username: ss.User,
			Password: ss.Password,
			Encrypt:  ss.Encrypt,
		}, logger)
		if err != nil {
			logger.Warn("Customer SQL Server relationship source disabled", zap.Error(err))
		} else {
			defer func() { _ = loader.Close() }()
			fallbackRelationships = loader
		}
	}

	relationshipRows := cache.NewTTLCache[[]models.RelationshipRow](d.RelationshipCacheTTL(), relationshipCacheSize,
		cache.WithLookupObserver(metrics.CacheLookupObserver("relationships")))
	go relationshipRows.Run(ctx, sweep)

	relationships := services.NewRelationshipSource(
		repositories.NewRelationshipRepository(db, retryCfg),
		fallbackRelationships,
		relationshipRows,
		logger)

	runs := repositories.NewDiscoveryRunRepository(db, retryCfg)

	discovery := services.NewContextDiscoveryService(services.ContextDiscoveryDeps{
		Classifier:    classifier,
		Terminology:   terminology,
		Searcher:      searcher,
		Relationships: relationships,
		Planner: services.NewJoinPathPlanner(services.JoinPathPlannerConfig{
			MaxDepth:          d.MaxJoinDepth,
			MaxCandidatePaths: d.MaxJoinCandidates,
			PreferDirectJoins: d.PreferDirectJoins,
			DetectCycles:      d.DetectCycles,
		}, logger),
		Merger: services.NewFilterStateMerger(services.FilterMergeConfig{
			ConfidenceThreshold:     cfg.FilterMerge.ConfidenceThreshold,
			HighConfidenceThreshold: cfg.FilterMerge.HighConfidenceThreshold,
			ConflictThreshold:       cfg.FilterMerge.ConflictThreshold,
		}),
		Assembler: services.NewContextAssembler(cfg.Version),
		Audit:     services.NewDiscoveryAudit(runs, d.AuditTimeout(), logger),
		Runs:      runs,
	}, services.ContextDiscoveryConfig{
		ParallelTimeout:  d.ParallelTimeout(),
		DefaultSeedTable: d.DefaultSeedTable,
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewContextDiscoveryHandler(discovery, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("/mcp", mcp.NewServer("context-engine", cfg.Version, discovery, logger).HTTPHandler())

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Recover(logger)(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting context engine", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("Context engine stopped")
	return nil
}
