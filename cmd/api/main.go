package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velro-ai/velro/internal/api"
	"github.com/velro-ai/velro/internal/audit"
	"github.com/velro-ai/velro/internal/auth"
	"github.com/velro-ai/velro/internal/authz"
	authzcache "github.com/velro-ai/velro/internal/authz/cache"
	"github.com/velro-ai/velro/internal/cache"
	"github.com/velro-ai/velro/internal/config"
	"github.com/velro-ai/velro/internal/credit"
	"github.com/velro-ai/velro/internal/database"
	"github.com/velro-ai/velro/internal/embedding"
	"github.com/velro-ai/velro/internal/generation"
	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/moderation"
	"github.com/velro-ai/velro/internal/project"
	"github.com/velro-ai/velro/internal/queue"
	"github.com/velro-ai/velro/internal/ratelimit"
	"github.com/velro-ai/velro/internal/supabase"
	"github.com/velro-ai/velro/internal/team"
	"github.com/velro-ai/velro/internal/user"
	"github.com/velro-ai/velro/internal/vectorstore"
	"github.com/velro-ai/velro/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// The authorization core cannot answer without entity state: no
	// database, no API.
	db, err := database.NewPool(ctx, cfg.Database, "velro-api")
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Redis is a cache and a counter store, never the source of truth. An
	// outage here degrades latency and rate-limit accuracy, not correctness,
	// so the server starts either way.
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, starting degraded", "error", err)
	}
	defer rdb.Close()
	redisCache := cache.NewCache(rdb)

	m := metrics.New()

	// Authorization core: resolver over entity state, read through three
	// tiers, audited fire-and-forget.
	resolver := authz.NewResolver(authz.NewPGStore(db))
	chain := authzcache.NewChain(m,
		authzcache.NewMemoryTier(cfg.AuthzCache.MemorySize, cfg.AuthzCache.MemoryTTL),
		authzcache.NewRedisTier(redisCache, cfg.AuthzCache.RedisTTL),
		authzcache.NewMatviewTier(db, 250*time.Millisecond),
	)
	auditStore := audit.NewPGStore(db)
	recorder := audit.NewRecorder(auditStore, m)
	defer recorder.Close()
	authzSvc := authz.NewService(resolver, chain, recorder, m)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenCacheTTL)
	authMW := auth.NewMiddleware(verifier, m)
	supaAuth := supabase.NewClient(cfg.Auth.SupabaseURL, cfg.Auth.SupabaseKey)

	limiter := ratelimit.New(redisCache, cfg.RateLimit.PerWindow, cfg.RateLimit.Window)
	rateMW := ratelimit.NewMiddleware(limiter, m)

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	var classifier moderation.Classifier
	if cfg.Provider.AnthropicKey != "" {
		classifier = moderation.NewAnthropicClassifier(cfg.Provider.AnthropicKey, cfg.Provider.ModerationModel)
	} else {
		slog.Warn("no anthropic key, moderation runs on pattern filter only")
	}
	moderator := moderation.NewService(classifier)

	embedder := embedding.NewService(cfg.Provider.OpenAIKey, cfg.Provider.EmbedModel)
	vectors := vectorstore.NewPgVectorStore(db)

	usersSvc := user.NewService(db, cfg.Credits.StartingBalance)
	creditsSvc := credit.NewService(db)
	projectsSvc := project.NewService(db, authzSvc)
	teamsSvc := team.NewService(db, authzSvc)
	webhooksSvc := webhook.NewService(db, queueClient)
	generationsSvc := generation.NewService(db, moderator, queueClient, embedder, vectors, authzSvc, m)

	router := api.NewRouter(api.Deps{
		Config:  cfg,
		DB:      db,
		Redis:   redisCache,
		Metrics: m,

		Auth:      authMW,
		RateLimit: rateMW,

		AuthClient:  supaAuth,
		Users:       usersSvc,
		Credits:     creditsSvc,
		Projects:    projectsSvc,
		Generations: generationsSvc,
		Teams:       teamsSvc,
		Webhooks:    webhooksSvc,
		Authz:       authzSvc,
		Audits:      auditStore,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
