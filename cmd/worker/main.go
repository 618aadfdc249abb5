package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/velro-ai/velro/internal/config"
	"github.com/velro-ai/velro/internal/database"
	"github.com/velro-ai/velro/internal/embedding"
	"github.com/velro-ai/velro/internal/generation"
	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/moderation"
	"github.com/velro-ai/velro/internal/provider"
	"github.com/velro-ai/velro/internal/queue"
	"github.com/velro-ai/velro/internal/queue/workers"
	"github.com/velro-ai/velro/internal/storage"
	"github.com/velro-ai/velro/internal/vectorstore"
	"github.com/velro-ai/velro/internal/webhook"
)

const concurrency = 10

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

	db, err := database.NewPool(ctx, cfg.Database, "velro-worker")
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	m := metrics.New()

	embedder := embedding.NewService(cfg.Provider.OpenAIKey, cfg.Provider.EmbedModel)
	vectors := vectorstore.NewPgVectorStore(db)
	generationsSvc := generation.NewService(db, moderation.NewService(nil), queueClient, embedder, vectors, nil, m)

	registry := provider.NewRegistry(
		provider.NewOpenAI(cfg.Provider.OpenAIKey),
		provider.NewFAL(cfg.Provider.FALKey, cfg.Provider.FALBaseURL),
	)
	store := storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)

	webhooksSvc := webhook.NewService(db, queueClient)
	dispatcher := webhook.NewDispatcher(db)

	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeGenerationRun, workers.NewGenerationWorker(
		generationsSvc, registry, store, cfg.Storage.OutputsBucket, webhooksSvc, queueClient, m,
	))
	mux.Handle(queue.TypeEmbeddingGenerate, workers.NewEmbeddingWorker(embedder, vectors))
	mux.Handle(queue.TypeWebhookDeliver, workers.NewWebhookWorker(dispatcher, m))
	mux.Handle(queue.TypeMatviewRefresh, workers.NewMatviewWorker(db))

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queue.Priorities(),
	})

	// The scheduler keeps the access view fresh; Unique collapses a tick
	// that fires while the previous refresh still runs.
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	_, err = scheduler.Register("@every 5m",
		asynq.NewTask(queue.TypeMatviewRefresh, nil),
		asynq.Queue(queue.QueueDefault),
		asynq.MaxRetry(1),
		asynq.Timeout(4*time.Minute),
		asynq.Unique(4*time.Minute),
	)
	if err != nil {
		slog.Error("failed to register matview refresh schedule", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	// Liveness and metrics for the worker pod.
	go func() {
		httpMux := http.NewServeMux()
		httpMux.Handle("/metrics", m.Handler())
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", cfg.Addr())
		if err := http.ListenAndServe(cfg.Addr(), httpMux); err != nil {
			slog.Warn("metrics listener stopped", "error", err)
		}
	}()

	slog.Info("starting worker", "concurrency", concurrency)
	if err := srv.Run(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	scheduler.Shutdown()
}
