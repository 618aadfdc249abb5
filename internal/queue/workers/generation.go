package workers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/velro-ai/velro/internal/generation"
	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/models"
	"github.com/velro-ai/velro/internal/provider"
	"github.com/velro-ai/velro/internal/queue"
	"github.com/velro-ai/velro/internal/storage"
)

// GenerationStore is the slice of the generation service the worker drives.
type GenerationStore interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Generation, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, outputs []models.MediaOutput, providerJobID string) (*models.Generation, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Generation, error)
}

// Notifier fans a settled generation out to the owner's webhooks.
type Notifier interface {
	Dispatch(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error
}

// FollowUpEnqueuer queues the embedding job after completion.
type FollowUpEnqueuer interface {
	EnqueueEmbeddingGenerate(payload queue.EmbeddingGeneratePayload) error
}

// GenerationWorker runs one queued generation end to end: provider call,
// output copy into our storage, settle, follow-ups.
type GenerationWorker struct {
	generations GenerationStore
	providers   *provider.Registry
	storage     storage.Storage
	bucket      string
	notifier    Notifier
	enqueuer    FollowUpEnqueuer
	metrics     *metrics.Metrics
}

func NewGenerationWorker(
	generations GenerationStore,
	providers *provider.Registry,
	store storage.Storage,
	bucket string,
	notifier Notifier,
	enqueuer FollowUpEnqueuer,
	m *metrics.Metrics,
) *GenerationWorker {
	return &GenerationWorker{
		generations: generations,
		providers:   providers,
		storage:     store,
		bucket:      bucket,
		notifier:    notifier,
		enqueuer:    enqueuer,
		metrics:     m,
	}
}

func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.GenerationRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	genID, err := uuid.Parse(payload.GenerationID)
	if err != nil {
		return fmt.Errorf("parse generation ID: %w", err)
	}

	g, err := w.generations.MarkProcessing(ctx, genID)
	if err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			// Already settled or deleted; nothing to run.
			slog.Info("generation not runnable, dropping task", "generation_id", genID)
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	p, err := w.providers.ForModel(g.Model)
	if err != nil {
		// The model left the catalog between enqueue and pickup.
		w.fail(ctx, g, "model no longer available: "+g.Model)
		return nil
	}

	slog.Info("running generation", "generation_id", g.ID, "model", g.Model, "provider", p.Name())

	start := time.Now()
	res, err := p.Generate(ctx, provider.Request{
		Prompt: g.Prompt,
		Model:  g.Model,
		Count:  g.NumOutputs,
	})
	w.metrics.ObserveProviderCall(p.Name(), err, time.Since(start).Seconds())
	if err != nil {
		if provider.IsPermanent(err) {
			w.fail(ctx, g, err.Error())
			return nil
		}
		if lastAttempt(ctx) {
			w.fail(ctx, g, "provider unavailable: "+err.Error())
			return nil
		}
		return fmt.Errorf("provider %s: %w", p.Name(), err)
	}

	outputs, err := w.storeOutputs(ctx, g, res.Outputs)
	if err != nil {
		if lastAttempt(ctx) {
			w.fail(ctx, g, "storing outputs failed: "+err.Error())
			return nil
		}
		return fmt.Errorf("store outputs: %w", err)
	}

	completed, err := w.generations.MarkCompleted(ctx, g.ID, outputs, res.ProviderJobID)
	if err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			slog.Warn("generation settled elsewhere, dropping result", "generation_id", g.ID)
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}

	w.followUp(ctx, completed)
	return nil
}

func (w *GenerationWorker) storeOutputs(ctx context.Context, g *models.Generation, produced []provider.Output) ([]models.MediaOutput, error) {
	outputs := make([]models.MediaOutput, 0, len(produced))
	for i, out := range produced {
		path := fmt.Sprintf("%s/%s/%d.png", g.UserID, g.ID, i)

		var publicURL string
		var err error
		switch {
		case out.URL != "":
			publicURL, err = w.storage.CopyFromURL(ctx, out.URL, w.bucket, path)
		case out.Base64 != "":
			var data []byte
			data, err = base64.StdEncoding.DecodeString(out.Base64)
			if err == nil {
				if err = w.storage.Upload(ctx, w.bucket, path, bytes.NewReader(data), "image/png"); err == nil {
					publicURL = w.storage.GetPublicURL(w.bucket, path)
				}
			}
		default:
			err = fmt.Errorf("provider output %d has neither URL nor data", i)
		}
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, models.MediaOutput{
			StoragePath: path,
			URL:         publicURL,
			Width:       out.Width,
			Height:      out.Height,
		})
	}
	return outputs, nil
}

// followUp queues the prompt embedding and notifies webhooks. Both are best
// effort: the generation is already settled.
func (w *GenerationWorker) followUp(ctx context.Context, g *models.Generation) {
	if w.enqueuer != nil {
		err := w.enqueuer.EnqueueEmbeddingGenerate(queue.EmbeddingGeneratePayload{
			GenerationID: g.ID.String(),
			UserID:       g.UserID.String(),
			ProjectID:    g.ProjectID.String(),
			Prompt:       g.Prompt,
		})
		if err != nil {
			slog.Warn("embedding enqueue failed", "generation_id", g.ID, "error", err)
		}
	}
	w.notify(ctx, g, models.EventGenerationCompleted)
}

func (w *GenerationWorker) fail(ctx context.Context, g *models.Generation, reason string) {
	failed, err := w.generations.MarkFailed(ctx, g.ID, reason)
	if err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			return
		}
		slog.Error("mark failed errored", "generation_id", g.ID, "error", err)
		return
	}
	slog.Warn("generation failed", "generation_id", g.ID, "reason", reason)
	w.notify(ctx, failed, models.EventGenerationFailed)
}

func (w *GenerationWorker) notify(ctx context.Context, g *models.Generation, event string) {
	if w.notifier == nil {
		return
	}
	err := w.notifier.Dispatch(ctx, g.UserID, event, map[string]interface{}{
		"event":      event,
		"generation": g,
	})
	if err != nil {
		slog.Warn("webhook dispatch failed", "generation_id", g.ID, "event", event, "error", err)
	}
}

// lastAttempt reports whether the queue will not retry this task again.
func lastAttempt(ctx context.Context) bool {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}
