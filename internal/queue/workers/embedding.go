package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/velro-ai/velro/internal/queue"
	"github.com/velro-ai/velro/internal/vectorstore"
)

// Embedder turns prompt text into a vector.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingWorker indexes a completed generation's prompt for similarity
// search. Strictly best-effort enrichment: failures never touch the
// generation row.
type EmbeddingWorker struct {
	embedder Embedder
	vectors  vectorstore.Store
}

func NewEmbeddingWorker(embedder Embedder, vectors vectorstore.Store) *EmbeddingWorker {
	return &EmbeddingWorker{embedder: embedder, vectors: vectors}
}

func (w *EmbeddingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.EmbeddingGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	genID, err := uuid.Parse(payload.GenerationID)
	if err != nil {
		return fmt.Errorf("parse generation ID: %w", err)
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("parse user ID: %w", err)
	}
	projectID, err := uuid.Parse(payload.ProjectID)
	if err != nil {
		return fmt.Errorf("parse project ID: %w", err)
	}

	vec, err := w.embedder.EmbedSingle(ctx, payload.Prompt)
	if err != nil {
		return fmt.Errorf("embed prompt: %w", err)
	}

	err = w.vectors.Upsert(ctx, vectorstore.PromptEmbedding{
		GenerationID: genID,
		UserID:       userID,
		ProjectID:    projectID,
		Prompt:       payload.Prompt,
		Embedding:    vec,
	})
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	slog.Info("prompt embedded", "generation_id", genID)
	return nil
}
