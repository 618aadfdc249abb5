package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// PromptEmbedding is the vector snapshot of one generation's prompt.
type PromptEmbedding struct {
	GenerationID uuid.UUID
	UserID       uuid.UUID
	ProjectID    uuid.UUID
	Prompt       string
	Embedding    []float32
}

// SearchOptions scope a similarity query. UserID is mandatory: results are
// pre-filtered to generations that user may read (own, team, public).
type SearchOptions struct {
	UserID   uuid.UUID
	TopK     int
	MinScore float64
}

type SearchResult struct {
	GenerationID uuid.UUID `json:"generation_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	Prompt       string    `json:"prompt"`
	Score        float64   `json:"score"`
}

type Store interface {
	Upsert(ctx context.Context, e PromptEmbedding) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)
	DeleteByGeneration(ctx context.Context, generationID uuid.UUID) error
}
