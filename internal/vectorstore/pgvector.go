package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

func (s *PgVectorStore) Upsert(ctx context.Context, e PromptEmbedding) error {
	embedding := pgvector.NewVector(e.Embedding)

	_, err := s.db.Exec(ctx,
		`INSERT INTO prompt_embeddings (generation_id, user_id, project_id, prompt, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (generation_id) DO UPDATE SET prompt = $4, embedding = $5`,
		e.GenerationID, e.UserID, e.ProjectID, e.Prompt, embedding,
	)
	if err != nil {
		return fmt.Errorf("upsert prompt embedding: %w", err)
	}
	return nil
}

// Search runs a cosine similarity query scoped to what the user may read:
// their own generations, team projects they belong to, and public projects.
// Scoping in SQL keeps the authorization chain out of the hot ranking loop.
func (s *PgVectorStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	embedding := pgvector.NewVector(query)

	rows, err := s.db.Query(ctx,
		`SELECT pe.generation_id, pe.project_id, pe.prompt,
		        1 - (pe.embedding <=> $1) AS score
		 FROM prompt_embeddings pe
		 JOIN projects p ON p.id = pe.project_id
		 LEFT JOIN team_members tm ON tm.team_id = p.team_id AND tm.user_id = $2
		 WHERE pe.user_id = $2
		    OR p.owner_id = $2
		    OR p.visibility = 'public'
		    OR (p.visibility = 'team' AND tm.user_id IS NOT NULL)
		 ORDER BY pe.embedding <=> $1
		 LIMIT $3`,
		embedding, opts.UserID, opts.TopK,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.GenerationID, &r.ProjectID, &r.Prompt, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if opts.MinScore > 0 && r.Score < opts.MinScore {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgVectorStore) DeleteByGeneration(ctx context.Context, generationID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM prompt_embeddings WHERE generation_id = $1`, generationID,
	)
	if err != nil {
		return fmt.Errorf("delete prompt embedding: %w", err)
	}
	return nil
}
