package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro-ai/velro/internal/authz"
	"github.com/velro-ai/velro/internal/credit"
	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/models"
	"github.com/velro-ai/velro/internal/queue"
	"github.com/velro-ai/velro/internal/vectorstore"
)

var (
	ErrNotFound        = errors.New("generation: not found")
	ErrProjectNotFound = errors.New("generation: project not found")
	ErrUnknownModel    = errors.New("generation: unknown model")
	ErrInvalidPrompt   = errors.New("generation: prompt must be 1-4000 characters")
	ErrInvalidCount    = errors.New("generation: output count must be 1-4")
)

// Moderator gates prompts before credits move.
type Moderator interface {
	Check(ctx context.Context, prompt string) error
}

// Enqueuer is the slice of the queue client the service needs.
type Enqueuer interface {
	EnqueueGenerationRun(payload queue.GenerationRunPayload) error
}

// Embedder turns a search query into a vector.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Invalidator drops cached authorization decisions for deleted generations.
type Invalidator interface {
	InvalidateResource(ctx context.Context, res authz.Resource)
}

type Service struct {
	db        *pgxpool.Pool
	moderator Moderator
	enqueuer  Enqueuer
	embedder  Embedder
	vectors   vectorstore.Store
	cache     Invalidator
	metrics   *metrics.Metrics
}

func NewService(db *pgxpool.Pool, moderator Moderator, enqueuer Enqueuer, embedder Embedder, vectors vectorstore.Store, cache Invalidator, m *metrics.Metrics) *Service {
	return &Service{
		db:        db,
		moderator: moderator,
		enqueuer:  enqueuer,
		embedder:  embedder,
		vectors:   vectors,
		cache:     cache,
		metrics:   m,
	}
}

type CreateRequest struct {
	ProjectID uuid.UUID
	Prompt    string
	Model     string
	Count     int
}

// Create validates and prices the request, takes the credits, inserts the
// pending row and queues the provider call. The deduction and the insert
// share a transaction: a queued job always has paid credits behind it, and
// a failed deduction leaves no orphan row.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*models.Generation, error) {
	if len(req.Prompt) == 0 || len(req.Prompt) > 4000 {
		return nil, ErrInvalidPrompt
	}
	if req.Count < 0 || req.Count > 4 {
		return nil, ErrInvalidCount
	}
	if req.Count == 0 {
		req.Count = 1
	}

	spec, ok := SpecFor(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
	}

	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, req.ProjectID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return nil, ErrProjectNotFound
	}

	if err := s.moderator.Check(ctx, req.Prompt); err != nil {
		return nil, err
	}

	cost := CostOf(spec, req.Count)
	genID := uuid.New()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create generation: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := credit.Deduct(ctx, tx, userID, cost, &genID); err != nil {
		return nil, err
	}

	var g models.Generation
	err = tx.QueryRow(ctx,
		`INSERT INTO generations (id, user_id, project_id, media_type, prompt, model, provider, status, num_outputs, credits_cost)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, user_id, project_id, media_type, prompt, model, provider, status, num_outputs, credits_cost, created_at, updated_at`,
		genID, userID, req.ProjectID, spec.MediaType, req.Prompt, req.Model, spec.Provider, models.GenerationPending, req.Count, cost,
	).Scan(&g.ID, &g.UserID, &g.ProjectID, &g.MediaType, &g.Prompt, &g.Model, &g.Provider, &g.Status, &g.NumOutputs, &g.CreditsCost, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create generation: %w", err)
	}

	err = s.enqueuer.EnqueueGenerationRun(queue.GenerationRunPayload{
		GenerationID: g.ID.String(),
		UserID:       userID.String(),
	})
	if err != nil {
		// Paid but unqueued: fail the row and give the credits back.
		slog.Error("generation enqueue failed, refunding", "generation_id", g.ID, "error", err)
		if failed, ferr := s.MarkFailed(ctx, g.ID, "queue unavailable"); ferr != nil {
			slog.Error("refund after enqueue failure also failed", "generation_id", g.ID, "error", ferr)
		} else {
			g = *failed
		}
		return &g, fmt.Errorf("enqueue generation: %w", err)
	}

	s.metrics.AddCreditsSpent(cost)
	return &g, nil
}

const generationColumns = `id, user_id, project_id, media_type, prompt, model, provider, status, num_outputs, outputs,
	credits_cost, COALESCE(failure_reason, ''), COALESCE(provider_job_id, ''), created_at, updated_at, completed_at`

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	var g models.Generation
	err := row.Scan(&g.ID, &g.UserID, &g.ProjectID, &g.MediaType, &g.Prompt, &g.Model, &g.Provider,
		&g.Status, &g.NumOutputs, &g.Outputs, &g.CreditsCost, &g.FailureReason, &g.ProviderJobID,
		&g.CreatedAt, &g.UpdatedAt, &g.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return &g, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(s.db.QueryRow(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = $1`, id,
	))
}

// ListByProject returns a project's generations, newest first. Callers
// authorize against the project before asking.
func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.list(ctx,
		`SELECT `+generationColumns+` FROM generations
		 WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		projectID, limit, offset)
}

// ListByUser returns the caller's own generations, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.list(ctx,
		`SELECT `+generationColumns+` FROM generations
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
}

func (s *Service) list(ctx context.Context, query string, args ...any) ([]models.Generation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var gens []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, *g)
	}
	return gens, rows.Err()
}

// Delete removes a generation row, its embedding and its cached decisions.
// Stored outputs are kept; storage cleanup is a separate concern.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM generations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if s.vectors != nil {
		if err := s.vectors.DeleteByGeneration(ctx, id); err != nil {
			slog.Warn("delete prompt embedding failed", "generation_id", id, "error", err)
		}
	}
	if s.cache != nil {
		s.cache.InvalidateResource(ctx, authz.Resource{Kind: authz.KindGeneration, ID: id})
	}
	return nil
}

// Search embeds the query and ranks the caller's readable generations by
// prompt similarity.
func (s *Service) Search(ctx context.Context, userID uuid.UUID, query string, topK int) ([]vectorstore.SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	vec, err := s.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search query: %w", err)
	}
	return s.vectors.Search(ctx, vec, vectorstore.SearchOptions{
		UserID: userID,
		TopK:   topK,
	})
}

// MarkProcessing moves the row to processing and returns it, so the worker
// has prompt/model/cost without a second query. A row already in
// processing is picked up again (a retried task after a worker crash);
// a settled row comes back ErrNotFound and the task is dropped.
func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(s.db.QueryRow(ctx,
		`UPDATE generations SET status = $2, updated_at = now()
		 WHERE id = $1 AND status IN ($3, $2)
		 RETURNING `+generationColumns,
		id, models.GenerationProcessing, models.GenerationPending,
	))
}

// MarkCompleted settles a processing generation with its outputs.
func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID, outputs []models.MediaOutput, providerJobID string) (*models.Generation, error) {
	return scanGeneration(s.db.QueryRow(ctx,
		`UPDATE generations
		 SET status = $2, outputs = $3, provider_job_id = NULLIF($4, ''), completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = $5
		 RETURNING `+generationColumns,
		id, models.GenerationCompleted, outputs, providerJobID, models.GenerationProcessing,
	))
}

// MarkFailed settles the row and refunds its credits in one transaction.
// The status guard makes the refund exactly-once: a second failure report
// for the same generation finds no matching row and becomes ErrNotFound.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Generation, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mark failed: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := scanGeneration(tx.QueryRow(ctx,
		`UPDATE generations
		 SET status = $2, failure_reason = $3, completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ($4, $5)
		 RETURNING `+generationColumns,
		id, models.GenerationFailed, reason, models.GenerationPending, models.GenerationProcessing,
	))
	if err != nil {
		return nil, err
	}

	if _, err := credit.Refund(ctx, tx, g.UserID, g.CreditsCost, &g.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mark failed: %w", err)
	}

	s.metrics.AddCreditsRefunded(g.CreditsCost)
	return g, nil
}

// UsageRow is one line of the admin usage report.
type UsageRow struct {
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	CreditsSpent int    `json:"credits_spent"`
}

// UsageSummary aggregates generation volume and credit spend per model.
func (s *Service) UsageSummary(ctx context.Context, since, until *time.Time) ([]UsageRow, error) {
	query := `SELECT model, provider, COUNT(*),
			         COUNT(*) FILTER (WHERE status = 'completed'),
			         COUNT(*) FILTER (WHERE status = 'failed'),
			         COALESCE(SUM(credits_cost) FILTER (WHERE status != 'failed'), 0)
			  FROM generations WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *since)
		argIdx++
	}
	if until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *until)
		argIdx++
	}
	query += " GROUP BY model, provider ORDER BY SUM(credits_cost) DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	var report []UsageRow
	for rows.Next() {
		var r UsageRow
		if err := rows.Scan(&r.Model, &r.Provider, &r.Total, &r.Completed, &r.Failed, &r.CreditsSpent); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		report = append(report, r)
	}
	return report, rows.Err()
}
