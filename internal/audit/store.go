package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro-ai/velro/internal/models"
)

// Store persists authorization audit entries. The write path is batched:
// the recorder hands over whole slices, never single rows.
type Store interface {
	InsertBatch(ctx context.Context, entries []models.AuditEntry) error
	Query(ctx context.Context, q Query) ([]models.AuditEntry, error)
}

// Query filters the audit trail. Zero values mean "no filter".
type Query struct {
	UserID       uuid.UUID
	ResourceType string
	Decision     string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertBatch(ctx context.Context, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO authz_audit_log (user_id, resource_type, resource_id, action, decision, role, source, latency_ms, request_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.UserID, e.ResourceType, e.ResourceID, e.Action, e.Decision,
			e.Role, e.Source, e.LatencyMs, e.RequestID, e.CreatedAt,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert audit batch: %w", err)
		}
	}
	return nil
}

func (s *PGStore) Query(ctx context.Context, q Query) ([]models.AuditEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}

	query := `SELECT id, user_id, resource_type, resource_id, action, decision, role, source, latency_ms, request_id, created_at
			  FROM authz_audit_log WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if q.UserID != uuid.Nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, q.UserID)
		argIdx++
	}
	if q.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argIdx)
		args = append(args, q.ResourceType)
		argIdx++
	}
	if q.Decision != "" {
		query += fmt.Sprintf(" AND decision = $%d", argIdx)
		args = append(args, q.Decision)
		argIdx++
	}
	if q.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.Since)
		argIdx++
	}
	if q.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *q.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ResourceType, &e.ResourceID, &e.Action, &e.Decision,
			&e.Role, &e.Source, &e.LatencyMs, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
