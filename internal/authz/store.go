package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProjectAccess is the slice of project state the resolver reads.
type ProjectAccess struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Visibility string
	TeamID     *uuid.UUID
}

// GenerationAccess is the slice of generation state the resolver reads.
type GenerationAccess struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	ProjectID uuid.UUID
}

// Store supplies entity state to the resolver. Implementations return
// ErrNotFound for missing rows; any other error is treated as a dependency
// failure, never as a deny.
type Store interface {
	ProjectAccess(ctx context.Context, id uuid.UUID) (*ProjectAccess, error)
	GenerationAccess(ctx context.Context, id uuid.UUID) (*GenerationAccess, error)
	TeamRole(ctx context.Context, teamID, userID uuid.UUID) (string, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) ProjectAccess(ctx context.Context, id uuid.UUID) (*ProjectAccess, error) {
	var p ProjectAccess
	err := s.db.QueryRow(ctx,
		"SELECT id, owner_id, visibility, team_id FROM projects WHERE id = $1", id,
	).Scan(&p.ID, &p.OwnerID, &p.Visibility, &p.TeamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project access: %w", err)
	}
	return &p, nil
}

func (s *PGStore) GenerationAccess(ctx context.Context, id uuid.UUID) (*GenerationAccess, error) {
	var g GenerationAccess
	err := s.db.QueryRow(ctx,
		"SELECT id, user_id, project_id FROM generations WHERE id = $1", id,
	).Scan(&g.ID, &g.OwnerID, &g.ProjectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query generation access: %w", err)
	}
	return &g, nil
}

// TeamRole returns the user's membership role in the team, or "" when the
// user is not a member.
func (s *PGStore) TeamRole(ctx context.Context, teamID, userID uuid.UUID) (string, error) {
	var role string
	err := s.db.QueryRow(ctx,
		"SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2", teamID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query team role: %w", err)
	}
	return role, nil
}
