package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro-ai/velro/internal/authz"
	"github.com/velro-ai/velro/internal/models"
)

var (
	ErrNotFound          = errors.New("project: not found")
	ErrInvalidVisibility = errors.New("project: invalid visibility")
	ErrTeamRequired      = errors.New("project: team visibility requires a team")
)

// Invalidator drops cached authorization decisions after project writes.
// Best-effort: cache TTLs bound staleness when an invalidation is missed.
type Invalidator interface {
	InvalidateResource(ctx context.Context, res authz.Resource)
	InvalidateUser(ctx context.Context, userID uuid.UUID)
}

// invalidationFanout caps how many generation entries one project write
// may touch. Projects larger than this rely on TTL expiry for the tail.
const invalidationFanout = 1000

type Service struct {
	db    *pgxpool.Pool
	cache Invalidator
}

func NewService(db *pgxpool.Pool, cache Invalidator) *Service {
	return &Service{db: db, cache: cache}
}

type CreateRequest struct {
	Title      string
	Visibility string
	TeamID     *uuid.UUID
}

func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*models.Project, error) {
	if req.Visibility == "" {
		req.Visibility = models.VisibilityPrivate
	}
	if !models.ValidVisibility(req.Visibility) {
		return nil, ErrInvalidVisibility
	}
	if req.Visibility == models.VisibilityTeam && req.TeamID == nil {
		return nil, ErrTeamRequired
	}

	var p models.Project
	err := s.db.QueryRow(ctx,
		`INSERT INTO projects (id, owner_id, title, visibility, team_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, owner_id, title, visibility, team_id, created_at, updated_at`,
		uuid.New(), ownerID, req.Title, req.Visibility, req.TeamID,
	).Scan(&p.ID, &p.OwnerID, &p.Title, &p.Visibility, &p.TeamID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return &p, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, title, visibility, team_id, created_at, updated_at
		 FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.OwnerID, &p.Title, &p.Visibility, &p.TeamID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// List returns projects the user owns plus team projects of teams they
// belong to, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT p.id, p.owner_id, p.title, p.visibility, p.team_id, p.created_at, p.updated_at
		 FROM projects p
		 LEFT JOIN team_members tm ON tm.team_id = p.team_id AND tm.user_id = $1
		 WHERE p.owner_id = $1 OR (p.visibility = 'team' AND tm.user_id IS NOT NULL)
		 ORDER BY p.created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Visibility, &p.TeamID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

type UpdateRequest struct {
	Title      *string
	Visibility *string
	TeamID     *uuid.UUID
	ClearTeam  bool
}

// Update applies the provided fields. Visibility or team changes flip who
// may access the project, so cached decisions for it and its generations
// are dropped.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Project, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	title := current.Title
	if req.Title != nil {
		title = *req.Title
	}
	visibility := current.Visibility
	if req.Visibility != nil {
		visibility = *req.Visibility
	}
	if !models.ValidVisibility(visibility) {
		return nil, ErrInvalidVisibility
	}
	teamID := current.TeamID
	if req.TeamID != nil {
		teamID = req.TeamID
	}
	if req.ClearTeam {
		teamID = nil
	}
	if visibility == models.VisibilityTeam && teamID == nil {
		return nil, ErrTeamRequired
	}

	var p models.Project
	err = s.db.QueryRow(ctx,
		`UPDATE projects SET title = $2, visibility = $3, team_id = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING id, owner_id, title, visibility, team_id, created_at, updated_at`,
		id, title, visibility, teamID,
	).Scan(&p.ID, &p.OwnerID, &p.Title, &p.Visibility, &p.TeamID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}

	accessChanged := p.Visibility != current.Visibility ||
		!uuidPtrEqual(p.TeamID, current.TeamID)
	if accessChanged {
		s.invalidateProject(ctx, id)
	}
	return &p, nil
}

// Delete removes the project; generations cascade at the schema level.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	// Capture generation ids before the cascade wipes them.
	genIDs, err := s.generationIDs(ctx, id)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if s.cache != nil {
		s.cache.InvalidateResource(ctx, authz.Resource{Kind: authz.KindProject, ID: id})
		for _, gid := range genIDs {
			s.cache.InvalidateResource(ctx, authz.Resource{Kind: authz.KindGeneration, ID: gid})
		}
	}
	return nil
}

func (s *Service) invalidateProject(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateResource(ctx, authz.Resource{Kind: authz.KindProject, ID: id})

	genIDs, err := s.generationIDs(ctx, id)
	if err != nil {
		return
	}
	for _, gid := range genIDs {
		s.cache.InvalidateResource(ctx, authz.Resource{Kind: authz.KindGeneration, ID: gid})
	}
}

func (s *Service) generationIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM generations WHERE project_id = $1 LIMIT $2`,
		projectID, invalidationFanout,
	)
	if err != nil {
		return nil, fmt.Errorf("list project generations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan generation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
