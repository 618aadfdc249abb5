package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro-ai/velro/internal/models"
)

var ErrNotFound = errors.New("user: not found")

// Service owns the local account rows. Identity lives in Supabase Auth;
// this table carries what the platform adds on top: role, credits, profile.
type Service struct {
	db              *pgxpool.Pool
	startingCredits int
}

func NewService(db *pgxpool.Pool, startingCredits int) *Service {
	return &Service{db: db, startingCredits: startingCredits}
}

// Provision creates the local row for a Supabase account if it does not
// exist yet. Idempotent: concurrent first requests race on the insert and
// both read back the same row.
func (s *Service) Provision(ctx context.Context, id uuid.UUID, email string) (*models.User, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, role, credits_balance)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		id, email, models.RoleMember, s.startingCredits,
	)
	if err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, role, credits_balance, COALESCE(display_name, ''), created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.Role, &u.CreditsBalance, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// UpdateDisplayName sets the profile name shown on team member lists.
func (s *Service) UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) (*models.User, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET display_name = $2, updated_at = now() WHERE id = $1`,
		id, name,
	)
	if err != nil {
		return nil, fmt.Errorf("update display name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}
