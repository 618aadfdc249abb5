package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velro-ai/velro/internal/authz"
)

// MatviewTier reads the user_resource_access materialized view: grant rows
// precomputed from the ownership and team paths, refreshed periodically by
// the worker. The view holds no deny rows and no visibility grants, so a
// miss here means "no precomputed grant", not "denied"; the chain falls
// through to the resolver.
//
// The tier is read-only: decisions are never written to it synchronously,
// and invalidation happens by view refresh, bounded by the refresh cadence.
type MatviewTier struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewMatviewTier(db *pgxpool.Pool, timeout time.Duration) *MatviewTier {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &MatviewTier{db: db, timeout: timeout}
}

func (t *MatviewTier) Name() string { return TierMatview }

func (t *MatviewTier) Get(ctx context.Context, key Key) (authz.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var permitted bool
	var role string
	err := t.db.QueryRow(ctx,
		`SELECT permitted, role FROM user_resource_access
		 WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`,
		key.UserID, string(key.Resource.Kind), key.Resource.ID,
	).Scan(&permitted, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Decision{}, ErrMiss
	}
	if err != nil {
		return authz.Decision{}, fmt.Errorf("matview lookup: %w", err)
	}

	return authz.Decision{
		Permitted:  permitted,
		Role:       authz.RoleFromString(role),
		Source:     authz.SourceMatview,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

func (t *MatviewTier) Set(context.Context, Key, authz.Decision) error { return nil }

func (t *MatviewTier) Delete(context.Context, ...Key) error { return nil }

func (t *MatviewTier) DeleteUser(context.Context, uuid.UUID) error { return nil }

func (t *MatviewTier) DeleteResource(context.Context, authz.Resource) error { return nil }
