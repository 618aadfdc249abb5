package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/velro-ai/velro/internal/authz"
)

// ErrMiss signals that a tier (or the whole chain) holds no entry for the
// key. It is the only error Chain.Get surfaces: tier failures are downgraded
// to misses so a cache outage can never fail an authorization check.
var ErrMiss = errors.New("authz cache: miss")

// Tier names, in increasing latency order.
const (
	TierMemory  = "memory"
	TierRedis   = "redis"
	TierMatview = "matview"
)

// Key identifies one cached decision. Tiers backed by a key-value store use
// the string form; the matview tier queries by the structured fields.
type Key struct {
	UserID   uuid.UUID
	Resource authz.Resource
}

func (k Key) String() string {
	return authz.CacheKey(k.UserID, k.Resource)
}

// Tier is one level of the lookup chain. Get returns ErrMiss when the entry
// is absent; any other error means the tier itself is unavailable. The
// matview tier is read-only and implements the write methods as no-ops.
type Tier interface {
	Name() string
	Get(ctx context.Context, key Key) (authz.Decision, error)
	Set(ctx context.Context, key Key, d authz.Decision) error
	Delete(ctx context.Context, keys ...Key) error

	// DeleteUser drops every entry cached for the user.
	DeleteUser(ctx context.Context, userID uuid.UUID) error

	// DeleteResource drops entries for the resource across all users.
	DeleteResource(ctx context.Context, res authz.Resource) error
}
