package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/velro-ai/velro/internal/authz"
	"github.com/velro-ai/velro/internal/metrics"
)

// Chain walks tiers in latency order. A hit at a slower tier promotes the
// entry into every faster tier, each storing it under its own TTL, so hot
// keys migrate upward. A tier that errors is logged, counted and treated as
// a miss; the chain itself never fails a lookup.
type Chain struct {
	tiers   []Tier
	metrics *metrics.Metrics
}

func NewChain(m *metrics.Metrics, tiers ...Tier) *Chain {
	return &Chain{tiers: tiers, metrics: m}
}

// Get looks the pair up across the tiers. On a hit it returns the decision
// and the name of the tier that held it; on a full miss it returns ErrMiss.
func (c *Chain) Get(ctx context.Context, userID uuid.UUID, res authz.Resource) (authz.Decision, string, error) {
	key := Key{UserID: userID, Resource: res}

	for i, tier := range c.tiers {
		d, err := tier.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			c.metrics.IncTierError(tier.Name())
			slog.Warn("authz cache tier unavailable, treating as miss",
				"tier", tier.Name(), "error", err)
			continue
		}

		c.metrics.IncCacheHit(tier.Name())
		c.promote(ctx, key, d, i)
		return d, tier.Name(), nil
	}

	c.metrics.IncCacheMiss()
	return authz.Decision{}, "", ErrMiss
}

// promote writes the decision into every tier faster than the one that hit.
func (c *Chain) promote(ctx context.Context, key Key, d authz.Decision, hitIdx int) {
	for _, tier := range c.tiers[:hitIdx] {
		if err := tier.Set(ctx, key, d); err != nil {
			c.metrics.IncTierError(tier.Name())
			slog.Warn("authz cache promotion failed", "tier", tier.Name(), "error", err)
		}
	}
}

// Set writes a freshly resolved decision through the chain. The matview
// tier ignores writes; it is refreshed out of band.
func (c *Chain) Set(ctx context.Context, userID uuid.UUID, res authz.Resource, d authz.Decision) {
	key := Key{UserID: userID, Resource: res}
	for _, tier := range c.tiers {
		if err := tier.Set(ctx, key, d); err != nil {
			c.metrics.IncTierError(tier.Name())
			slog.Warn("authz cache write failed", "tier", tier.Name(), "error", err)
		}
	}
}

// InvalidateUser drops every cached decision for the user. Best-effort:
// entries that survive a failed delete expire by TTL.
func (c *Chain) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	for _, tier := range c.tiers {
		if err := tier.DeleteUser(ctx, userID); err != nil {
			c.metrics.IncTierError(tier.Name())
			slog.Warn("authz cache user invalidation failed",
				"tier", tier.Name(), "user_id", userID, "error", err)
		}
	}
}

// InvalidateResource drops cached decisions for the resource across all
// users. Best-effort, like InvalidateUser.
func (c *Chain) InvalidateResource(ctx context.Context, res authz.Resource) {
	for _, tier := range c.tiers {
		if err := tier.DeleteResource(ctx, res); err != nil {
			c.metrics.IncTierError(tier.Name())
			slog.Warn("authz cache resource invalidation failed",
				"tier", tier.Name(), "resource", res.String(), "error", err)
		}
	}
}
