package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/velro-ai/velro/internal/authz"
	rediscache "github.com/velro-ai/velro/internal/cache"
)

// RedisTier is the shared tier: decisions serialized as JSON in Redis,
// visible to every API instance.
type RedisTier struct {
	cache *rediscache.Cache
	ttl   time.Duration
}

func NewRedisTier(c *rediscache.Cache, ttl time.Duration) *RedisTier {
	return &RedisTier{cache: c, ttl: ttl}
}

func (t *RedisTier) Name() string { return TierRedis }

func (t *RedisTier) Get(ctx context.Context, key Key) (authz.Decision, error) {
	var d authz.Decision
	err := t.cache.Get(ctx, key.String(), &d)
	if errors.Is(err, rediscache.ErrMiss) {
		return authz.Decision{}, ErrMiss
	}
	if err != nil {
		return authz.Decision{}, err
	}
	return d, nil
}

func (t *RedisTier) Set(ctx context.Context, key Key, d authz.Decision) error {
	return t.cache.Set(ctx, key.String(), d, t.ttl)
}

func (t *RedisTier) Delete(ctx context.Context, keys ...Key) error {
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = k.String()
	}
	return t.cache.Delete(ctx, strs...)
}

func (t *RedisTier) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return t.cache.DeleteByPattern(ctx, "authz:v1:"+userID.String()+":*")
}

func (t *RedisTier) DeleteResource(ctx context.Context, res authz.Resource) error {
	return t.cache.DeleteByPattern(ctx, "authz:v1:*:"+string(res.Kind)+":"+res.ID.String())
}
