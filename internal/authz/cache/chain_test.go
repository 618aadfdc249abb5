package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velro-ai/velro/internal/authz"
	rediscache "github.com/velro-ai/velro/internal/cache"
)

// stubTier stands in for the matview tier: read-only, serves fixed entries.
type stubTier struct {
	name    string
	entries map[string]authz.Decision
	err     error
	gets    int
}

func (s *stubTier) Name() string { return s.name }

func (s *stubTier) Get(_ context.Context, key Key) (authz.Decision, error) {
	s.gets++
	if s.err != nil {
		return authz.Decision{}, s.err
	}
	d, ok := s.entries[key.String()]
	if !ok {
		return authz.Decision{}, ErrMiss
	}
	return d, nil
}

func (s *stubTier) Set(context.Context, Key, authz.Decision) error       { return nil }
func (s *stubTier) Delete(context.Context, ...Key) error                 { return nil }
func (s *stubTier) DeleteUser(context.Context, uuid.UUID) error          { return nil }
func (s *stubTier) DeleteResource(context.Context, authz.Resource) error { return nil }

func newTestRedisTier(t *testing.T, ttl time.Duration) (*RedisTier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTier(rediscache.NewCache(client), ttl), mr
}

func permittedDecision(role authz.Role, source string) authz.Decision {
	return authz.Decision{
		Permitted:  true,
		Role:       role,
		Source:     source,
		ResolvedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestChainPromotesSlowHitToFasterTiers(t *testing.T) {
	mem := NewMemoryTier(128, time.Minute)
	rt, _ := newTestRedisTier(t, time.Minute)

	key := Key{UserID: uuid.New(), Resource: authz.Resource{Kind: authz.KindProject, ID: uuid.New()}}
	want := permittedDecision(authz.RoleOwner, authz.SourceMatview)
	tier3 := &stubTier{name: TierMatview, entries: map[string]authz.Decision{key.String(): want}}

	chain := NewChain(nil, mem, rt, tier3)

	d, tierName, err := chain.Get(context.Background(), key.UserID, key.Resource)
	require.NoError(t, err)
	assert.Equal(t, TierMatview, tierName)
	assert.Equal(t, want.Role, d.Role)

	// The same key must now be served by the memory tier directly.
	d, err = mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, want.Role, d.Role)

	// And by the redis tier.
	d, err = rt.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, want.Role, d.Role)

	// The immediately following chain lookup hits tier 1.
	gets := tier3.gets
	_, tierName, err = chain.Get(context.Background(), key.UserID, key.Resource)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, tierName)
	assert.Equal(t, gets, tier3.gets, "tier 3 must not be consulted again")
}

func TestChainRedisHitPromotesToMemoryOnly(t *testing.T) {
	mem := NewMemoryTier(128, time.Minute)
	rt, _ := newTestRedisTier(t, time.Minute)
	tier3 := &stubTier{name: TierMatview, entries: map[string]authz.Decision{}}

	key := Key{UserID: uuid.New(), Resource: authz.Resource{Kind: authz.KindGeneration, ID: uuid.New()}}
	want := permittedDecision(authz.RoleViewer, authz.SourceVisibility)
	require.NoError(t, rt.Set(context.Background(), key, want))

	chain := NewChain(nil, mem, rt, tier3)

	_, tierName, err := chain.Get(context.Background(), key.UserID, key.Resource)
	require.NoError(t, err)
	assert.Equal(t, TierRedis, tierName)
	assert.Zero(t, tier3.gets)

	d, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, want.Role, d.Role)
}

func TestChainFullMiss(t *testing.T) {
	mem := NewMemoryTier(128, time.Minute)
	rt, _ := newTestRedisTier(t, time.Minute)
	tier3 := &stubTier{name: TierMatview, entries: map[string]authz.Decision{}}

	chain := NewChain(nil, mem, rt, tier3)

	_, _, err := chain.Get(context.Background(), uuid.New(), authz.Resource{Kind: authz.KindProject, ID: uuid.New()})
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 1, tier3.gets, "every tier must be consulted before a full miss")
}

func TestChainSurvivesRedisOutage(t *testing.T) {
	mem := NewMemoryTier(128, time.Minute)
	rt, mr := newTestRedisTier(t, time.Minute)

	key := Key{UserID: uuid.New(), Resource: authz.Resource{Kind: authz.KindProject, ID: uuid.New()}}
	want := permittedDecision(authz.RoleContributor, authz.SourceTeam)
	tier3 := &stubTier{name: TierMatview, entries: map[string]authz.Decision{key.String(): want}}

	chain := NewChain(nil, mem, rt, tier3)

	// Kill the shared cache: tier 2 now errors on every call.
	mr.Close()

	d, tierName, err := chain.Get(context.Background(), key.UserID, key.Resource)
	require.NoError(t, err, "a cache outage must not fail the lookup")
	assert.Equal(t, TierMatview, tierName)
	assert.Equal(t, want.Role, d.Role)

	// Promotion to memory still happened despite the dead redis tier.
	d, err = mem.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, want.Role, d.Role)

	// Writes degrade the same way.
	chain.Set(context.Background(), key.UserID, key.Resource, want)
	chain.InvalidateUser(context.Background(), key.UserID)
}

func TestChainSetSkipsReadOnlyTier(t *testing.T) {
	mem := NewMemoryTier(128, time.Minute)
	rt, mr := newTestRedisTier(t, 15*time.Minute)
	tier3 := &stubTier{name: TierMatview, entries: map[string]authz.Decision{}}

	key := Key{UserID: uuid.New(), Resource: authz.Resource{Kind: authz.KindProject, ID: uuid.New()}}
	want := permittedDecision(authz.RoleAdmin, authz.SourceTeam)

	chain := NewChain(nil, mem, rt, tier3)
	chain.Set(context.Background(), key.UserID, key.Resource, want)

	_, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	_, err = rt.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, tier3.entries, "matview tier ignores writes")

	// Redis entries carry the redis tier's own TTL.
	ttl := mr.TTL(key.String())
	assert.InDelta(t, (15 * time.Minute).Seconds(), ttl.Seconds(), 1)
}

func TestChainInvalidateUser(t *testing.T) {
	mem := NewMemoryTier(128, time.Minute)
	rt, _ := newTestRedisTier(t, time.Minute)
	chain := NewChain(nil, mem, rt)

	user := uuid.New()
	other := uuid.New()
	res1 := authz.Resource{Kind: authz.KindProject, ID: uuid.New()}
	res2 := authz.Resource{Kind: authz.KindGeneration, ID: uuid.New()}

	d := permittedDecision(authz.RoleOwner, authz.SourceOwnership)
	chain.Set(context.Background(), user, res1, d)
	chain.Set(context.Background(), user, res2, d)
	chain.Set(context.Background(), other, res1, d)

	chain.InvalidateUser(context.Background(), user)

	_, _, err := chain.Get(context.Background(), user, res1)
	assert.ErrorIs(t, err, ErrMiss)
	_, _, err = chain.Get(context.Background(), user, res2)
	assert.ErrorIs(t, err, ErrMiss)
	_, _, err = chain.Get(context.Background(), other, res1)
	assert.NoError(t, err, "other users' entries must survive")
}

func TestChainInvalidateResource(t *testing.T) {
	mem := NewMemoryTier(128, time.Minute)
	rt, _ := newTestRedisTier(t, time.Minute)
	chain := NewChain(nil, mem, rt)

	userA := uuid.New()
	userB := uuid.New()
	res := authz.Resource{Kind: authz.KindProject, ID: uuid.New()}
	otherRes := authz.Resource{Kind: authz.KindProject, ID: uuid.New()}

	d := permittedDecision(authz.RoleViewer, authz.SourceVisibility)
	chain.Set(context.Background(), userA, res, d)
	chain.Set(context.Background(), userB, res, d)
	chain.Set(context.Background(), userA, otherRes, d)

	chain.InvalidateResource(context.Background(), res)

	_, _, err := chain.Get(context.Background(), userA, res)
	assert.ErrorIs(t, err, ErrMiss)
	_, _, err = chain.Get(context.Background(), userB, res)
	assert.ErrorIs(t, err, ErrMiss)
	_, _, err = chain.Get(context.Background(), userA, otherRes)
	assert.NoError(t, err)
}

func TestMemoryTierExpiry(t *testing.T) {
	mem := NewMemoryTier(16, 30*time.Millisecond)
	key := Key{UserID: uuid.New(), Resource: authz.Resource{Kind: authz.KindProject, ID: uuid.New()}}

	require.NoError(t, mem.Set(context.Background(), key, permittedDecision(authz.RoleOwner, authz.SourceOwnership)))
	_, err := mem.Get(context.Background(), key)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = mem.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisTierMissVsError(t *testing.T) {
	rt, mr := newTestRedisTier(t, time.Minute)
	key := Key{UserID: uuid.New(), Resource: authz.Resource{Kind: authz.KindProject, ID: uuid.New()}}

	_, err := rt.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrMiss)

	mr.Close()
	_, err = rt.Get(context.Background(), key)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMiss), "an outage is not a miss at the tier level")
}
