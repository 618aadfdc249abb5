package cache

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/velro-ai/velro/internal/authz"
)

// MemoryTier is the process-local tier: an expirable LRU shared by all
// request goroutines. It never returns a dependency error.
type MemoryTier struct {
	entries *lru.LRU[string, authz.Decision]
}

// NewMemoryTier creates a tier holding up to size decisions for ttl.
func NewMemoryTier(size int, ttl time.Duration) *MemoryTier {
	return &MemoryTier{
		entries: lru.NewLRU[string, authz.Decision](size, nil, ttl),
	}
}

func (t *MemoryTier) Name() string { return TierMemory }

func (t *MemoryTier) Get(_ context.Context, key Key) (authz.Decision, error) {
	d, ok := t.entries.Get(key.String())
	if !ok {
		return authz.Decision{}, ErrMiss
	}
	return d, nil
}

func (t *MemoryTier) Set(_ context.Context, key Key, d authz.Decision) error {
	t.entries.Add(key.String(), d)
	return nil
}

func (t *MemoryTier) Delete(_ context.Context, keys ...Key) error {
	for _, k := range keys {
		t.entries.Remove(k.String())
	}
	return nil
}

func (t *MemoryTier) DeleteUser(_ context.Context, userID uuid.UUID) error {
	prefix := "authz:v1:" + userID.String() + ":"
	for _, k := range t.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			t.entries.Remove(k)
		}
	}
	return nil
}

func (t *MemoryTier) DeleteResource(_ context.Context, res authz.Resource) error {
	suffix := ":" + string(res.Kind) + ":" + res.ID.String()
	for _, k := range t.entries.Keys() {
		if strings.HasSuffix(k, suffix) {
			t.entries.Remove(k)
		}
	}
	return nil
}

// Len reports the number of live entries, used by tests.
func (t *MemoryTier) Len() int {
	return t.entries.Len()
}
