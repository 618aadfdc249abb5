package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/velro-ai/velro/internal/cache"
)

// Result is one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is true when Redis was unreachable and the decision came
	// from the in-process fallback. Counts are then per-instance, so the
	// effective fleet-wide limit is higher than configured.
	Degraded bool
}

// Limiter admits at most Limit requests per identity per Window. The shared
// counter lives in Redis; when Redis is down each instance falls back to a
// local token bucket rather than failing requests closed.
type Limiter struct {
	redis  *cache.Cache
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	fallback  map[string]*fallbackBucket
	lastSweep time.Time
}

type fallbackBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New builds a limiter. redis may be nil, in which case every decision is
// local (single-instance deployments, tests).
func New(redis *cache.Cache, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		redis:    redis,
		limit:    limit,
		window:   window,
		now:      time.Now,
		fallback: make(map[string]*fallbackBucket),
	}
}

// Allow records one request for identity and reports whether it is admitted.
func (l *Limiter) Allow(ctx context.Context, identity string) Result {
	if l.redis != nil {
		res, err := l.allowRedis(ctx, identity)
		if err == nil {
			return res
		}
		slog.Warn("rate limiter falling back to local buckets",
			"identity", identity,
			"error", err,
		)
	}
	return l.allowLocal(identity)
}

func (l *Limiter) allowRedis(ctx context.Context, identity string) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("ratelimit:%s:%d", identity, windowStart.Unix())

	count, err := l.redis.IncrWindow(ctx, key, l.window)
	if err != nil {
		return Result{}, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(l.window),
	}, nil
}

func (l *Limiter) allowLocal(identity string) Result {
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	b, ok := l.fallback[identity]
	if !ok {
		b = &fallbackBucket{
			lim: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit),
		}
		l.fallback[identity] = b
	}
	b.lastSeen = now
	allowed := b.lim.AllowN(now, 1)
	remaining := int(b.lim.TokensAt(now))
	l.mu.Unlock()

	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   now.Truncate(l.window).Add(l.window),
		Degraded:  true,
	}
}

// sweepLocked drops buckets idle for several windows. Called with mu held;
// runs at most once a minute so the hot path stays map-lookup cheap.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	idle := 3 * l.window
	if idle < 3*time.Minute {
		idle = 3 * time.Minute
	}
	for id, b := range l.fallback {
		if now.Sub(b.lastSeen) > idle {
			delete(l.fallback, id)
		}
	}
}
