package authz

import (
	"context"
	"errors"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/models"
)

// DecisionCache is the lookup chain the service reads through. Get returns
// the cached decision and the tier that held it, or an error on a full
// miss. Implementations must treat tier failures as misses, never as lookup
// failures.
type DecisionCache interface {
	Get(ctx context.Context, userID uuid.UUID, res Resource) (Decision, string, error)
	Set(ctx context.Context, userID uuid.UUID, res Resource, d Decision)
	InvalidateUser(ctx context.Context, userID uuid.UUID)
	InvalidateResource(ctx context.Context, res Resource)
}

// AuditSink records decisions without ever blocking the caller.
type AuditSink interface {
	Record(entry models.AuditEntry)
}

// Service answers "may this user act on this resource" through the cache
// chain, falling back to the resolver on a miss and writing the fresh
// decision back. Every check is audited fire-and-forget.
type Service struct {
	resolver *Resolver
	cache    DecisionCache
	audit    AuditSink
	metrics  *metrics.Metrics
}

func NewService(resolver *Resolver, cache DecisionCache, sink AuditSink, m *metrics.Metrics) *Service {
	return &Service{
		resolver: resolver,
		cache:    cache,
		audit:    sink,
		metrics:  m,
	}
}

// Authorize resolves the caller's effective role on the resource and checks
// it against the requested action. It returns the decision together with
// ErrDenied when the role does not cover the action, ErrNotFound for
// unknown resources, and ErrResolutionUnavailable when entity state could
// not be read. The latter two carry an empty decision.
func (s *Service) Authorize(ctx context.Context, userID uuid.UUID, res Resource, action Action) (Decision, error) {
	start := time.Now()

	d, _, err := s.cache.Get(ctx, userID, res)
	if err != nil {
		d, err = s.resolver.Resolve(ctx, userID, res)
		if err != nil {
			s.observe(ctx, userID, res, action, Decision{}, outcomeFor(err), start)
			return Decision{}, err
		}
		s.cache.Set(ctx, userID, res, d)
	}

	if !d.Allows(action) {
		s.observe(ctx, userID, res, action, d, "denied", start)
		return d, ErrDenied
	}

	s.observe(ctx, userID, res, action, d, "permitted", start)
	return d, nil
}

// Decide resolves the caller's decision for the resource without checking a
// specific action. Used by the decision-document endpoint.
func (s *Service) Decide(ctx context.Context, userID uuid.UUID, res Resource) (Decision, error) {
	d, _, err := s.cache.Get(ctx, userID, res)
	if err == nil {
		return d, nil
	}
	d, err = s.resolver.Resolve(ctx, userID, res)
	if err != nil {
		return Decision{}, err
	}
	s.cache.Set(ctx, userID, res, d)
	return d, nil
}

func (s *Service) CheckRead(ctx context.Context, userID uuid.UUID, res Resource) (Decision, error) {
	return s.Authorize(ctx, userID, res, ActionRead)
}

func (s *Service) CheckWrite(ctx context.Context, userID uuid.UUID, res Resource) (Decision, error) {
	return s.Authorize(ctx, userID, res, ActionWrite)
}

func (s *Service) CheckDelete(ctx context.Context, userID uuid.UUID, res Resource) (Decision, error) {
	return s.Authorize(ctx, userID, res, ActionDelete)
}

// InvalidateUser drops the user's cached decisions after a membership or
// role change.
func (s *Service) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	s.cache.InvalidateUser(ctx, userID)
}

// InvalidateResource drops cached decisions for a resource after a write to
// the entities behind it.
func (s *Service) InvalidateResource(ctx context.Context, res Resource) {
	s.cache.InvalidateResource(ctx, res)
}

func (s *Service) observe(ctx context.Context, userID uuid.UUID, res Resource, action Action, d Decision, outcome string, start time.Time) {
	source := d.Source
	if source == "" {
		source = SourceNone
	}
	s.metrics.IncDecision(outcome, source)

	if s.audit == nil {
		return
	}
	s.audit.Record(models.AuditEntry{
		UserID:       userID,
		ResourceType: string(res.Kind),
		ResourceID:   res.ID,
		Action:       string(action),
		Decision:     outcome,
		Role:         string(d.Role),
		Source:       source,
		LatencyMs:    time.Since(start).Milliseconds(),
		RequestID:    chimiddleware.GetReqID(ctx),
		CreatedAt:    time.Now().UTC(),
	})
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrResolutionUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
