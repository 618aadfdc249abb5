package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/models"
)

// Resolver computes authorization decisions from entity state. Precedence is
// deterministic: direct ownership, then team membership mapped through the
// role table, then visibility as a read-only fallback. When several paths
// grant access the highest-privilege role wins. Absence of every path is an
// explicit deny, not an error.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the caller's decision for the resource. It returns
// ErrNotFound when the resource does not exist and ErrResolutionUnavailable
// when entity state could not be read; a deny is a successful resolution
// with Permitted=false.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, res Resource) (Decision, error) {
	switch res.Kind {
	case KindProject:
		return r.resolveProject(ctx, userID, res.ID)
	case KindGeneration:
		return r.resolveGeneration(ctx, userID, res.ID)
	default:
		return Decision{}, fmt.Errorf("%w: unknown resource kind %q", ErrNotFound, res.Kind)
	}
}

func (r *Resolver) resolveProject(ctx context.Context, userID, projectID uuid.UUID) (Decision, error) {
	p, err := r.store.ProjectAccess(ctx, projectID)
	if err != nil {
		return Decision{}, classify(err)
	}

	// Ownership grants the maximum privilege; nothing can outrank it.
	if p.OwnerID == userID {
		return grant(RoleOwner, SourceOwnership), nil
	}

	return r.resolveViaProject(ctx, userID, p)
}

func (r *Resolver) resolveGeneration(ctx context.Context, userID, genID uuid.UUID) (Decision, error) {
	g, err := r.store.GenerationAccess(ctx, genID)
	if err != nil {
		return Decision{}, classify(err)
	}

	if g.OwnerID == userID {
		return grant(RoleOwner, SourceOwnership), nil
	}

	// A generation inherits access from its project: the project owner and
	// the project's team see the generations inside it.
	p, err := r.store.ProjectAccess(ctx, g.ProjectID)
	if errors.Is(err, ErrNotFound) {
		// Orphaned generation: only direct ownership could have granted.
		return deny(), nil
	}
	if err != nil {
		return Decision{}, classify(err)
	}

	if p.OwnerID == userID {
		return grant(RoleOwner, SourceOwnership), nil
	}

	return r.resolveViaProject(ctx, userID, p)
}

// resolveViaProject evaluates the team and visibility paths and keeps the
// highest-privilege grant. Ownership has already been ruled out.
func (r *Resolver) resolveViaProject(ctx context.Context, userID uuid.UUID, p *ProjectAccess) (Decision, error) {
	best := deny()

	if p.TeamID != nil {
		raw, err := r.store.TeamRole(ctx, *p.TeamID, userID)
		if err != nil {
			return Decision{}, classify(err)
		}
		if role := RoleFromString(raw); role != RoleNone {
			best = grant(role, SourceTeam)
		} else if raw != "" && p.Visibility == models.VisibilityTeam {
			// Membership row with an unrecognized role: a team-open project
			// still reads for its members.
			best = grant(RoleViewer, SourceVisibility)
		}
	}

	if p.Visibility == models.VisibilityPublic {
		if v := grant(RoleViewer, SourceVisibility); v.Role.privilege() > best.Role.privilege() {
			best = v
		}
	}

	return best, nil
}

func grant(role Role, source string) Decision {
	return Decision{
		Permitted:  true,
		Role:       role,
		Source:     source,
		ResolvedAt: time.Now().UTC(),
	}
}

func deny() Decision {
	return Decision{
		Permitted:  false,
		Role:       RoleNone,
		Source:     SourceNone,
		ResolvedAt: time.Now().UTC(),
	}
}

// classify maps store failures onto the resolver's error contract: missing
// rows stay ErrNotFound, anything else becomes ErrResolutionUnavailable so
// callers can answer 503 instead of a spurious deny.
func classify(err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrResolutionUnavailable, err)
}
