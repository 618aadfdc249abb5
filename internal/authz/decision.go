package authz

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ResourceKind string

const (
	KindProject    ResourceKind = "project"
	KindGeneration ResourceKind = "generation"
)

// Resource identifies the object of an authorization check.
type Resource struct {
	Kind ResourceKind `json:"kind"`
	ID   uuid.UUID    `json:"id"`
}

func (r Resource) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Role is the effective role a user holds on a resource, ordered by
// privilege: owner > admin > contributor > viewer > none.
type Role string

const (
	RoleNone        Role = ""
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleAdmin       Role = "admin"
	RoleOwner       Role = "owner"
)

// rolePermissions is the fixed role-to-permission table. Owners and admins
// have full access, contributors read and write, viewers read only.
var rolePermissions = map[Role]map[Action]bool{
	RoleOwner:       {ActionRead: true, ActionWrite: true, ActionDelete: true},
	RoleAdmin:       {ActionRead: true, ActionWrite: true, ActionDelete: true},
	RoleContributor: {ActionRead: true, ActionWrite: true},
	RoleViewer:      {ActionRead: true},
}

func (r Role) Can(a Action) bool {
	return rolePermissions[r][a]
}

func (r Role) privilege() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleContributor:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// RoleFromString maps a stored membership role to a Role. Unknown values
// map to RoleNone rather than erroring; a bad row must not grant access.
func RoleFromString(s string) Role {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleContributor, RoleViewer:
		return Role(s)
	}
	return RoleNone
}

// Grant sources recorded on a decision. SourceMatview marks decisions read
// from the precomputed projection, where the original path is not retained.
const (
	SourceOwnership  = "ownership"
	SourceTeam       = "team"
	SourceVisibility = "visibility"
	SourceNone       = "none"
	SourceMatview    = "matview"
)

// Decision is the result of resolving a (user, resource) pair. It is a
// cacheable projection of entity state, never a source of truth: staleness
// is bounded by cache TTLs, and it is always re-derivable by the resolver.
type Decision struct {
	Permitted  bool      `json:"permitted"`
	Role       Role      `json:"role"`
	Source     string    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Allows reports whether the decision covers the given action.
func (d Decision) Allows(a Action) bool {
	return d.Permitted && d.Role.Can(a)
}

// CacheKey builds the chain key for a (user, resource) pair.
func CacheKey(userID uuid.UUID, res Resource) string {
	return fmt.Sprintf("authz:v1:%s:%s:%s", userID, res.Kind, res.ID)
}
