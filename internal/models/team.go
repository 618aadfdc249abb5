package models

import (
	"time"

	"github.com/google/uuid"
)

// Team membership roles, ordered by privilege. Owner and admin manage
// membership; contributors write; viewers read.
const (
	TeamRoleOwner       = "owner"
	TeamRoleAdmin       = "admin"
	TeamRoleContributor = "contributor"
	TeamRoleViewer      = "viewer"
)

func ValidTeamRole(r string) bool {
	switch r {
	case TeamRoleOwner, TeamRoleAdmin, TeamRoleContributor, TeamRoleViewer:
		return true
	}
	return false
}

type Team struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TeamMember struct {
	TeamID   uuid.UUID `json:"team_id" db:"team_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Role     string    `json:"role" db:"role"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

type TeamInvite struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TeamID     uuid.UUID  `json:"team_id" db:"team_id"`
	Email      string     `json:"email" db:"email"`
	Role       string     `json:"role" db:"role"`
	Token      string     `json:"-" db:"token"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
