package models

import (
	"time"

	"github.com/google/uuid"
)

// Project visibility levels.
const (
	VisibilityPrivate = "private"
	VisibilityTeam    = "team"
	VisibilityPublic  = "public"
)

type Project struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OwnerID    uuid.UUID  `json:"owner_id" db:"owner_id"`
	Title      string     `json:"title" db:"title"`
	Visibility string     `json:"visibility" db:"visibility"`
	TeamID     *uuid.UUID `json:"team_id,omitempty" db:"team_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

func ValidVisibility(v string) bool {
	switch v {
	case VisibilityPrivate, VisibilityTeam, VisibilityPublic:
		return true
	}
	return false
}
