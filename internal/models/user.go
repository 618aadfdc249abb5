package models

import (
	"time"

	"github.com/google/uuid"
)

// Account-level roles. Admin endpoints require RoleAdmin or RoleOwner.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

type User struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	Role           string    `json:"role" db:"role"`
	CreditsBalance int       `json:"credits_balance" db:"credits_balance"`
	DisplayName    string    `json:"display_name,omitempty" db:"display_name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
