package team

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro-ai/velro/internal/models"
)

var (
	ErrNotFound      = errors.New("team: not found")
	ErrNotMember     = errors.New("team: not a member")
	ErrDenied        = errors.New("team: operation not allowed for role")
	ErrInvalidRole   = errors.New("team: invalid role")
	ErrInviteInvalid = errors.New("team: invite expired or already used")
	ErrEmailMismatch = errors.New("team: invite was issued to a different email")
)

const inviteTTL = 7 * 24 * time.Hour

// Invalidator drops a user's cached authorization decisions when their
// team standing changes.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID)
}

type Service struct {
	db    *pgxpool.Pool
	cache Invalidator
}

func NewService(db *pgxpool.Pool, cache Invalidator) *Service {
	return &Service{db: db, cache: cache}
}

// Create makes a team and seats the creator as its owner member, in one
// transaction.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, name string) (*models.Team, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create team: %w", err)
	}
	defer tx.Rollback(ctx)

	var t models.Team
	err = tx.QueryRow(ctx,
		`INSERT INTO teams (id, name, owner_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, owner_id, created_at`,
		uuid.New(), name, ownerID,
	).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert team: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)`,
		t.ID, ownerID, models.TeamRoleOwner,
	)
	if err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create team: %w", err)
	}
	return &t, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	var t models.Team
	err := s.db.QueryRow(ctx,
		`SELECT id, name, owner_id, created_at FROM teams WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return &t, nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Team, error) {
	rows, err := s.db.Query(ctx,
		`SELECT t.id, t.name, t.owner_id, t.created_at
		 FROM teams t
		 JOIN team_members tm ON tm.team_id = t.id
		 WHERE tm.user_id = $1
		 ORDER BY t.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		var t models.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// Member is a membership row joined with the member's profile.
type Member struct {
	models.TeamMember
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Members lists a team's roster. Callers must already be members; the
// handler checks via RoleOf.
func (s *Service) Members(ctx context.Context, teamID uuid.UUID) ([]Member, error) {
	rows, err := s.db.Query(ctx,
		`SELECT tm.team_id, tm.user_id, tm.role, tm.joined_at, u.email, COALESCE(u.display_name, '')
		 FROM team_members tm
		 JOIN users u ON u.id = tm.user_id
		 WHERE tm.team_id = $1
		 ORDER BY tm.joined_at ASC`,
		teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt, &m.Email, &m.DisplayName); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RoleOf returns the user's role on the team, or ErrNotMember.
func (s *Service) RoleOf(ctx context.Context, teamID, userID uuid.UUID) (string, error) {
	var role string
	err := s.db.QueryRow(ctx,
		`SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("team role lookup: %w", err)
	}
	return role, nil
}

// Invite issues an email-bound join token. Only owners and admins invite,
// and invites never mint owners.
func (s *Service) Invite(ctx context.Context, teamID, inviterID uuid.UUID, email, role string) (*models.TeamInvite, error) {
	inviterRole, err := s.RoleOf(ctx, teamID, inviterID)
	if err != nil {
		return nil, err
	}
	if inviterRole != models.TeamRoleOwner && inviterRole != models.TeamRoleAdmin {
		return nil, ErrDenied
	}
	if !models.ValidTeamRole(role) || role == models.TeamRoleOwner {
		return nil, ErrInvalidRole
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, fmt.Errorf("generate invite token: %w", err)
	}

	var inv models.TeamInvite
	err = s.db.QueryRow(ctx,
		`INSERT INTO team_invites (id, team_id, email, role, token, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, team_id, email, role, token, expires_at, created_at`,
		uuid.New(), teamID, strings.ToLower(email), role, token, time.Now().UTC().Add(inviteTTL),
	).Scan(&inv.ID, &inv.TeamID, &inv.Email, &inv.Role, &inv.Token, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	return &inv, nil
}

// AcceptInvite consumes the token and seats the caller. The token row is
// locked so a double-submit cannot create two memberships or reuse the
// invite.
func (s *Service) AcceptInvite(ctx context.Context, token string, userID uuid.UUID, userEmail string) (*models.TeamMember, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin accept invite: %w", err)
	}
	defer tx.Rollback(ctx)

	var inv models.TeamInvite
	err = tx.QueryRow(ctx,
		`SELECT id, team_id, email, role, expires_at, accepted_at
		 FROM team_invites WHERE token = $1 FOR UPDATE`,
		token,
	).Scan(&inv.ID, &inv.TeamID, &inv.Email, &inv.Role, &inv.ExpiresAt, &inv.AcceptedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInviteInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load invite: %w", err)
	}
	if inv.AcceptedAt != nil || time.Now().After(inv.ExpiresAt) {
		return nil, ErrInviteInvalid
	}
	if !strings.EqualFold(inv.Email, userEmail) {
		return nil, ErrEmailMismatch
	}

	var m models.TeamMember
	err = tx.QueryRow(ctx,
		`INSERT INTO team_members (team_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (team_id, user_id) DO UPDATE SET role = EXCLUDED.role
		 RETURNING team_id, user_id, role, joined_at`,
		inv.TeamID, userID, inv.Role,
	).Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE team_invites SET accepted_at = now() WHERE id = $1`, inv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("consume invite: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit accept invite: %w", err)
	}

	// New membership changes what the user may see.
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, userID)
	}
	return &m, nil
}

// UpdateMemberRole changes a member's role. Owners and admins only; the
// owner's own seat can only be touched by the owner.
func (s *Service) UpdateMemberRole(ctx context.Context, teamID, callerID, targetID uuid.UUID, newRole string) (*models.TeamMember, error) {
	if !models.ValidTeamRole(newRole) || newRole == models.TeamRoleOwner {
		return nil, ErrInvalidRole
	}

	callerRole, err := s.RoleOf(ctx, teamID, callerID)
	if err != nil {
		return nil, err
	}
	if callerRole != models.TeamRoleOwner && callerRole != models.TeamRoleAdmin {
		return nil, ErrDenied
	}

	targetRole, err := s.RoleOf(ctx, teamID, targetID)
	if err != nil {
		return nil, err
	}
	if targetRole == models.TeamRoleOwner && callerRole != models.TeamRoleOwner {
		return nil, ErrDenied
	}

	var m models.TeamMember
	err = s.db.QueryRow(ctx,
		`UPDATE team_members SET role = $3
		 WHERE team_id = $1 AND user_id = $2
		 RETURNING team_id, user_id, role, joined_at`,
		teamID, targetID, newRole,
	).Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateUser(ctx, targetID)
	}
	return &m, nil
}

// RemoveMember unseats a member. Owners and admins only; the owner can
// only be removed by themselves (leaving their own team).
func (s *Service) RemoveMember(ctx context.Context, teamID, callerID, targetID uuid.UUID) error {
	callerRole, err := s.RoleOf(ctx, teamID, callerID)
	if err != nil {
		return err
	}
	if callerRole != models.TeamRoleOwner && callerRole != models.TeamRoleAdmin && callerID != targetID {
		return ErrDenied
	}

	targetRole, err := s.RoleOf(ctx, teamID, targetID)
	if err != nil {
		return err
	}
	if targetRole == models.TeamRoleOwner && callerID != targetID {
		return ErrDenied
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, targetID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}

	if s.cache != nil {
		s.cache.InvalidateUser(ctx, targetID)
	}
	return nil
}

func generateInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
