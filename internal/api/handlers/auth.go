package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/models"
	"github.com/velro-ai/velro/internal/supabase"
)

// AuthClient is the slice of the Supabase Auth client these handlers use.
type AuthClient interface {
	SignUp(ctx context.Context, email, password string) (*supabase.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*supabase.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*supabase.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// UserProvisioner creates the local account row behind a Supabase identity.
type UserProvisioner interface {
	Provision(ctx context.Context, id uuid.UUID, email string) (*models.User, error)
}

type AuthHandler struct {
	auth  AuthClient
	users UserProvisioner
}

func NewAuthHandler(auth AuthClient, users UserProvisioner) *AuthHandler {
	return &AuthHandler{auth: auth, users: users}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "email and password are required")
		return
	}

	session, err := h.auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Projects with email confirmation enabled return no tokens yet; the
	// local row is provisioned on first login instead.
	if session.AccessToken == "" {
		writeJSON(w, http.StatusCreated, map[string]string{
			"status": "confirmation_required",
		})
		return
	}

	u, err := h.users.Provision(r.Context(), session.User.ID, session.User.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionPayload(session, u))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "email and password are required")
		return
	}

	session, err := h.auth.SignInWithPassword(r.Context(), strings.ToLower(req.Email), req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Accounts created before this service existed, or confirmed out of
	// band, get their local row here.
	u, err := h.users.Provision(r.Context(), session.User.ID, session.User.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionPayload(session, u))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "refresh_token is required")
		return
	}

	session, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionPayload(session, nil))
}

// Logout revokes the caller's session. Runs behind the auth middleware, so
// the bearer token is present and already verified.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := h.auth.SignOut(r.Context(), token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionPayload(s *supabase.Session, u *models.User) sessionResponse {
	return sessionResponse{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		RefreshToken: s.RefreshToken,
		User:         u,
	}
}
