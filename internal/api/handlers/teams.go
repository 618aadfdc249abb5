package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/team"
)

type TeamsHandler struct {
	teams *team.Service
}

func NewTeamsHandler(teams *team.Service) *TeamsHandler {
	return &TeamsHandler{teams: teams}
}

func (h *TeamsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 120 {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "name must be 1-120 characters")
		return
	}

	t, err := h.teams.Create(r.Context(), authctx.UserIDFromContext(r.Context()), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TeamsHandler) List(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.ListForUser(r.Context(), authctx.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"teams": teams, "count": len(teams)})
}

// Get returns a team to its members only.
func (h *TeamsHandler) Get(w http.ResponseWriter, r *http.Request) {
	teamID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid team ID")
		return
	}

	t, err := h.teams.GetByID(r.Context(), teamID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := h.teams.RoleOf(r.Context(), teamID, authctx.UserIDFromContext(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TeamsHandler) Members(w http.ResponseWriter, r *http.Request) {
	teamID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid team ID")
		return
	}

	if _, err := h.teams.RoleOf(r.Context(), teamID, authctx.UserIDFromContext(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}

	members, err := h.teams.Members(r.Context(), teamID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": members, "count": len(members)})
}

func (h *TeamsHandler) Invite(w http.ResponseWriter, r *http.Request) {
	teamID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid team ID")
		return
	}

	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "a valid email is required")
		return
	}

	inv, err := h.teams.Invite(r.Context(), teamID, authctx.UserIDFromContext(r.Context()), req.Email, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *TeamsHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "token is required")
		return
	}

	identity := authctx.IdentityFromContext(r.Context())
	m, err := h.teams.AcceptInvite(r.Context(), token, identity.UserID, identity.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *TeamsHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	teamID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid team ID")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid user ID")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}

	m, err := h.teams.UpdateMemberRole(r.Context(), teamID, authctx.UserIDFromContext(r.Context()), targetID, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *TeamsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid team ID")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid user ID")
		return
	}

	if err := h.teams.RemoveMember(r.Context(), teamID, authctx.UserIDFromContext(r.Context()), targetID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
