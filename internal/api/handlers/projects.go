package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/authz"
	"github.com/velro-ai/velro/internal/project"
)

type ProjectsHandler struct {
	projects *project.Service
	authz    *authz.Service
}

func NewProjectsHandler(projects *project.Service, authzSvc *authz.Service) *ProjectsHandler {
	return &ProjectsHandler{projects: projects, authz: authzSvc}
}

type projectRequest struct {
	Title      string  `json:"title"`
	Visibility string  `json:"visibility"`
	TeamID     *string `json:"team_id"`
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}
	if req.Title == "" || len(req.Title) > 200 {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "title must be 1-200 characters")
		return
	}

	teamID, ok := parseOptionalUUID(req.TeamID)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "team_id is not a valid UUID")
		return
	}

	p, err := h.projects.Create(r.Context(), authctx.UserIDFromContext(r.Context()), project.CreateRequest{
		Title:      req.Title,
		Visibility: req.Visibility,
		TeamID:     teamID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	projects, err := h.projects.List(r.Context(), authctx.UserIDFromContext(r.Context()), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"count":    len(projects),
	})
}

func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid project ID")
		return
	}

	userID := authctx.UserIDFromContext(r.Context())
	if _, err := h.authz.CheckRead(r.Context(), userID, authz.Resource{Kind: authz.KindProject, ID: id}); err != nil {
		writeServiceError(w, r, err)
		return
	}

	p, err := h.projects.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid project ID")
		return
	}

	var req struct {
		Title      *string `json:"title"`
		Visibility *string `json:"visibility"`
		TeamID     *string `json:"team_id"`
		ClearTeam  bool    `json:"clear_team"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}

	userID := authctx.UserIDFromContext(r.Context())
	if _, err := h.authz.CheckWrite(r.Context(), userID, authz.Resource{Kind: authz.KindProject, ID: id}); err != nil {
		writeServiceError(w, r, err)
		return
	}

	teamID, ok := parseOptionalUUID(req.TeamID)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "team_id is not a valid UUID")
		return
	}

	p, err := h.projects.Update(r.Context(), id, project.UpdateRequest{
		Title:      req.Title,
		Visibility: req.Visibility,
		TeamID:     teamID,
		ClearTeam:  req.ClearTeam,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid project ID")
		return
	}

	userID := authctx.UserIDFromContext(r.Context())
	if _, err := h.authz.CheckDelete(r.Context(), userID, authz.Resource{Kind: authz.KindProject, ID: id}); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := h.projects.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseOptionalUUID maps absent to nil and malformed to !ok.
func parseOptionalUUID(s *string) (*uuid.UUID, bool) {
	if s == nil || *s == "" {
		return nil, true
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, false
	}
	return &id, true
}
