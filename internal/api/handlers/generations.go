package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/authz"
	"github.com/velro-ai/velro/internal/generation"
)

type GenerationsHandler struct {
	generations *generation.Service
	authz       *authz.Service
}

func NewGenerationsHandler(generations *generation.Service, authzSvc *authz.Service) *GenerationsHandler {
	return &GenerationsHandler{generations: generations, authz: authzSvc}
}

type createGenerationRequest struct {
	ProjectID string `json:"project_id"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	Count     int    `json:"count"`
}

// Create accepts a generation request and answers 202: the heavy work runs
// on the worker, the client polls or listens on a webhook.
func (h *GenerationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "project_id is not a valid UUID")
		return
	}

	userID := authctx.UserIDFromContext(r.Context())
	if _, err := h.authz.CheckWrite(r.Context(), userID, authz.Resource{Kind: authz.KindProject, ID: projectID}); err != nil {
		writeServiceError(w, r, err)
		return
	}

	g, err := h.generations.Create(r.Context(), userID, generation.CreateRequest{
		ProjectID: projectID,
		Prompt:    req.Prompt,
		Model:     req.Model,
		Count:     req.Count,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, g)
}

// List returns the caller's generations, or a project's when project_id is
// given and the caller may read that project.
func (h *GenerationsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := authctx.UserIDFromContext(r.Context())
	limit, offset := pagination(r)

	if raw := r.URL.Query().Get("project_id"); raw != "" {
		projectID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", "project_id is not a valid UUID")
			return
		}
		if _, err := h.authz.CheckRead(r.Context(), userID, authz.Resource{Kind: authz.KindProject, ID: projectID}); err != nil {
			writeServiceError(w, r, err)
			return
		}
		gens, err := h.generations.ListByProject(r.Context(), projectID, limit, offset)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"generations": gens, "count": len(gens)})
		return
	}

	gens, err := h.generations.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"generations": gens, "count": len(gens)})
}

func (h *GenerationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid generation ID")
		return
	}

	userID := authctx.UserIDFromContext(r.Context())
	if _, err := h.authz.CheckRead(r.Context(), userID, authz.Resource{Kind: authz.KindGeneration, ID: id}); err != nil {
		writeServiceError(w, r, err)
		return
	}

	g, err := h.generations.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *GenerationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid generation ID")
		return
	}

	userID := authctx.UserIDFromContext(r.Context())
	if _, err := h.authz.CheckDelete(r.Context(), userID, authz.Resource{Kind: authz.KindGeneration, ID: id}); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := h.generations.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search ranks the caller's readable generations by prompt similarity.
func (h *GenerationsHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "q is required")
		return
	}
	topK, _ := strconv.Atoi(r.URL.Query().Get("top_k"))

	results, err := h.generations.Search(r.Context(), authctx.UserIDFromContext(r.Context()), query, topK)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "count": len(results)})
}

// Authorize returns the caller's decision document for the generation. A
// deny is a successful answer here: the endpoint reports the decision, it
// does not enforce one.
func (h *GenerationsHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid generation ID")
		return
	}

	userID := authctx.UserIDFromContext(r.Context())
	res := authz.Resource{Kind: authz.KindGeneration, ID: id}

	d, err := h.authz.Decide(r.Context(), userID, res)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"resource": res,
		"decision": d,
		"actions": map[string]bool{
			"read":   d.Allows(authz.ActionRead),
			"write":  d.Allows(authz.ActionWrite),
			"delete": d.Allows(authz.ActionDelete),
		},
	})
}

// Models lists the sellable model catalog.
func (h *GenerationsHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": generation.Models()})
}
