package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/audit"
	"github.com/velro-ai/velro/internal/generation"
)

// AdminHandler serves the operator endpoints. The router gates the whole
// group behind the admin role.
type AdminHandler struct {
	audits      audit.Store
	generations *generation.Service
}

func NewAdminHandler(audits audit.Store, generations *generation.Service) *AdminHandler {
	return &AdminHandler{audits: audits, generations: generations}
}

// Audit returns the authorization trail, filterable by user, resource type,
// decision and time range.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		ResourceType: r.URL.Query().Get("resource_type"),
		Decision:     r.URL.Query().Get("decision"),
	}
	q.Limit, q.Offset = pagination(r)

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", "user_id is not a valid UUID")
			return
		}
		q.UserID = id
	}

	var ok bool
	if q.Since, ok = parseTimeParam(r, "since"); !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "since must be RFC 3339")
		return
	}
	if q.Until, ok = parseTimeParam(r, "until"); !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "until must be RFC 3339")
		return
	}

	entries, err := h.audits.Query(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

// Usage reports generation volume and credit spend per model.
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	since, ok := parseTimeParam(r, "since")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "since must be RFC 3339")
		return
	}
	until, ok := parseTimeParam(r, "until")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "until must be RFC 3339")
		return
	}

	report, err := h.generations.UsageSummary(r.Context(), since, until)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"usage": report})
}

func parseTimeParam(r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}
