package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/velro-ai/velro/internal/authz"
	"github.com/velro-ai/velro/internal/credit"
	"github.com/velro-ai/velro/internal/generation"
	"github.com/velro-ai/velro/internal/moderation"
	"github.com/velro-ai/velro/internal/project"
	"github.com/velro-ai/velro/internal/supabase"
	"github.com/velro-ai/velro/internal/team"
	"github.com/velro-ai/velro/internal/user"
	"github.com/velro-ai/velro/internal/webhook"
)

// maxBodySize caps request bodies at 1 MB. Prompts are text; nothing on
// this API legitimately needs more.
const maxBodySize = 1 << 20

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{Code: code, Message: message},
	})
}

// decodeJSON reads a size-limited request body into dest, rejecting fields
// the endpoint does not know about.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

// writeServiceError maps domain errors onto the HTTP taxonomy. The split
// that matters most: a dependency failure during authorization is 503
// resolution_unavailable, a deliberate deny is 403 denied. Collapsing the
// two turns an outage into a phantom permission bug.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrDenied),
		errors.Is(err, team.ErrDenied),
		errors.Is(err, team.ErrNotMember):
		writeError(w, http.StatusForbidden, "denied", "you do not have access to this resource")

	case errors.Is(err, authz.ErrNotFound),
		errors.Is(err, project.ErrNotFound),
		errors.Is(err, generation.ErrNotFound),
		errors.Is(err, team.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, webhook.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")

	case errors.Is(err, authz.ErrResolutionUnavailable):
		writeError(w, http.StatusServiceUnavailable, "resolution_unavailable",
			"authorization could not be resolved, try again")

	case errors.Is(err, credit.ErrInsufficient):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits",
			"credit balance does not cover this request")

	case errors.Is(err, moderation.ErrBlocked):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed",
			"prompt violates the content policy")

	case errors.Is(err, generation.ErrInvalidPrompt),
		errors.Is(err, generation.ErrInvalidCount),
		errors.Is(err, generation.ErrUnknownModel),
		errors.Is(err, generation.ErrProjectNotFound),
		errors.Is(err, project.ErrInvalidVisibility),
		errors.Is(err, project.ErrTeamRequired),
		errors.Is(err, team.ErrInvalidRole),
		errors.Is(err, team.ErrInviteInvalid),
		errors.Is(err, team.ErrEmailMismatch),
		errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, webhook.ErrInvalidEvents):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())

	case errors.Is(err, supabase.ErrInvalidCredentials),
		errors.Is(err, supabase.ErrInvalidRefresh):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials")

	case errors.Is(err, supabase.ErrEmailTaken):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "email already registered")

	case errors.Is(err, supabase.ErrWeakPassword):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "password does not meet requirements")

	case errors.Is(err, supabase.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable",
			"a backing service is unavailable, try again")

	default:
		// Detail stays server-side; the client gets a generic envelope.
		slog.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
