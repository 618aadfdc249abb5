package handlers

import (
	"net/http"
	"strconv"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/credit"
	"github.com/velro-ai/velro/internal/user"
)

type UsersHandler struct {
	users   *user.Service
	credits *credit.Service
}

func NewUsersHandler(users *user.Service, credits *credit.Service) *UsersHandler {
	return &UsersHandler{users: users, credits: credits}
}

func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), authctx.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UsersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}
	if len(req.DisplayName) > 120 {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "display_name too long")
		return
	}

	u, err := h.users.UpdateDisplayName(r.Context(), authctx.UserIDFromContext(r.Context()), req.DisplayName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UsersHandler) Credits(w http.ResponseWriter, r *http.Request) {
	balance, err := h.credits.Balance(r.Context(), authctx.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (h *UsersHandler) CreditTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	txs, err := h.credits.Transactions(r.Context(), authctx.UserIDFromContext(r.Context()), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// pagination reads limit/offset query params; services clamp the values.
func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
