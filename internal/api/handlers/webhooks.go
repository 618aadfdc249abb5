package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/webhook"
)

type WebhooksHandler struct {
	webhooks *webhook.Service
}

func NewWebhooksHandler(webhooks *webhook.Service) *WebhooksHandler {
	return &WebhooksHandler{webhooks: webhooks}
}

// Create registers a notification endpoint. The response carries the
// signing secret; it is not retrievable afterwards.
func (h *WebhooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhook.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid request body")
		return
	}

	wh, err := h.webhooks.Create(r.Context(), authctx.UserIDFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Secret is json:"-" on the model; surface it this one time.
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"webhook": wh,
		"secret":  wh.Secret,
	})
}

func (h *WebhooksHandler) List(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.webhooks.List(r.Context(), authctx.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": webhooks, "count": len(webhooks)})
}

func (h *WebhooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid webhook ID")
		return
	}

	if err := h.webhooks.Delete(r.Context(), authctx.UserIDFromContext(r.Context()), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
