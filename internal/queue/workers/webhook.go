package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/queue"
)

// Deliverer posts one signed event to one endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, webhookID uuid.UUID, event string, payload []byte, attempt int) error
}

type WebhookWorker struct {
	dispatcher Deliverer
	metrics    *metrics.Metrics
}

func NewWebhookWorker(dispatcher Deliverer, m *metrics.Metrics) *WebhookWorker {
	return &WebhookWorker{dispatcher: dispatcher, metrics: m}
}

func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	webhookID, err := uuid.Parse(payload.WebhookID)
	if err != nil {
		return fmt.Errorf("parse webhook ID: %w", err)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	err = w.dispatcher.Deliver(ctx, webhookID, payload.Event, []byte(payload.Payload), retried+1)
	if err != nil {
		w.metrics.IncWebhookDelivery("error")
		return err
	}
	w.metrics.IncWebhookDelivery("ok")
	return nil
}
