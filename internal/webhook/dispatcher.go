package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dispatcher delivers one signed event to one endpoint. It runs inside the
// worker; retrying is the queue's job, so transient failures come back as
// errors and endpoint rejections do not.
type Dispatcher struct {
	db         *pgxpool.Pool
	httpClient *http.Client
}

func NewDispatcher(db *pgxpool.Pool) *Dispatcher {
	return &Dispatcher{
		db: db,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Deliver posts the payload to the endpoint and records the attempt. The
// endpoint row is read fresh: a hook deleted or disabled after enqueue
// drops the delivery silently.
func (d *Dispatcher) Deliver(ctx context.Context, webhookID uuid.UUID, event string, payload []byte, attempt int) error {
	var endpoint, secret string
	var active bool
	err := d.db.QueryRow(ctx,
		`SELECT url, secret, is_active FROM webhooks WHERE id = $1`, webhookID,
	).Scan(&endpoint, &secret, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		slog.Info("webhook gone, dropping delivery", "webhook_id", webhookID, "event", event)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}
	if !active {
		return nil
	}

	status, postErr := d.post(ctx, endpoint, secret, webhookID, event, payload)
	d.record(ctx, webhookID, event, payload, status, attempt, postErr)

	if postErr != nil {
		return fmt.Errorf("deliver webhook %s: %w", webhookID, postErr)
	}
	if status >= 500 {
		return fmt.Errorf("webhook %s endpoint returned %d", webhookID, status)
	}
	if status >= 400 {
		// The endpoint understood us and said no; retrying won't change that.
		slog.Warn("webhook endpoint rejected delivery", "webhook_id", webhookID, "status", status)
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, endpoint, secret string, id uuid.UUID, event string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Signature", sign(payload, secret))
	req.Header.Set("X-Webhook-ID", id.String())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(ctx context.Context, webhookID uuid.UUID, event string, payload []byte, status, attempt int, deliveryErr error) {
	var deliveredAt *time.Time
	if deliveryErr == nil && status < 400 {
		now := time.Now().UTC()
		deliveredAt = &now
	}

	_, err := d.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, webhook_id, event, payload, response_status, attempts, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), webhookID, event, payload, status, attempt, deliveredAt,
	)
	if err != nil {
		slog.Error("record webhook delivery failed", "webhook_id", webhookID, "error", err)
	}
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
