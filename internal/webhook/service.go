package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro-ai/velro/internal/models"
	"github.com/velro-ai/velro/internal/queue"
)

var (
	ErrNotFound      = errors.New("webhook: not found")
	ErrInvalidURL    = errors.New("webhook: url must be an absolute http(s) endpoint")
	ErrInvalidEvents = errors.New("webhook: unknown event in subscription")
)

// Enqueuer is the slice of the queue client the service needs.
type Enqueuer interface {
	EnqueueWebhookDeliver(payload queue.WebhookDeliverPayload) error
}

type Service struct {
	db       *pgxpool.Pool
	enqueuer Enqueuer
}

func NewService(db *pgxpool.Pool, enqueuer Enqueuer) *Service {
	return &Service{db: db, enqueuer: enqueuer}
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Create registers an endpoint for the user. The signing secret is returned
// once, on this response only.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*models.Webhook, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}

	if len(req.Events) == 0 {
		req.Events = []string{models.EventGenerationCompleted, models.EventGenerationFailed}
	}
	for _, ev := range req.Events {
		if ev != models.EventGenerationCompleted && ev != models.EventGenerationFailed {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEvents, ev)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	eventsJSON, _ := json.Marshal(req.Events)

	var wh models.Webhook
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (id, user_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, $5, true)
		 RETURNING id, user_id, url, events, is_active, created_at`,
		uuid.New(), userID, req.URL, eventsJSON, secret,
	).Scan(&wh.ID, &wh.UserID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	wh.Secret = secret
	return &wh, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, url, events, is_active, created_at
		 FROM webhooks WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		var wh models.Webhook
		if err := rows.Scan(&wh.ID, &wh.UserID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM webhooks WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Dispatch fans an event out to the user's subscribed endpoints through the
// queue. Delivery itself runs on the worker with retries; here a full queue
// is logged and skipped, never surfaced to the pipeline.
func (s *Service) Dispatch(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM webhooks
		 WHERE user_id = $1 AND is_active = true AND events @> $2::jsonb`,
		userID, fmt.Sprintf(`["%s"]`, event),
	)
	if err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}
	defer rows.Close()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan webhook id: %w", err)
		}
		err := s.enqueuer.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{
			WebhookID: id.String(),
			Event:     event,
			Payload:   string(payloadJSON),
		})
		if err != nil {
			slog.Warn("webhook enqueue failed, dropping", "webhook_id", id, "event", event, "error", err)
		}
	}
	return rows.Err()
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
