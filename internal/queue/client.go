package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/velro-ai/velro/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueGenerationRun queues the provider call for a pending generation.
// Critical queue: a user is watching a spinner for this one.
func (c *Client) EnqueueGenerationRun(payload GenerationRunPayload) error {
	return c.enqueue(TypeGenerationRun, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	)
}

func (c *Client) EnqueueEmbeddingGenerate(payload EmbeddingGeneratePayload) error {
	return c.enqueue(TypeEmbeddingGenerate, payload,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	)
}

func (c *Client) EnqueueWebhookDeliver(payload WebhookDeliverPayload) error {
	return c.enqueue(TypeWebhookDeliver, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
}

// EnqueueMatviewRefresh schedules one refresh of the access view. Unique
// over 4 minutes so overlapping scheduler ticks collapse into one task.
func (c *Client) EnqueueMatviewRefresh() error {
	return c.enqueue(TypeMatviewRefresh, MatviewRefreshPayload{},
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(1),
		asynq.Timeout(4*time.Minute),
		asynq.Unique(4*time.Minute),
	)
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
