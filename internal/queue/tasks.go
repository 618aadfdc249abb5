package queue

// Task types handled by the worker binary.
const (
	TypeGenerationRun     = "generation:run"
	TypeEmbeddingGenerate = "embedding:generate"
	TypeWebhookDeliver    = "webhook:deliver"
	TypeMatviewRefresh    = "authz:refresh_matview"
)

// Queue names in priority order. Generation work is what users wait on.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Priorities is the queue weight map shared by all worker deployments.
// Weighted, not strict: low-priority work keeps moving under load.
func Priorities() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueDefault:  3,
		QueueLow:      1,
	}
}

type GenerationRunPayload struct {
	GenerationID string `json:"generation_id"`
	UserID       string `json:"user_id"`
}

type EmbeddingGeneratePayload struct {
	GenerationID string `json:"generation_id"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
	Prompt       string `json:"prompt"`
}

type WebhookDeliverPayload struct {
	WebhookID string `json:"webhook_id"`
	Event     string `json:"event"`
	Payload   string `json:"payload"` // JSON string
}

// MatviewRefreshPayload is empty; the task type alone names the view.
type MatviewRefreshPayload struct{}
