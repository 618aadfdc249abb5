package models

import (
	"time"

	"github.com/google/uuid"
)

// Generation lifecycle states. A generation moves pending -> processing and
// terminates in completed or failed; failed generations refund their credits.
const (
	GenerationPending    = "pending"
	GenerationProcessing = "processing"
	GenerationCompleted  = "completed"
	GenerationFailed     = "failed"
)

const (
	MediaImage = "image"
	MediaVideo = "video"
)

// MediaOutput is one artifact produced by a generation job, stored in the
// outputs bucket and addressable by a public URL.
type MediaOutput struct {
	StoragePath string `json:"storage_path"`
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type Generation struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	UserID        uuid.UUID     `json:"user_id" db:"user_id"`
	ProjectID     uuid.UUID     `json:"project_id" db:"project_id"`
	MediaType     string        `json:"media_type" db:"media_type"`
	Prompt        string        `json:"prompt" db:"prompt"`
	Model         string        `json:"model" db:"model"`
	Provider      string        `json:"provider" db:"provider"`
	Status        string        `json:"status" db:"status"`
	NumOutputs    int           `json:"num_outputs" db:"num_outputs"`
	Outputs       []MediaOutput `json:"outputs,omitempty" db:"outputs"`
	CreditsCost   int           `json:"credits_cost" db:"credits_cost"`
	FailureReason string        `json:"failure_reason,omitempty" db:"failure_reason"`
	ProviderJobID string        `json:"provider_job_id,omitempty" db:"provider_job_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}
