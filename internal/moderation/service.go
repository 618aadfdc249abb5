package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrBlocked marks a prompt rejected by policy. Handlers answer 422 with
// the wrapped reason.
var ErrBlocked = errors.New("moderation: prompt violates content policy")

// Service gates prompts before any credits move. The pattern pass is
// authoritative when it matches (fail-closed); the classifier adds
// judgement on top but its outages never block traffic (fail-open).
type Service struct {
	filter     *PatternFilter
	classifier Classifier
}

func NewService(classifier Classifier) *Service {
	return &Service{
		filter:     NewPatternFilter(),
		classifier: classifier,
	}
}

func (s *Service) Check(ctx context.Context, prompt string) error {
	if category := s.filter.Check(prompt); category != "" {
		return fmt.Errorf("%w: %s", ErrBlocked, category)
	}

	if s.classifier == nil {
		return nil
	}

	verdict, err := s.classifier.Classify(ctx, prompt)
	if err != nil {
		slog.Warn("moderation classifier unavailable, allowing on pattern pass", "error", err)
		return nil
	}
	if !verdict.Allowed {
		return fmt.Errorf("%w: %s", ErrBlocked, verdict.Reason)
	}
	return nil
}
