package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownModel means no registered provider serves the requested model.
var ErrUnknownModel = errors.New("provider: unknown model")

// Request is a normalized generation call, independent of which backend
// serves the model.
type Request struct {
	Prompt string
	Model  string
	Width  int
	Height int
	Count  int
}

// Output is one produced artifact, addressable at the provider until we
// copy it into our own storage.
type Output struct {
	URL    string
	Base64 string
	Width  int
	Height int
}

type Result struct {
	Outputs       []Output
	ProviderJobID string
}

// ImageProvider is one generation backend.
type ImageProvider interface {
	Name() string
	Models() []string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Registry routes a model id to the provider serving it.
type Registry struct {
	byModel map[string]ImageProvider
}

func NewRegistry(providers ...ImageProvider) *Registry {
	r := &Registry{byModel: make(map[string]ImageProvider)}
	for _, p := range providers {
		for _, m := range p.Models() {
			r.byModel[m] = p
		}
	}
	return r
}

func (r *Registry) ForModel(model string) (ImageProvider, error) {
	p, ok := r.byModel[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return p, nil
}

func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// permanentError wraps provider rejections that retrying cannot fix
// (content policy, invalid parameters). The worker fails the generation
// immediately instead of burning retry attempts.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
