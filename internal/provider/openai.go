package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI serves the DALL-E family through the official images endpoint.
type OpenAI struct {
	client *openai.Client
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{client: openai.NewClient(apiKey)}
}

// NewOpenAIFromClient exists for tests pointing the SDK at a local server.
func NewOpenAIFromClient(client *openai.Client) *OpenAI {
	return &OpenAI{client: client}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Models() []string {
	return []string{"dall-e-2", "dall-e-3"}
}

func (p *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	n := req.Count
	if n <= 0 {
		n = 1
	}
	if req.Model == "dall-e-3" {
		// The API rejects n > 1 for DALL-E 3.
		n = 1
	}

	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          req.Model,
		N:              n,
		Size:           sizeFor(req.Width, req.Height),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	outputs := make([]Output, 0, len(resp.Data))
	for _, d := range resp.Data {
		outputs = append(outputs, Output{
			URL:    d.URL,
			Base64: d.B64JSON,
			Width:  req.Width,
			Height: req.Height,
		})
	}
	return &Result{Outputs: outputs}, nil
}

func sizeFor(width, height int) string {
	switch {
	case width == 0 && height == 0:
		return openai.CreateImageSize1024x1024
	case width > height:
		return openai.CreateImageSize1792x1024
	case height > width:
		return openai.CreateImageSize1024x1792
	case width <= 256:
		return openai.CreateImageSize256x256
	case width <= 512:
		return openai.CreateImageSize512x512
	default:
		return openai.CreateImageSize1024x1024
	}
}

// classifyOpenAIError separates rejections worth retrying from those that
// are not. 4xx other than 429 means the request itself is bad.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("openai rate limited: %w", err)
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return Permanent(fmt.Errorf("openai rejected request: %w", err))
		}
	}
	return fmt.Errorf("openai image generation: %w", err)
}
