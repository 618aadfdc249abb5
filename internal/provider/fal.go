package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// falEndpoints maps platform model ids to fal.ai queue endpoints.
var falEndpoints = map[string]string{
	"flux-dev":     "fal-ai/flux/dev",
	"flux-schnell": "fal-ai/flux/schnell",
	"flux-pro":     "fal-ai/flux-pro",
	"kling-video":  "fal-ai/kling-video/v1/standard/text-to-video",
}

// FAL serves FLUX image models and Kling video through the fal.ai queue
// API: submit returns a request id, then we poll until the job settles.
type FAL struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewFAL(apiKey, baseURL string) *FAL {
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}
	return &FAL{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollInterval: 2 * time.Second,
	}
}

func (p *FAL) Name() string { return "fal" }

func (p *FAL) Models() []string {
	models := make([]string, 0, len(falEndpoints))
	for m := range falEndpoints {
		models = append(models, m)
	}
	return models
}

type falSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falStatusResponse struct {
	Status string `json:"status"` // IN_QUEUE, IN_PROGRESS, COMPLETED
}

type falResultResponse struct {
	Images []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"images"`
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
}

func (p *FAL) Generate(ctx context.Context, req Request) (*Result, error) {
	endpoint, ok := falEndpoints[req.Model]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownModel, req.Model))
	}

	submitted, err := p.submit(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}

	if err := p.waitUntilDone(ctx, submitted); err != nil {
		return nil, fmt.Errorf("fal job %s: %w", submitted.RequestID, err)
	}

	result, err := p.fetchResult(ctx, submitted)
	if err != nil {
		return nil, fmt.Errorf("fal job %s: %w", submitted.RequestID, err)
	}
	result.ProviderJobID = submitted.RequestID
	return result, nil
}

func (p *FAL) submit(ctx context.Context, endpoint string, req Request) (*falSubmitResponse, error) {
	body := map[string]any{
		"prompt": req.Prompt,
	}
	if req.Count > 1 {
		body["num_images"] = req.Count
	}
	if req.Width > 0 && req.Height > 0 {
		body["image_size"] = map[string]int{"width": req.Width, "height": req.Height}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal fal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s", p.baseURL, endpoint), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fal submit: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("fal submit read: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("fal submit returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, Permanent(fmt.Errorf("fal rejected request (status %d): %s", resp.StatusCode, respBody))
	}

	var submitted falSubmitResponse
	if err := json.Unmarshal(respBody, &submitted); err != nil {
		return nil, fmt.Errorf("parse fal submit response: %w", err)
	}
	return &submitted, nil
}

func (p *FAL) waitUntilDone(ctx context.Context, job *falSubmitResponse) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		var status falStatusResponse
		if err := p.getJSON(ctx, job.StatusURL, &status); err != nil {
			return err
		}
		if status.Status == "COMPLETED" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *FAL) fetchResult(ctx context.Context, job *falSubmitResponse) (*Result, error) {
	var raw falResultResponse
	if err := p.getJSON(ctx, job.ResponseURL, &raw); err != nil {
		return nil, err
	}

	var outputs []Output
	for _, img := range raw.Images {
		outputs = append(outputs, Output{URL: img.URL, Width: img.Width, Height: img.Height})
	}
	if raw.Video.URL != "" {
		outputs = append(outputs, Output{URL: raw.Video.URL})
	}
	if len(outputs) == 0 {
		return nil, Permanent(fmt.Errorf("fal returned no outputs"))
	}
	return &Result{Outputs: outputs}, nil
}

func (p *FAL) getJSON(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Key "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fal returned %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, dest)
}
