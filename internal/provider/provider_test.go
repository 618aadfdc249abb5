package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoutesByModel(t *testing.T) {
	reg := NewRegistry(NewOpenAI("test-key"), NewFAL("test-key", ""))

	p, err := reg.ForModel("dall-e-3")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = reg.ForModel("flux-schnell")
	require.NoError(t, err)
	assert.Equal(t, "fal", p.Name())

	_, err = reg.ForModel("stable-diffusion-9000")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestPermanentErrorMarking(t *testing.T) {
	base := errors.New("content policy")
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsPermanent(base))
	assert.False(t, IsPermanent(nil))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", Permanent(base))))
	assert.ErrorIs(t, Permanent(base), base)
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dall-e-3", body["model"])
		assert.Equal(t, "url", body["response_format"])

		json.NewEncoder(w).Encode(map[string]any{
			"created": time.Now().Unix(),
			"data": []map[string]string{
				{"url": "https://cdn.example.com/img-1.png"},
			},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	p := NewOpenAIFromClient(openai.NewClientWithConfig(cfg))

	res, err := p.Generate(context.Background(), Request{
		Prompt: "a watercolor fox",
		Model:  "dall-e-3",
	})
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "https://cdn.example.com/img-1.png", res.Outputs[0].URL)
}

func TestOpenAIRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "Your request was rejected by the safety system",
				"type":    "invalid_request_error",
			},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	p := NewOpenAIFromClient(openai.NewClientWithConfig(cfg))

	_, err := p.Generate(context.Background(), Request{Prompt: "bad", Model: "dall-e-3"})
	assert.True(t, IsPermanent(err), "4xx rejections must not be retried")
}

func TestFALGenerateSubmitPollFetch(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	var serverURL string

	mux.HandleFunc("/fal-ai/flux/dev", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Key test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a watercolor fox", body["prompt"])

		json.NewEncoder(w).Encode(map[string]string{
			"request_id":   "req-42",
			"status_url":   serverURL + "/status/req-42",
			"response_url": serverURL + "/result/req-42",
		})
	})
	mux.HandleFunc("/status/req-42", func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "IN_PROGRESS"
		if polls >= 2 {
			status = "COMPLETED"
		}
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.HandleFunc("/result/req-42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"images": []map[string]any{
				{"url": "https://fal.media/out-1.png", "width": 1024, "height": 768},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	serverURL = srv.URL

	p := NewFAL("test-key", srv.URL)
	p.pollInterval = 5 * time.Millisecond

	res, err := p.Generate(context.Background(), Request{Prompt: "a watercolor fox", Model: "flux-dev"})
	require.NoError(t, err)
	assert.Equal(t, "req-42", res.ProviderJobID)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "https://fal.media/out-1.png", res.Outputs[0].URL)
	assert.Equal(t, 1024, res.Outputs[0].Width)
	assert.GreaterOrEqual(t, polls, 2)
}

func TestFALSubmitRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"prompt too long"}`))
	}))
	defer srv.Close()

	p := NewFAL("test-key", srv.URL)
	_, err := p.Generate(context.Background(), Request{Prompt: "x", Model: "flux-dev"})
	assert.True(t, IsPermanent(err))
}

func TestFALServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewFAL("test-key", srv.URL)
	_, err := p.Generate(context.Background(), Request{Prompt: "x", Model: "flux-dev"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "5xx should be retried")
}

func TestFALUnknownModel(t *testing.T) {
	p := NewFAL("test-key", "http://unused")
	_, err := p.Generate(context.Background(), Request{Prompt: "x", Model: "dall-e-3"})
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.True(t, IsPermanent(err))
}
