package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobforge/internal/config"
	"github.com/kiranshivaraju/jobforge/internal/processor"
	"github.com/kiranshivaraju/jobforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coverLetterJob() *models.Job {
	return &models.Job{
		ID:        uuid.New(),
		JobType:   models.JobTypeCoverLetterGeneration,
		InputData: json.RawMessage(`{"company":"Acme","role":"Engineer"}`),
	}
}

type result struct {
	JobType  models.JobType `json:"job_type"`
	Content  string         `json:"content"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
}

func TestOllama_Process(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"Dear Acme,","done":true}`))
	}))
	defer srv.Close()

	p := processor.NewOllama(config.OllamaConfig{BaseURL: srv.URL + "/", Model: "llama3"})
	out, err := p.Process(context.Background(), coverLetterJob())
	require.NoError(t, err)

	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Contains(t, got["prompt"], "cover letter")
	assert.Contains(t, got["prompt"], `"company": "Acme"`)

	var res result
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "Dear Acme,", res.Content)
	assert.Equal(t, "ollama", res.Provider)
	assert.Equal(t, models.JobTypeCoverLetterGeneration, res.JobType)
}

func TestOllama_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := processor.NewOllama(config.OllamaConfig{BaseURL: srv.URL}).Process(context.Background(), coverLetterJob())
	require.Error(t, err)
	assert.True(t, processor.Retryable(err))
	assert.Contains(t, err.Error(), "503")
}

func TestOllama_EmptyResponseIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"  ","done":true}`))
	}))
	defer srv.Close()

	_, err := processor.NewOllama(config.OllamaConfig{BaseURL: srv.URL}).Process(context.Background(), coverLetterJob())
	require.Error(t, err)
	assert.True(t, errors.Is(err, processor.ErrInvalidResponse))
	assert.False(t, processor.Retryable(err))
}

func TestOpenAI_Process(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Dear hiring manager"}}]}`))
	}))
	defer srv.Close()

	p := processor.NewOpenAI(config.OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o-mini"})
	out, err := p.Process(context.Background(), coverLetterJob())
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "Acme")

	var res result
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "Dear hiring manager", res.Content)
	assert.Equal(t, "gpt-4o-mini", res.Model)
}

func TestOpenAI_RateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := processor.NewOpenAI(config.OpenAIConfig{BaseURL: srv.URL}).Process(context.Background(), coverLetterJob())
	require.Error(t, err)
	assert.True(t, processor.Retryable(err))
}

func TestOpenAI_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := processor.NewOpenAI(config.OpenAIConfig{BaseURL: srv.URL}).Process(context.Background(), coverLetterJob())
	require.Error(t, err)
	assert.False(t, processor.Retryable(err))
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := processor.NewOpenAI(config.OpenAIConfig{BaseURL: srv.URL}).Process(context.Background(), coverLetterJob())
	require.ErrorIs(t, err, processor.ErrInvalidResponse)
}

func TestProcess_CancelledContextIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := processor.NewOllama(config.OllamaConfig{BaseURL: srv.URL}).Process(ctx, coverLetterJob())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, processor.Retryable(err))
}
