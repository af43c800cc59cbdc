package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/jobforge/internal/config"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const systemPrompt = "You are a career documents assistant. Answer with the finished document only."

// OpenAI generates job results through a chat completions endpoint. Any
// OpenAI-compatible server (vLLM, LiteLLM) works by changing BaseURL.
type OpenAI struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	return &OpenAI{cfg: cfg, client: &http.Client{}}
}

func (p *OpenAI) Name() string { return config.AIProviderOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAI) Process(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	header := http.Header{}
	if p.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	var out chatResponse
	err := postJSON(ctx, p.client, strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", header,
		chatRequest{
			Model: p.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: buildPrompt(job)},
			},
		}, &out)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("openai chat completion: %w: no choices", ErrInvalidResponse)
	}
	return encodeResult(job, p.Name(), p.cfg.Model, out.Choices[0].Message.Content)
}

var _ models.Processor = (*OpenAI)(nil)
