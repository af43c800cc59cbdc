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

// Ollama generates job results with a local Ollama server.
type Ollama struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewOllama(cfg config.OllamaConfig) *Ollama {
	return &Ollama{cfg: cfg, client: &http.Client{}}
}

func (p *Ollama) Name() string { return config.AIProviderOllama }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *Ollama) Process(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var out ollamaResponse
	err := postJSON(ctx, p.client, strings.TrimRight(p.cfg.BaseURL, "/")+"/api/generate", nil,
		ollamaRequest{Model: p.cfg.Model, Prompt: buildPrompt(job)}, &out)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, fmt.Errorf("ollama generate: %w: empty response", ErrInvalidResponse)
	}
	return encodeResult(job, p.Name(), p.cfg.Model, out.Response)
}

var _ models.Processor = (*Ollama)(nil)
