package processor

import (
	"fmt"

	"github.com/kiranshivaraju/jobforge/internal/config"
	"github.com/kiranshivaraju/jobforge/pkg/models"
)

// NewProcessor constructs the generator named by cfg.Provider.
// Called once at server startup.
func NewProcessor(cfg config.AIConfig) (models.Processor, error) {
	switch cfg.Provider {
	case config.AIProviderEcho, "":
		return Echo{}, nil
	case config.AIProviderOllama:
		return NewOllama(cfg.Ollama), nil
	case config.AIProviderOpenAI:
		return NewOpenAI(cfg.OpenAI), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of echo, ollama, openai", cfg.Provider)
	}
}
