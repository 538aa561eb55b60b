package ai

import (
	"fmt"

	"mailsync-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"

	GeminiAPIKey string

	// Ollama endpoint; may be changed at runtime
	Ollama *RuntimeSettings
}

// NewGenerator creates a Generator based on the config.
// Auto uses Gemini with Ollama as fallback when a Gemini key is set, otherwise Ollama alone.
func NewGenerator(cfg Config) (Generator, error) {
	if cfg.Ollama == nil {
		cfg.Ollama = NewRuntimeSettings("", "")
	}

	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return gemini.NewGeminiService(cfg.GeminiAPIKey), nil

	case ProviderOllama:
		return NewOllamaService(cfg.Ollama), nil

	case ProviderAuto, "":
		if cfg.GeminiAPIKey != "" {
			return NewFallbackService("gemini", gemini.NewGeminiService(cfg.GeminiAPIKey), "ollama", NewOllamaService(cfg.Ollama)), nil
		}
		return NewOllamaService(cfg.Ollama), nil

	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
