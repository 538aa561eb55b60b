package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	emaildomain "mailsync-backend/internal/email/domain"

	"github.com/goccy/go-json"
)

// RuntimeSettings holds the Ollama endpoint, which operators may change without a restart.
type RuntimeSettings struct {
	mu      sync.RWMutex
	baseURL string
	model   string
}

func NewRuntimeSettings(baseURL, model string) *RuntimeSettings {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &RuntimeSettings{baseURL: strings.TrimRight(baseURL, "/"), model: model}
}

func (s *RuntimeSettings) Get() (baseURL, model string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL, s.model
}

// Update replaces the base URL and, when non-empty, the model.
func (s *RuntimeSettings) Update(baseURL, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimRight(baseURL, "/")
	if model != "" {
		s.model = model
	}
}

// OllamaService implements Generator using an Ollama server
type OllamaService struct {
	settings   *RuntimeSettings
	httpClient *http.Client
}

func NewOllamaService(settings *RuntimeSettings) *OllamaService {
	return &OllamaService{settings: settings, httpClient: &http.Client{}}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Generate implements Generator. Responses are constrained to JSON.
func (o *OllamaService) Generate(ctx context.Context, prompt string) (string, error) {
	baseURL, model := o.settings.Get()

	body, err := json.Marshal(ollamaRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
		Options: map[string]any{
			"temperature": 0.2,
			"num_predict": 600,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", emaildomain.NewTransientError("ollama_generate", 0, fmt.Errorf("ollama request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 {
			return "", emaildomain.NewTransientError("ollama_generate", resp.StatusCode, apiErr)
		}
		return "", emaildomain.NewPermanentError("ollama_generate", resp.StatusCode, apiErr)
	}

	var result struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Response, nil
}

// Ping checks that baseURL answers the model list endpoint.
func (o *OllamaService) Ping(ctx context.Context, baseURL string) error {
	if baseURL == "" {
		baseURL, _ = o.settings.Get()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
