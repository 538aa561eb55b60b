package api

import (
	"net/http"

	"mailsync-backend/pkg/ai"

	"github.com/gin-gonic/gin"
)

// UpdateOllamaSettingsRequest represents the request body for updating Ollama settings
type UpdateOllamaSettingsRequest struct {
	OllamaBaseURL string `json:"ollama_base_url" binding:"required,url"`
	OllamaModel   string `json:"ollama_model,omitempty"`
}

// SettingsHandler exposes the classifier's runtime-configurable Ollama endpoint.
type SettingsHandler struct {
	settings *ai.RuntimeSettings
	ollama   *ai.OllamaService
}

func NewSettingsHandler(settings *ai.RuntimeSettings) *SettingsHandler {
	return &SettingsHandler{settings: settings, ollama: ai.NewOllamaService(settings)}
}

// GetOllamaSettings returns current Ollama configuration
// GET /api/settings/ollama
func (h *SettingsHandler) GetOllamaSettings(c *gin.Context) {
	baseURL, model := h.settings.Get()
	c.JSON(http.StatusOK, gin.H{
		"ollama_base_url": baseURL,
		"ollama_model":    model,
	})
}

// UpdateOllamaSettings updates Ollama configuration at runtime
// PUT /api/settings/ollama
func (h *SettingsHandler) UpdateOllamaSettings(c *gin.Context) {
	var req UpdateOllamaSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.settings.Update(req.OllamaBaseURL, req.OllamaModel)
	baseURL, model := h.settings.Get()

	c.JSON(http.StatusOK, gin.H{
		"message":         "Ollama settings updated successfully",
		"ollama_base_url": baseURL,
		"ollama_model":    model,
	})
}

// TestOllamaConnection tests if the Ollama server is reachable
// POST /api/settings/ollama/test
func (h *SettingsHandler) TestOllamaConnection(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
	}
	// An empty body tests the current endpoint
	_ = c.ShouldBindJSON(&req)
	if req.OllamaBaseURL == "" {
		req.OllamaBaseURL, _ = h.settings.Get()
	}

	if err := h.ollama.Ping(c.Request.Context(), req.OllamaBaseURL); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":       true,
		"ollama_base_url": req.OllamaBaseURL,
	})
}
