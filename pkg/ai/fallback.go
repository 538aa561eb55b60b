package ai

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"

	emaildomain "mailsync-backend/internal/email/domain"
)

// FallbackService tries the primary provider and moves to the secondary when the
// primary is unreachable or out of quota. Gemini goes first for quality; Ollama is
// the local fallback.
type FallbackService struct {
	primary       Generator
	primaryName   string
	secondary     Generator
	secondaryName string
}

func NewFallbackService(primaryName string, primary Generator, secondaryName string, secondary Generator) *FallbackService {
	return &FallbackService{
		primary:       primary,
		primaryName:   primaryName,
		secondary:     secondary,
		secondaryName: secondaryName,
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{"connection refused", "no such host", "network is unreachable", "connection reset", "dial tcp"} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	var pe *emaildomain.ProviderError
	if errors.As(err, &pe) && pe.Code == 429 {
		return true
	}
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "quota") || strings.Contains(errStr, "resource_exhausted")
}

func shouldFallBack(err error) bool {
	return emaildomain.IsTransient(err) || isConnectionError(err) || isQuotaError(err)
}

// Generate implements Generator
func (f *FallbackService) Generate(ctx context.Context, prompt string) (string, error) {
	if f.primary != nil {
		result, err := f.primary.Generate(ctx, prompt)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || f.secondary == nil || !shouldFallBack(err) {
			return "", err
		}
		log.Printf("[AI] %s unavailable: %v, falling back to %s", f.primaryName, err, f.secondaryName)
	}

	if f.secondary != nil {
		return f.secondary.Generate(ctx, prompt)
	}
	return "", errors.New("no AI provider available")
}
