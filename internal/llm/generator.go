package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("generator is not configured")
	ErrRateLimited   = errors.New("generator is rate limited")
	ErrEmptyResponse = errors.New("generator returned an empty response")
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Prompt is one single-turn generation request.
type Prompt struct {
	System          string
	User            string
	JSON            bool
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}

// Generator is a text generation capability. Implementations return
// ErrRateLimited when the provider refuses for quota reasons so callers can
// tell "busy" apart from other failures.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Model() string
}

type Config struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// New builds the configured generator, wrapped in a client-side rate limit
// when RequestsPerMinute is positive. A missing API key yields
// ErrNotConfigured.
func New(ctx context.Context, cfg Config) (Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}

	var (
		generator Generator
		err       error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		generator, err = NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
	case ProviderOpenAI:
		generator, err = NewOpenAI(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unsupported generator provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		generator = NewRateLimited(generator, cfg.RequestsPerMinute)
	}
	return generator, nil
}

// stripCodeFence removes a surrounding markdown fence, which models add even
// when asked not to.
func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && !strings.ContainsAny(trimmed[:newline], "{[") {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
