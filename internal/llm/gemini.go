package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"insightminer/internal/logging"
	"insightminer/internal/types"
)

// GeminiConfig holds configuration for the Gemini generator.
type GeminiConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
	Temperature     float64
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-2.5-flash",
		MaxOutputTokens: 16384,
		Temperature:     0.2,
	}
}

// GeminiGenerator implements types.Generator on the Google GenAI SDK.
// The SDK client is safe for concurrent use, so one generator serves every
// pipeline in a run.
type GeminiGenerator struct {
	client *genai.Client
	cfg    GeminiConfig
}

var _ types.Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiConfig("").Model
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultGeminiConfig("").MaxOutputTokens
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiGenerator{client: client, cfg: cfg}, nil
}

// Complete sends a prompt and returns the completion text.
func (g *GeminiGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (g *GeminiGenerator) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.cfg.MaxOutputTokens),
		Temperature:     genai.Ptr(float32(g.cfg.Temperature)),
	}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(userPrompt), config)
	if err != nil {
		return "", g.wrapError(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned empty response for model %s", g.cfg.Model)
	}

	logging.APIDebug("gemini call completed (model=%s, prompt_chars=%d, response_chars=%d, took=%v)",
		g.cfg.Model, len(userPrompt), len(text), time.Since(start))
	return text, nil
}

// wrapError converts SDK rate-limit responses into the typed error the
// retry layer keys on; everything else is wrapped as-is for Classify.
func (g *GeminiGenerator) wrapError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "resource exhausted") {
		return &RateLimitError{Provider: "gemini"}
	}
	return fmt.Errorf("gemini generate failed: %w", err)
}
