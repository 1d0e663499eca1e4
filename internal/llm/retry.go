package llm

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"insightminer/internal/logging"
	"insightminer/internal/types"
)

// RetryConfig tunes the retrying wrapper.
type RetryConfig struct {
	MaxRetries int           // additional attempts after the first (default 3)
	BaseDelay  time.Duration // backoff base (default 500ms)
	MaxDelay   time.Duration // backoff cap (default 30s)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// RetryingGenerator wraps another Generator with bounded exponential backoff
// on retryable failures. Non-retryable failures (auth, cancellation)
// propagate immediately. It implements types.Generator, so it can be
// injected anywhere the raw client would be.
type RetryingGenerator struct {
	inner types.Generator
	cfg   RetryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

var _ types.Generator = (*RetryingGenerator)(nil)

// NewRetryingGenerator wraps inner with the retry policy in cfg.
func NewRetryingGenerator(inner types.Generator, cfg RetryConfig) *RetryingGenerator {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &RetryingGenerator{
		inner: inner,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Complete calls the wrapped generator, retrying transient failures.
func (g *RetryingGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem calls the wrapped generator, retrying transient failures.
func (g *RetryingGenerator) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		var (
			result string
			err    error
		)
		if systemPrompt == "" {
			result, err = g.inner.Complete(ctx, userPrompt)
		} else {
			result, err = g.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		class := Classify(err)
		if !IsRetryable(class) {
			return "", err
		}
		if attempt == g.cfg.MaxRetries {
			break
		}

		delay := g.Backoff(attempt)
		logging.APIDebug("generator call failed (%s), retrying in %v (attempt %d/%d): %v",
			class, delay, attempt+1, g.cfg.MaxRetries, err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", fmt.Errorf("all %d attempts failed, last error: %w", g.cfg.MaxRetries+1, lastErr)
}

// Backoff returns the delay before retrying after the given zero-based
// attempt: 2^attempt * base plus up to one base of jitter, capped at MaxDelay.
func (g *RetryingGenerator) Backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	delay := time.Duration(1<<uint(attempt)) * g.cfg.BaseDelay

	g.mu.Lock()
	jitter := time.Duration(g.rng.Int63n(int64(g.cfg.BaseDelay) + 1))
	g.mu.Unlock()

	delay += jitter
	if delay > g.cfg.MaxDelay {
		delay = g.cfg.MaxDelay
	}
	return delay
}
