// Package batch runs large item sets against the external generator in
// fixed-size slices. Per-item calls are too slow and over-large payloads get
// truncated, so each batch's completion rate is gated: full completion is
// accepted, near-complete batches (>= the acceptance threshold) are accepted
// with a recorded warning, and anything below the threshold is retried with
// exponential backoff before the whole run aborts.
package batch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"insightminer/internal/llm"
	"insightminer/internal/logging"
)

// Config tunes batching and retry policy. These are policy knobs, not
// correctness constants; Default reflects the standard trade-off.
type Config struct {
	BatchSize       int           `yaml:"batch_size"`       // items per generator call (default 25)
	AcceptThreshold float64       `yaml:"accept_threshold"` // completion rate accepted without retry (default 0.9)
	MaxRetries      int           `yaml:"max_retries"`      // additional attempts per batch (default 3)
	BaseDelay       time.Duration `yaml:"base_delay"`       // backoff base (default 1s)
	MaxDelay        time.Duration `yaml:"max_delay"`        // backoff cap (default 30s)

	// Sleep overrides the backoff wait; tests inject a no-op. Nil means a
	// context-aware time.After wait.
	Sleep func(ctx context.Context, d time.Duration) error `yaml:"-"`
}

// DefaultConfig returns the standard batching policy.
func DefaultConfig() Config {
	return Config{
		BatchSize:       25,
		AcceptThreshold: 0.9,
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.AcceptThreshold <= 0 || c.AcceptThreshold > 1 {
		c.AcceptThreshold = def.AcceptThreshold
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	return c
}

// CallFunc invokes the external generator for one batch of items and returns
// the usable units it produced. Returning fewer units than items is a low
// completion rate, not an error.
type CallFunc[I, U any] func(ctx context.Context, items []I) ([]U, error)

// Result aggregates accepted units across batches, in batch order, plus
// run-level quality metrics.
type Result[U any] struct {
	Units          []U
	ExpectedUnits  int
	ActualUnits    int
	SuccessRate    float64
	TotalBatches   int
	RetriedBatches int
	PartialBatches int
	Warnings       []string
}

// Error is the batch-level failure that aborts a run: a batch stayed below
// the acceptance threshold after all retries.
type Error struct {
	BatchIndex int
	Rate       float64
	Attempts   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("batch %d stuck at %.1f%% completion after %d attempts",
		e.BatchIndex, e.Rate*100, e.Attempts)
}

var (
	jitterMu  sync.Mutex
	jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Run partitions items into contiguous batches and feeds each one to call,
// applying the completion-rate gate and retry policy from cfg.
func Run[I, U any](ctx context.Context, items []I, call CallFunc[I, U], cfg Config) (*Result[U], error) {
	cfg = cfg.withDefaults()

	result := &Result[U]{ExpectedUnits: len(items)}
	if len(items) == 0 {
		result.SuccessRate = 1.0
		return result, nil
	}

	batches := partition(items, cfg.BatchSize)
	result.TotalBatches = len(batches)
	logging.Batch("running %d items in %d batches of up to %d", len(items), len(batches), cfg.BatchSize)

	for idx, b := range batches {
		units, retried, partial, err := runBatch(ctx, idx, b, call, cfg, result)
		if err != nil {
			return nil, err
		}
		if retried {
			result.RetriedBatches++
		}
		if partial {
			result.PartialBatches++
		}
		result.Units = append(result.Units, units...)
	}

	result.ActualUnits = len(result.Units)
	result.SuccessRate = float64(result.ActualUnits) / float64(result.ExpectedUnits)
	logging.Batch("batch run complete: %d/%d units (%.1f%%), %d retried, %d partial",
		result.ActualUnits, result.ExpectedUnits, result.SuccessRate*100,
		result.RetriedBatches, result.PartialBatches)
	return result, nil
}

// runBatch executes one batch with the retry/acceptance policy. Returns the
// accepted units, whether any retry happened, and whether acceptance was
// partial.
func runBatch[I, U any](
	ctx context.Context,
	idx int,
	items []I,
	call CallFunc[I, U],
	cfg Config,
	result *Result[U],
) (units []U, retried, partial bool, err error) {
	attempts := cfg.MaxRetries + 1
	lastRate := 0.0

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			retried = true
			delay := backoff(attempt, cfg)
			logging.BatchDebug("batch %d attempt %d/%d after %v backoff (last rate %.1f%%)",
				idx, attempt+1, attempts, delay, lastRate*100)
			if sleepErr := cfg.Sleep(ctx, delay); sleepErr != nil {
				return nil, retried, false, sleepErr
			}
		}

		got, callErr := call(ctx, items)
		if callErr != nil {
			if !llm.Retryable(callErr) {
				return nil, retried, false, fmt.Errorf("batch %d failed: %w", idx, callErr)
			}
			logging.Get(logging.CategoryBatch).Warn("batch %d transient failure (%s): %v",
				idx, llm.Classify(callErr), callErr)
			lastRate = 0
			continue
		}

		rate := float64(len(got)) / float64(len(items))
		lastRate = rate

		switch {
		case rate >= 1.0:
			return got, retried, false, nil
		case rate >= cfg.AcceptThreshold:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("batch %d accepted at %.1f%% completion (%d/%d items)",
					idx, rate*100, len(got), len(items)))
			return got, retried, true, nil
		default:
			logging.Get(logging.CategoryBatch).Warn("batch %d completion %.1f%% below threshold %.1f%%",
				idx, rate*100, cfg.AcceptThreshold*100)
		}
	}

	return nil, retried, false, &Error{BatchIndex: idx, Rate: lastRate, Attempts: attempts}
}

// partition slices items into contiguous batches; the last may be smaller.
func partition[I any](items []I, size int) [][]I {
	var out [][]I
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// backoff computes 2^attempt * base plus random jitter, capped at MaxDelay.
func backoff(attempt int, cfg Config) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	delay := time.Duration(1<<uint(attempt)) * cfg.BaseDelay

	jitterMu.Lock()
	delay += time.Duration(jitterRNG.Int63n(int64(cfg.BaseDelay) + 1))
	jitterMu.Unlock()

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
