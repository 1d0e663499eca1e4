package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 25, cfg.Batch.BatchSize)
	assert.Equal(t, 0.9, cfg.Batch.AcceptThreshold)
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
	assert.Equal(t, 6, cfg.Orchestrator.Concurrency)
	assert.Equal(t, "5m", cfg.Orchestrator.TaskTimeout)
	assert.Equal(t, 40, cfg.Orchestrator.CategoriesPenalty)
	assert.Equal(t, 30, cfg.Orchestrator.AssignmentsPenalty)
	assert.Equal(t, 15, cfg.Orchestrator.ExcerptsPenalty)
	assert.Equal(t, 15, cfg.Orchestrator.SummaryPenalty)
	assert.Equal(t, 10, cfg.Orchestrator.ValidationPenalty)
	assert.Equal(t, 0.7, cfg.Orchestrator.PartialWeight)
	assert.Equal(t, 3, cfg.Pipeline.EvidenceMaxRetries)
	assert.Equal(t, 5, cfg.Pipeline.ErrorFeedbackLimit)
	assert.Equal(t, 25, cfg.Pipeline.BatchThreshold)
	assert.Equal(t, "...", cfg.Validator.MultiPartSeparator)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insightminer.yaml")
	body := `
llm:
  provider: mock
batch:
  batch_size: 10
orchestrator:
  concurrency: 2
  task_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.Batch.BatchSize)
	assert.Equal(t, 2, cfg.Orchestrator.Concurrency)
	assert.Equal(t, "90s", cfg.Orchestrator.TaskTimeout)
	// Untouched values keep defaults.
	assert.Equal(t, 0.9, cfg.Batch.AcceptThreshold)
	assert.Equal(t, 3, cfg.Pipeline.MinCategories)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INSIGHTMINER_API_KEY", "env-key")
	t.Setenv("INSIGHTMINER_MODEL", "env-model")
	t.Setenv("INSIGHTMINER_CONCURRENCY", "12")
	t.Setenv("INSIGHTMINER_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, 12, cfg.Orchestrator.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestGeminiKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("INSIGHTMINER_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"threshold above one", "batch:\n  accept_threshold: 1.5\n"},
		{"zero concurrency", "orchestrator:\n  concurrency: 0\n"},
		{"min above max categories", "pipeline:\n  min_categories: 9\n  max_categories: 4\n"},
		{"bad duration", "orchestrator:\n  task_timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDurationHelper(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Duration("", 5*time.Minute))
	assert.Equal(t, 90*time.Second, Duration("90s", 5*time.Minute))
	assert.Equal(t, 5*time.Minute, Duration("garbage", 5*time.Minute))
	assert.Equal(t, 5*time.Minute, Duration("-1s", 5*time.Minute))
}
