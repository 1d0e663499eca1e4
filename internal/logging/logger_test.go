package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBeforeInitializeIsNoop(t *testing.T) {
	mu.Lock()
	initialized = false
	loggers = make(map[Category]*Logger)
	mu.Unlock()

	l := Get(CategoryPipeline)
	require.NotNil(t, l)
	assert.False(t, l.enabled)

	// Must not panic without a backend.
	l.Info("pipeline %s started", "q1")
	l.Error("boom: %v", "err")
}

func TestGetReturnsSameLoggerPerCategory(t *testing.T) {
	InitializeNop()

	a := Get(CategoryBatch)
	b := Get(CategoryBatch)
	assert.Same(t, a, b)

	c := Get(CategoryAPI)
	assert.NotSame(t, a, c)
}

func TestCategoryDisabling(t *testing.T) {
	err := Initialize(Config{
		Level:      "debug",
		Categories: map[string]bool{"batch": false},
	})
	require.NoError(t, err)

	assert.False(t, Get(CategoryBatch).enabled)
	assert.True(t, Get(CategoryPipeline).enabled)

	// Disabled loggers must still be safe to call.
	Batch("should be dropped: %d", 42)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"debug", false},
		{"INFO", false},
		{"warn", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := parseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "level %q", tt.in)
		} else {
			assert.NoError(t, err, "level %q", tt.in)
		}
	}
}
