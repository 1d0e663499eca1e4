package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightminer/internal/batch"
	"insightminer/internal/llm"
	"insightminer/internal/logging"
	"insightminer/internal/types"
)

func TestMain(m *testing.M) {
	logging.InitializeNop()
	os.Exit(m.Run())
}

func testConfig() Config {
	return Config{
		MinCategories: 2,
		MaxCategories: 4,
		Batch: batch.Config{
			Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		},
	}
}

func testTask() types.Task {
	items := []types.SourceRecord{
		{SourceID: "r1", RawText: "prompt: Why did you choose it? answer: I like no logs and fast servers."},
		{SourceID: "r2", RawText: "prompt: Why did you choose it? answer: Price matters most to me."},
		{SourceID: "r3", RawText: "prompt: Why did you choose it? answer: A friend recommended it."},
	}
	return types.Task{
		TaskID:   "t1",
		Question: "Why did you choose your VPN provider?",
		Items:    items,
		Stats:    types.TaskStats{Respondents: 3, NonEmpty: 3},
	}
}

const goodCategories = `[
  {"category_id": "privacy", "title": "Privacy", "description": "No-logs policies and security"},
  {"category_id": "price", "title": "Price", "description": "Cost and value"},
  {"category_id": "wordofmouth", "title": "Recommendations", "description": "Friends and reviews"}
]`

const goodAssignments = `[
  {"source_id": "r1", "category_id": "privacy", "confidence": 0.9, "reasoning": "mentions no logs"},
  {"source_id": "r2", "category_id": "price", "confidence": 0.85, "reasoning": "mentions price"},
  {"source_id": "r3", "category_id": "wordofmouth", "confidence": 0.8, "reasoning": "mentions a friend"}
]`

const goodExcerpts = `{
  "privacy": [{"text": "I like no logs and fast servers.", "source_id": "r1"}],
  "price": [{"text": "Price matters most to me.", "source_id": "r2"}],
  "wordofmouth": [{"text": "A friend recommended it.", "source_id": "r3"}]
}`

const fabricatedExcerpts = `{
  "privacy": [{"text": "Privacy is my number one concern always.", "source_id": "r1"}],
  "price": [{"text": "Price matters most to me.", "source_id": "r2"}],
  "wordofmouth": [{"text": "A friend recommended it.", "source_id": "r3"}]
}`

const goodSummary = `{
  "headline": "Privacy drives VPN choice",
  "summary": "Respondents weigh privacy guarantees first, then price and recommendations.",
  "insights": ["No-logs policies are the leading motivator", "Price is decisive for a sizeable minority"]
}`

func TestRunHappyPath(t *testing.T) {
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, goodAssignments, goodExcerpts, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Len(t, state.Categories, 3)
	assert.Len(t, state.Assignments, 3)
	assert.Equal(t, 0, state.ClassifyShortfall)

	require.NotNil(t, state.Validation)
	assert.True(t, state.Validation.Passed)
	assert.Equal(t, 1, state.EvidenceAttempts)
	assert.Len(t, state.Excerpts["privacy"], 1)

	require.NotNil(t, state.Summary)
	assert.Equal(t, "Privacy drives VPN choice", state.Summary.Headline)
	assert.False(t, state.SummaryFallback)
	assert.Equal(t, 4, mock.CallCount())
	assert.Empty(t, state.FailedStage)
}

func TestRunCategoriesBelowMinimum(t *testing.T) {
	mock := llm.NewMockGenerator().
		Enqueue(`[{"category_id": "only", "title": "Only", "description": "single theme"}]`)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.Error(t, err)

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, StageCategories, se.Stage)
	assert.Equal(t, KindValidation, se.Kind)
	assert.Equal(t, StageCategories, state.FailedStage)
	assert.Empty(t, state.Categories)
}

func TestRunTruncatesExcessCategories(t *testing.T) {
	five := `[
	  {"category_id": "privacy", "title": "Privacy", "description": "d"},
	  {"category_id": "price", "title": "Price", "description": "d"},
	  {"category_id": "wordofmouth", "title": "Recommendations", "description": "d"},
	  {"category_id": "speed", "title": "Speed", "description": "d"},
	  {"category_id": "extra", "title": "Extra", "description": "d"}
	]`
	mock := llm.NewMockGenerator().
		Enqueue(five, goodAssignments, goodExcerpts, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)

	assert.Len(t, state.Categories, 4)
	assert.True(t, hasWarningContaining(state, "truncated"), "warnings: %v", state.Warnings)
}

func TestRunAssignsMissingCategoryIDs(t *testing.T) {
	// One id absent, one duplicated; both must come out unique and non-empty.
	cats := `[
	  {"title": "Privacy", "description": "d"},
	  {"category_id": "dup", "title": "Price", "description": "d"},
	  {"category_id": "dup", "title": "Recommendations", "description": "d"}
	]`
	mock := llm.NewMockGenerator().
		Enqueue(cats).
		EnqueueError(errors.New("401 unauthorized"))
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.Error(t, err)

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, StageClassify, se.Stage)
	assert.Equal(t, KindFatal, se.Kind)

	require.Len(t, state.Categories, 3)
	seen := make(map[string]bool)
	for _, c := range state.Categories {
		assert.NotEmpty(t, c.CategoryID)
		assert.False(t, seen[c.CategoryID], "duplicate id %s", c.CategoryID)
		seen[c.CategoryID] = true
	}
}

func TestEvidenceRetryFeedsPriorErrors(t *testing.T) {
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, goodAssignments, fabricatedExcerpts, goodExcerpts, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, 2, state.EvidenceAttempts)
	require.NotNil(t, state.Validation)
	assert.True(t, state.Validation.Passed)

	require.Len(t, mock.Calls, 5)
	secondEvidencePrompt := mock.Calls[3]
	assert.Contains(t, secondEvidencePrompt, "Attempt 2")
	assert.Contains(t, secondEvidencePrompt, "failed verbatim validation")
}

func TestEvidenceExhaustionStillCompletes(t *testing.T) {
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, goodAssignments,
			fabricatedExcerpts, fabricatedExcerpts, fabricatedExcerpts,
			goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, 3, state.EvidenceAttempts)
	require.NotNil(t, state.Validation)
	assert.False(t, state.Validation.Passed)
	assert.NotEmpty(t, state.Validation.Errors)
	assert.True(t, hasWarningContaining(state, "still failing after 3 attempts"), "warnings: %v", state.Warnings)

	// Summarize still ran.
	require.NotNil(t, state.Summary)
	assert.Empty(t, state.FailedStage)
}

func TestSummarizeFallsBackToPlaceholder(t *testing.T) {
	task := testTask()
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, goodAssignments, goodExcerpts).
		EnqueueError(errors.New("503 service unavailable"))
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), task)
	require.NoError(t, err)

	require.NotNil(t, state.Summary)
	assert.True(t, state.SummaryFallback)
	assert.Equal(t, task.Question, state.Summary.Headline)
	assert.NotEmpty(t, state.Summary.Insights)
	assert.True(t, hasWarningContaining(state, "placeholder"), "warnings: %v", state.Warnings)
}

func TestClassifyFallsBackToBatchesOnMalformedOutput(t *testing.T) {
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, "the model refused to emit json",
			goodAssignments, goodExcerpts, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)

	assert.Len(t, state.Assignments, 3)
	assert.True(t, hasWarningContaining(state, "falling back"), "warnings: %v", state.Warnings)
	assert.Equal(t, 5, mock.CallCount())
}

func TestClassifyFallsBackOnLowCompletion(t *testing.T) {
	oneOfThree := `[{"source_id": "r1", "category_id": "privacy", "confidence": 0.9, "reasoning": "x"}]`
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, oneOfThree, goodAssignments, goodExcerpts, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)

	assert.Len(t, state.Assignments, 3)
	assert.Equal(t, 0, state.ClassifyShortfall)
	assert.True(t, hasWarningContaining(state, "covered 1/3"), "warnings: %v", state.Warnings)
}

func TestClassifyPartialAcceptanceShortfall(t *testing.T) {
	task := tenItemTask()

	var assigns []string
	for i := 1; i <= 9; i++ { // r10 left out: 9/10 completion is exactly acceptable
		cat := "privacy"
		if i%2 == 0 {
			cat = "price"
		}
		assigns = append(assigns,
			fmt.Sprintf(`{"source_id": "r%d", "category_id": "%s", "confidence": 0.9, "reasoning": "x"}`, i, cat))
	}
	assignments := "[" + strings.Join(assigns, ",") + "]"

	excerpts := `{
	  "privacy": [{"text": "I like no logs.", "source_id": "r1"}],
	  "price": [{"text": "Price matters most.", "source_id": "r2"}]
	}`
	cats := `[
	  {"category_id": "privacy", "title": "Privacy", "description": "d"},
	  {"category_id": "price", "title": "Price", "description": "d"}
	]`

	mock := llm.NewMockGenerator().
		Enqueue(cats, assignments, excerpts, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), task)
	require.NoError(t, err)

	assert.Len(t, state.Assignments, 9)
	assert.Equal(t, 1, state.ClassifyShortfall)
	assert.True(t, hasWarningContaining(state, "left unclassified"), "warnings: %v", state.Warnings)
}

func TestBackfillEmptyCategory(t *testing.T) {
	missingOne := `{
	  "privacy": [{"text": "I like no logs and fast servers.", "source_id": "r1"}],
	  "price": [{"text": "Price matters most to me.", "source_id": "r2"}]
	}`
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, goodAssignments, missingOne, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)

	require.NotNil(t, state.Validation)
	assert.True(t, state.Validation.Passed)

	require.Len(t, state.Excerpts["wordofmouth"], 1)
	assert.Equal(t, "A friend recommended it.", state.Excerpts["wordofmouth"][0].Text)
	assert.Equal(t, "r3", state.Excerpts["wordofmouth"][0].SourceID)
	assert.True(t, hasWarningContaining(state, "substituted a literal quote"), "warnings: %v", state.Warnings)
}

func TestBackfillWarnsOncePerKeptAttempt(t *testing.T) {
	// Both attempts miss wordofmouth; the first also fabricates the privacy
	// excerpt so validation retries. Only the accepted attempt's backfill
	// may warn.
	fabricatedMissingOne := `{
	  "privacy": [{"text": "Privacy is my number one concern always.", "source_id": "r1"}],
	  "price": [{"text": "Price matters most to me.", "source_id": "r2"}]
	}`
	goodMissingOne := `{
	  "privacy": [{"text": "I like no logs and fast servers.", "source_id": "r1"}],
	  "price": [{"text": "Price matters most to me.", "source_id": "r2"}]
	}`
	mock := llm.NewMockGenerator().
		Enqueue(goodCategories, goodAssignments, fabricatedMissingOne, goodMissingOne, goodSummary)
	p := New(mock, testConfig())

	state, err := p.Run(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, 2, state.EvidenceAttempts)
	require.NotNil(t, state.Validation)
	assert.True(t, state.Validation.Passed)
	require.Len(t, state.Excerpts["wordofmouth"], 1)

	substituted := 0
	for _, w := range state.Warnings {
		if strings.Contains(w, "substituted a literal quote") {
			substituted++
		}
	}
	assert.Equal(t, 1, substituted, "warnings: %v", state.Warnings)
}

func TestRunEmptyTask(t *testing.T) {
	task := types.Task{TaskID: "empty", Question: "q"}
	p := New(llm.NewMockGenerator(), testConfig())

	state, err := p.Run(context.Background(), task)
	require.Error(t, err)

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, StageCategories, se.Stage)
	assert.Equal(t, KindValidation, se.Kind)
	assert.Equal(t, StageCategories, state.FailedStage)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(llm.NewMockGenerator().Enqueue(goodCategories), testConfig())

	state, err := p.Run(ctx, testTask())
	require.Error(t, err)

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, se.Kind)
	assert.Equal(t, StageCategories, state.FailedStage)
}

func TestToStageError(t *testing.T) {
	wrapped := &StageError{Stage: StageEvidence, Kind: KindHallucination, Err: errors.New("x")}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"batch exhaustion", &batch.Error{BatchIndex: 1, Rate: 0.6, Attempts: 4}, KindRetryExhausted},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"rate limit", &llm.RateLimitError{Provider: "gemini"}, KindTransient},
		{"auth", errors.New("401 unauthorized"), KindFatal},
		{"malformed json", errors.New("failed to unmarshal response"), KindValidation},
		{"unknown", errors.New("something odd"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toStageError(StageClassify, tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, StageClassify, got.Stage)
		})
	}

	// An existing StageError passes through unchanged.
	got := toStageError(StageClassify, fmt.Errorf("wrapped: %w", wrapped))
	assert.Equal(t, StageEvidence, got.Stage)
	assert.Equal(t, KindHallucination, got.Kind)
}

func tenItemTask() types.Task {
	items := make([]types.SourceRecord, 0, 10)
	for i := 1; i <= 10; i++ {
		answer := "I like no logs."
		if i%2 == 0 {
			answer = "Price matters most."
		}
		items = append(items, types.SourceRecord{
			SourceID: fmt.Sprintf("r%d", i),
			RawText:  "prompt: Why? answer: " + answer,
		})
	}
	return types.Task{
		TaskID:   "t10",
		Question: "Why did you choose your VPN provider?",
		Items:    items,
		Stats:    types.TaskStats{Respondents: 10, NonEmpty: 10},
	}
}

func hasWarningContaining(state *State, substr string) bool {
	for _, w := range state.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
