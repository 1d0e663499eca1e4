package report

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightminer/internal/logging"
	"insightminer/internal/orchestrator"
	"insightminer/internal/pipeline"
	"insightminer/internal/types"
	"insightminer/internal/validate"
)

func TestMain(m *testing.M) {
	logging.InitializeNop()
	os.Exit(m.Run())
}

func sampleReport() *orchestrator.RunReport {
	state := &pipeline.State{
		Task: types.Task{TaskID: "q1", Question: "Why did you choose your VPN provider?"},
		Categories: []types.Category{
			{CategoryID: "privacy", Title: "Privacy", Description: "No-logs policies"},
		},
		Assignments: []types.Assignment{
			{SourceID: "r1", CategoryID: "privacy", Confidence: 0.9},
		},
		Excerpts: map[string][]types.Excerpt{
			"privacy": {{Text: "I like no logs and fast servers.", SourceID: "r1"}},
		},
		Validation: &validate.Report{Passed: true},
		Summary: &types.Summary{
			Headline: "Privacy first",
			Text:     "Respondents prioritize privacy.",
			Insights: []string{"No-logs policies dominate"},
		},
	}

	return &orchestrator.RunReport{
		Results: []orchestrator.TaskResult{
			{
				TaskID: "q1", Outcome: orchestrator.OutcomeFullSuccess,
				State: state, QualityScore: 100, QualityLabel: "good",
			},
			{
				TaskID: "q2", Outcome: orchestrator.OutcomeFailure,
				Err: "stage classify failed (fatal): 401 unauthorized",
				Failures: []orchestrator.ComponentFailure{{
					Component: "classify", Severity: orchestrator.SeverityCritical,
					Description: "401 unauthorized",
				}},
			},
		},
		Total: 2, FullSuccesses: 1, Failures: 1,
		WeightedCompletionRate: 0.5,
		Recommendations: []orchestrator.Recommendation{{
			Strategy: orchestrator.StrategyRetryExternally,
			Reason:   "1 tasks failed outright and may succeed on a fresh run",
			TaskIDs:  []string{"q2"},
		}},
		Elapsed: 3 * time.Second,
	}
}

func TestMarkdownContent(t *testing.T) {
	md := Markdown(sampleReport())

	assert.Contains(t, md, "# Survey Analysis Run")
	assert.Contains(t, md, "Weighted completion rate: 50.0%")
	assert.Contains(t, md, "## Why did you choose your VPN provider?")
	assert.Contains(t, md, "score 100, good")
	assert.Contains(t, md, "**Privacy** (1 respondents)")
	assert.Contains(t, md, `"I like no logs and fast servers." (r1)`)
	assert.Contains(t, md, "**Privacy first**")
	assert.Contains(t, md, "## q2")
	assert.Contains(t, md, "401 unauthorized")
	assert.Contains(t, md, "## Recovery Recommendations")
	assert.Contains(t, md, "retry_externally")
}

func TestMarkdownUnverifiedEvidence(t *testing.T) {
	rep := sampleReport()
	rep.Results[0].State.Validation = &validate.Report{
		Passed: false,
		Errors: []string{`excerpt "fabricated quote" not found in r1`},
	}

	md := Markdown(rep)
	assert.Contains(t, md, "### Unverified Evidence")
	assert.Contains(t, md, "fabricated quote")
}

func TestWriteProducesBothFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	jsonPath, mdPath, err := w.Write("0b5fa1f2-aaaa-bbbb-cccc-000000000000", sampleReport())
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(jsonPath, ".json"))
	assert.True(t, strings.HasSuffix(mdPath, ".md"))
	assert.Contains(t, jsonPath, "0b5fa1f2")

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded orchestrator.RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Total)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Survey Analysis Run")
}

func TestNewWriterCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/out"
	_, err := NewWriter(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
