package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightminer/internal/logging"
	"insightminer/internal/orchestrator"
	"insightminer/internal/pipeline"
	"insightminer/internal/types"
)

func TestMain(m *testing.M) {
	logging.InitializeNop()
	os.Exit(m.Run())
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport() *orchestrator.RunReport {
	return &orchestrator.RunReport{
		Results: []orchestrator.TaskResult{
			{
				TaskID:       "q1",
				Outcome:      orchestrator.OutcomeFullSuccess,
				QualityScore: 100,
				QualityLabel: "good",
				Duration:     1200 * time.Millisecond,
				State:        &pipeline.State{Task: types.Task{TaskID: "q1", Question: "Why?"}},
			},
			{
				TaskID:       "q2",
				Outcome:      orchestrator.OutcomeFailure,
				Err:          "stage classify failed (fatal): 401 unauthorized",
				QualityLabel: "poor",
				Duration:     300 * time.Millisecond,
			},
		},
		Total:                  2,
		FullSuccesses:          1,
		Failures:               1,
		WeightedCompletionRate: 0.5,
		Elapsed:                2 * time.Second,
	}
}

func TestRecordAndListRuns(t *testing.T) {
	s := openTestStore(t)
	started := time.Now().Add(-2 * time.Second)

	runID, err := s.RecordRun("survey.csv", started, sampleReport())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, "survey.csv", run.Input)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 1, run.FullSuccesses)
	assert.Equal(t, 1, run.Failures)
	assert.InDelta(t, 0.5, run.WeightedCompletionRate, 1e-9)
	assert.True(t, run.FinishedAt.After(run.StartedAt))
}

func TestGetRunTasks(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.RecordRun("survey.csv", time.Now(), sampleReport())
	require.NoError(t, err)

	tasks, err := s.GetRunTasks(runID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "q1", tasks[0].TaskID)
	assert.Equal(t, "Why?", tasks[0].Question)
	assert.Equal(t, "full_success", tasks[0].Outcome)
	assert.Equal(t, 100, tasks[0].QualityScore)
	assert.EqualValues(t, 1200, tasks[0].DurationMS)

	assert.Equal(t, "q2", tasks[1].TaskID)
	assert.Equal(t, "failure", tasks[1].Outcome)
	assert.Contains(t, tasks[1].Error, "unauthorized")
}

func TestListRunsOrdering(t *testing.T) {
	s := openTestStore(t)

	_, err := s.RecordRun("first.csv", time.Now().Add(-time.Hour), sampleReport())
	require.NoError(t, err)
	_, err = s.RecordRun("second.csv", time.Now(), sampleReport())
	require.NoError(t, err)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "second.csv", runs[0].Input)
	assert.Equal(t, "first.csv", runs[1].Input)
}

func TestListRunsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.RecordRun("survey.csv", time.Now().Add(time.Duration(i)*time.Minute), sampleReport())
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestReopenExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")

	s, err := New(path)
	require.NoError(t, err)
	_, err = s.RecordRun("survey.csv", time.Now(), sampleReport())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.ListRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
