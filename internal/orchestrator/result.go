package orchestrator

import (
	"fmt"
	"time"

	"insightminer/internal/pipeline"
	"insightminer/internal/types"
)

// Outcome classifies one task's end state.
type Outcome string

const (
	OutcomeFullSuccess    Outcome = "full_success"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeFailure        Outcome = "failure"
	OutcomeSkipped        Outcome = "skipped" // zero items; excluded from scoring
)

// Severity grades a component failure.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// ComponentFailure names one missing or degraded output component.
type ComponentFailure struct {
	Component   string   `json:"component"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// TaskResult is the final per-task record.
type TaskResult struct {
	TaskID       string             `json:"task_id"`
	Outcome      Outcome            `json:"outcome"`
	State        *pipeline.State    `json:"state,omitempty"`
	Err          string             `json:"error,omitempty"`
	QualityScore int                `json:"quality_score"`
	QualityLabel string             `json:"quality_label,omitempty"`
	Failures     []ComponentFailure `json:"failures,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// Recommendation is an advisory recovery strategy; the orchestrator never
// executes it.
type Recommendation struct {
	Strategy string   `json:"strategy"`
	Reason   string   `json:"reason"`
	TaskIDs  []string `json:"task_ids"`
}

const (
	StrategyRetryExternally        = "retry_externally"
	StrategyTargetedComponentRetry = "targeted_component_retry"
)

// RunReport aggregates an orchestrator run.
type RunReport struct {
	Results []TaskResult `json:"results"` // submission order

	Total            int `json:"total"`
	FullSuccesses    int `json:"full_successes"`
	PartialSuccesses int `json:"partial_successes"`
	Failures         int `json:"failures"`
	Skipped          int `json:"skipped"`

	// (full + PartialWeight*partial) / non-skipped
	WeightedCompletionRate float64 `json:"weighted_completion_rate"`

	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Elapsed         time.Duration    `json:"elapsed"`
}

// ScoreConfig holds the quality-score debits and the partial-success weight.
// These are tunable policy, not correctness constants.
type ScoreConfig struct {
	MissingCategories  int     `yaml:"missing_categories"`
	MissingAssignments int     `yaml:"missing_assignments"`
	MissingExcerpts    int     `yaml:"missing_excerpts"`
	MissingSummary     int     `yaml:"missing_summary"`
	ValidationFailed   int     `yaml:"validation_failed"`
	PartialWeight      float64 `yaml:"partial_weight"`
}

// DefaultScoreConfig returns the standard debit weights.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		MissingCategories:  40,
		MissingAssignments: 30,
		MissingExcerpts:    15,
		MissingSummary:     15,
		ValidationFailed:   10,
		PartialWeight:      0.7,
	}
}

func (s ScoreConfig) withDefaults() ScoreConfig {
	def := DefaultScoreConfig()
	if s.MissingCategories <= 0 {
		s.MissingCategories = def.MissingCategories
	}
	if s.MissingAssignments <= 0 {
		s.MissingAssignments = def.MissingAssignments
	}
	if s.MissingExcerpts <= 0 {
		s.MissingExcerpts = def.MissingExcerpts
	}
	if s.MissingSummary <= 0 {
		s.MissingSummary = def.MissingSummary
	}
	if s.ValidationFailed <= 0 {
		s.ValidationFailed = def.ValidationFailed
	}
	if s.PartialWeight <= 0 || s.PartialWeight > 1 {
		s.PartialWeight = def.PartialWeight
	}
	return s
}

// classify grades one completed (or failed) pipeline execution.
func (o *Orchestrator) classify(task types.Task, state *pipeline.State, err error) TaskResult {
	result := TaskResult{TaskID: task.TaskID, State: state}

	if err != nil {
		result.Outcome = OutcomeFailure
		result.Err = err.Error()
		result.QualityLabel = labelFor(0)

		component := "pipeline"
		if se, ok := pipeline.AsStageError(err); ok {
			component = string(se.Stage)
		}
		result.Failures = []ComponentFailure{{
			Component:   component,
			Severity:    SeverityCritical,
			Description: err.Error(),
		}}
		return result
	}

	score := 100
	var failures []ComponentFailure
	debit := func(component string, severity Severity, points int, description string) {
		score -= points
		failures = append(failures, ComponentFailure{
			Component:   component,
			Severity:    severity,
			Description: description,
		})
	}

	if len(state.Categories) == 0 {
		debit("categories", SeverityCritical, o.cfg.Score.MissingCategories, "no categories generated")
	}
	if len(state.Assignments) == 0 {
		debit("assignments", SeverityCritical, o.cfg.Score.MissingAssignments, "no assignments produced")
	}
	if countExcerpts(state.Excerpts) == 0 {
		debit("excerpts", SeverityMajor, o.cfg.Score.MissingExcerpts, "no supporting excerpts")
	}
	if state.Summary == nil || state.SummaryFallback {
		debit("summary", SeverityMinor, o.cfg.Score.MissingSummary, "summary missing or placeholder")
	}
	if state.Validation == nil || !state.Validation.Passed {
		debit("validation", SeverityMinor, o.cfg.Score.ValidationFailed,
			"excerpt validation did not pass")
	}

	if score < 0 {
		score = 0
	}
	result.QualityScore = score
	result.QualityLabel = labelFor(score)
	result.Failures = failures

	if len(failures) == 0 {
		result.Outcome = OutcomeFullSuccess
	} else {
		result.Outcome = OutcomePartialSuccess
	}
	return result
}

// aggregate computes run-level counts, the weighted completion rate, and
// the advisory recovery recommendations.
func (o *Orchestrator) aggregate(results []TaskResult) *RunReport {
	report := &RunReport{Results: results, Total: len(results)}

	var failedIDs, weakPartialIDs []string
	for _, r := range results {
		switch r.Outcome {
		case OutcomeFullSuccess:
			report.FullSuccesses++
		case OutcomePartialSuccess:
			report.PartialSuccesses++
			if r.QualityScore < 60 {
				weakPartialIDs = append(weakPartialIDs, r.TaskID)
			}
		case OutcomeFailure:
			report.Failures++
			failedIDs = append(failedIDs, r.TaskID)
		case OutcomeSkipped:
			report.Skipped++
		}
	}

	nonSkipped := report.Total - report.Skipped
	if nonSkipped > 0 {
		report.WeightedCompletionRate = (float64(report.FullSuccesses) +
			o.cfg.Score.PartialWeight*float64(report.PartialSuccesses)) / float64(nonSkipped)
	}

	if len(failedIDs) > 0 {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Strategy: StrategyRetryExternally,
			Reason:   fmt.Sprintf("%d tasks failed outright and may succeed on a fresh run", len(failedIDs)),
			TaskIDs:  failedIDs,
		})
	}
	if len(weakPartialIDs) > 0 {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Strategy: StrategyTargetedComponentRetry,
			Reason: fmt.Sprintf("%d partial tasks scored below 60; re-run only their failed components",
				len(weakPartialIDs)),
			TaskIDs: weakPartialIDs,
		})
	}
	return report
}

func labelFor(score int) string {
	switch {
	case score >= 80:
		return "good"
	case score >= 60:
		return "acceptable"
	default:
		return "poor"
	}
}

func countExcerpts(m map[string][]types.Excerpt) int {
	n := 0
	for _, list := range m {
		n += len(list)
	}
	return n
}
