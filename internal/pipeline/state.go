// Package pipeline runs one task through the ordered content-generation
// stages: category generation, classification, evidence extraction with
// verbatim validation, and summarization. Stages execute strictly
// sequentially over an explicit accumulated State; the first stage error
// halts the task.
package pipeline

import (
	"errors"
	"fmt"

	"insightminer/internal/types"
	"insightminer/internal/validate"
)

// Stage names the pipeline steps, in execution order.
type Stage string

const (
	StageCategories Stage = "generate_categories"
	StageClassify   Stage = "classify"
	StageEvidence   Stage = "extract_evidence"
	StageSummarize  Stage = "summarize"
)

// ErrorKind is the failure taxonomy carried by stage errors.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"      // malformed or incomplete generator output
	KindHallucination  ErrorKind = "hallucination"   // excerpt not found verbatim
	KindRetryExhausted ErrorKind = "retry_exhausted" // batch or evidence loop out of attempts
	KindTimeout        ErrorKind = "timeout"
	KindTransient      ErrorKind = "transient"
	KindFatal          ErrorKind = "fatal"
)

// StageError is the typed failure of one stage execution.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AsStageError unwraps err to a *StageError if one is in the chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// State accumulates one task's stage outputs. Each field is written by
// exactly one stage and read-only afterwards.
type State struct {
	Task types.Task `json:"task"`

	// GenerateCategories
	Categories []types.Category `json:"categories,omitempty"`

	// Classify
	Assignments       []types.Assignment `json:"assignments,omitempty"`
	ClassifyShortfall int                `json:"classify_shortfall,omitempty"` // items left unassigned under partial acceptance

	// ExtractAndValidateEvidence
	Excerpts         map[string][]types.Excerpt `json:"excerpts,omitempty"`
	Validation       *validate.Report           `json:"validation,omitempty"`
	EvidenceAttempts int                        `json:"evidence_attempts,omitempty"`

	// Summarize
	Summary         *types.Summary `json:"summary,omitempty"`
	SummaryFallback bool           `json:"summary_fallback,omitempty"` // placeholder substituted after a summarize failure

	// Cross-stage annotations
	Warnings    []string `json:"warnings,omitempty"`
	FailedStage Stage    `json:"failed_stage,omitempty"`
}

// newState initializes the accumulated state for one task.
func newState(task types.Task) *State {
	return &State{
		Task:     task,
		Excerpts: make(map[string][]types.Excerpt),
	}
}

// warnf appends a formatted cross-stage warning.
func (s *State) warnf(format string, args ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// SourcesByID indexes the task's records for validator input.
func (s *State) SourcesByID() map[string]types.SourceRecord {
	out := make(map[string]types.SourceRecord, len(s.Task.Items))
	for _, item := range s.Task.Items {
		out[item.SourceID] = item
	}
	return out
}

// CategoryByID returns the category with the given id, if generated.
func (s *State) CategoryByID(id string) (types.Category, bool) {
	for _, c := range s.Categories {
		if c.CategoryID == id {
			return c, true
		}
	}
	return types.Category{}, false
}

// attemptContext threads evidence-retry bookkeeping into prompt
// construction: the attempt number and the validation errors from prior
// attempts, so the generator can avoid repeating them.
type attemptContext struct {
	Attempt     int
	PriorErrors []string
}
