package pipeline

import (
	"context"
	"errors"

	"insightminer/internal/batch"
	"insightminer/internal/llm"
	"insightminer/internal/logging"
	"insightminer/internal/types"
	"insightminer/internal/validate"
)

// Config tunes stage behavior. Zero values are back-filled from Default.
type Config struct {
	MinCategories      int `yaml:"min_categories"`
	MaxCategories      int `yaml:"max_categories"`
	BatchThreshold     int `yaml:"batch_threshold"`      // item count above which classification is batched
	EvidenceMaxRetries int `yaml:"evidence_max_retries"` // attempts of the evidence loop
	ErrorFeedbackLimit int `yaml:"error_feedback_limit"` // prior errors carried into the next attempt

	Batch     batch.Config    `yaml:"batch"`
	Validator validate.Config `yaml:"validator"`
}

// DefaultConfig returns the standard stage policy.
func DefaultConfig() Config {
	return Config{
		MinCategories:      3,
		MaxCategories:      10,
		BatchThreshold:     25,
		EvidenceMaxRetries: 3,
		ErrorFeedbackLimit: 5,
		Batch:              batch.DefaultConfig(),
		Validator:          validate.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinCategories <= 0 {
		c.MinCategories = def.MinCategories
	}
	if c.MaxCategories <= 0 {
		c.MaxCategories = def.MaxCategories
	}
	if c.BatchThreshold <= 0 {
		c.BatchThreshold = def.BatchThreshold
	}
	if c.EvidenceMaxRetries <= 0 {
		c.EvidenceMaxRetries = def.EvidenceMaxRetries
	}
	if c.ErrorFeedbackLimit <= 0 {
		c.ErrorFeedbackLimit = def.ErrorFeedbackLimit
	}
	if c.Batch.AcceptThreshold <= 0 || c.Batch.AcceptThreshold > 1 {
		c.Batch.AcceptThreshold = def.Batch.AcceptThreshold
	}
	if c.Validator.MultiPartSeparator == "" {
		c.Validator.MultiPartSeparator = def.Validator.MultiPartSeparator
	}
	return c
}

// Pipeline runs one task through the four stages. Instances are stateless
// between tasks and safe to share across goroutines; all per-task state
// lives in the State passed along the stages.
type Pipeline struct {
	gen       types.Generator
	validator *validate.Validator
	cfg       Config
}

// New creates a pipeline around an injected generator.
func New(gen types.Generator, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		gen:       gen,
		validator: validate.New(cfg.Validator),
		cfg:       cfg,
	}
}

// Run executes the stages strictly in order. On the first stage error the
// returned State carries FailedStage and the partial outputs accumulated so
// far; later stages are never invoked.
func (p *Pipeline) Run(ctx context.Context, task types.Task) (*State, error) {
	state := newState(task)

	stages := []struct {
		name Stage
		fn   func(context.Context, *State) error
	}{
		{StageCategories, p.generateCategories},
		{StageClassify, p.classify},
		{StageEvidence, p.extractEvidence},
		{StageSummarize, p.summarize},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			state.FailedStage = s.name
			return state, &StageError{Stage: s.name, Kind: KindTimeout, Err: err}
		}

		logging.PipelineDebug("task %s: stage %s starting", task.TaskID, s.name)
		if err := s.fn(ctx, state); err != nil {
			state.FailedStage = s.name
			se := toStageError(s.name, err)
			logging.Get(logging.CategoryPipeline).Warn("task %s: stage %s failed (%s): %v",
				task.TaskID, s.name, se.Kind, se.Err)
			return state, se
		}
		logging.PipelineDebug("task %s: stage %s ok", task.TaskID, s.name)
	}

	logging.Pipeline("task %s: pipeline complete (categories=%d assignments=%d warnings=%d)",
		task.TaskID, len(state.Categories), len(state.Assignments), len(state.Warnings))
	return state, nil
}

// toStageError wraps err into the stage-error taxonomy, preserving an
// existing StageError.
func toStageError(stage Stage, err error) *StageError {
	if se, ok := AsStageError(err); ok {
		return se
	}

	kind := KindFatal
	var batchErr *batch.Error
	switch {
	case errors.As(err, &batchErr):
		kind = KindRetryExhausted
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		kind = KindTimeout
	default:
		switch llm.Classify(err) {
		case llm.ErrClassValidation:
			kind = KindValidation
		case llm.ErrClassRateLimit, llm.ErrClassNetwork, llm.ErrClassServer:
			// Transient classes reaching the stage boundary already
			// exhausted their local retries.
			kind = KindTransient
		case llm.ErrClassAuth:
			kind = KindFatal
		}
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
