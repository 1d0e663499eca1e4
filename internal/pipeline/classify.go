package pipeline

import (
	"context"
	"errors"

	"insightminer/internal/batch"
	"insightminer/internal/llm"
	"insightminer/internal/logging"
	"insightminer/internal/types"
)

// classify assigns every source record to exactly one generated category.
// Small tasks go through a single direct call; tasks above BatchThreshold
// (and direct calls that come back malformed or too incomplete) go through
// the batched path with its completion-rate gating.
func (p *Pipeline) classify(ctx context.Context, state *State) error {
	items := state.Task.Items
	if len(items) == 0 {
		return &StageError{
			Stage: StageClassify,
			Kind:  KindValidation,
			Err:   errors.New("task has no items to classify"),
		}
	}

	validSources := make(map[string]bool, len(items))
	for _, item := range items {
		validSources[item.SourceID] = true
	}
	validCategories := make(map[string]bool, len(state.Categories))
	for _, c := range state.Categories {
		validCategories[c.CategoryID] = true
	}

	call := func(ctx context.Context, chunk []types.SourceRecord) ([]types.Assignment, error) {
		raw, err := p.gen.CompleteWithSystem(ctx, systemPrompt,
			buildClassifyPrompt(state.Task, state.Categories, chunk))
		if err != nil {
			return nil, err
		}
		return parseAssignments(raw, validSources, validCategories)
	}

	var assignments []types.Assignment
	if len(items) <= p.cfg.BatchThreshold {
		direct, err := call(ctx, items)
		switch {
		case err == nil && completionRate(len(direct), len(items)) >= p.cfg.Batch.AcceptThreshold:
			assignments = direct
		case err != nil && llm.Classify(err) != llm.ErrClassValidation:
			return err
		default:
			// Malformed output or too many dropped items. The batched
			// path retries in smaller slices before giving up.
			if err != nil {
				state.warnf("direct classification failed (%v), falling back to batches", err)
			} else {
				state.warnf("direct classification covered %d/%d items, falling back to batches",
					len(direct), len(items))
			}
			batched, berr := p.classifyBatched(ctx, state, items, call)
			if berr != nil {
				return berr
			}
			assignments = batched
		}
	} else {
		batched, err := p.classifyBatched(ctx, state, items, call)
		if err != nil {
			return err
		}
		assignments = batched
	}

	if len(assignments) == 0 {
		return &StageError{
			Stage: StageClassify,
			Kind:  KindValidation,
			Err:   errors.New("classification produced no usable assignments"),
		}
	}

	state.Assignments = assignments
	state.ClassifyShortfall = len(items) - len(assignments)
	if state.ClassifyShortfall > 0 {
		state.warnf("%d of %d items left unclassified under partial acceptance",
			state.ClassifyShortfall, len(items))
	}
	logging.Pipeline("task %s: classified %d/%d items into %d categories",
		state.Task.TaskID, len(assignments), len(items), len(state.Categories))
	return nil
}

// classifyBatched runs classification through the gated batch runner and
// folds its warnings into the task state.
func (p *Pipeline) classifyBatched(
	ctx context.Context,
	state *State,
	items []types.SourceRecord,
	call batch.CallFunc[types.SourceRecord, types.Assignment],
) ([]types.Assignment, error) {
	result, err := batch.Run(ctx, items, call, p.cfg.Batch)
	if err != nil {
		return nil, err
	}
	state.Warnings = append(state.Warnings, result.Warnings...)
	return result.Units, nil
}

func completionRate(got, want int) float64 {
	if want == 0 {
		return 1.0
	}
	return float64(got) / float64(want)
}
