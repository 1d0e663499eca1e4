package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"insightminer/internal/logging"
)

// generateCategories asks the generator for a themed breakdown of the
// task's answers and normalizes the result: every category gets a unique
// id, counts outside [MinCategories, MaxCategories] are rejected or
// truncated.
func (p *Pipeline) generateCategories(ctx context.Context, state *State) error {
	answers := dedupedAnswers(state.Task.Items)
	if len(answers) == 0 {
		return &StageError{
			Stage: StageCategories,
			Kind:  KindValidation,
			Err:   errors.New("task has no respondent answers to categorize"),
		}
	}

	prompt := buildCategoriesPrompt(state.Task, answers, p.cfg.MinCategories, p.cfg.MaxCategories)
	raw, err := p.gen.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return err
	}

	categories, err := parseCategories(raw)
	if err != nil {
		return &StageError{Stage: StageCategories, Kind: KindValidation, Err: err}
	}

	if len(categories) < p.cfg.MinCategories {
		return &StageError{
			Stage: StageCategories,
			Kind:  KindValidation,
			Err: fmt.Errorf("generator produced %d categories, need at least %d",
				len(categories), p.cfg.MinCategories),
		}
	}
	if len(categories) > p.cfg.MaxCategories {
		state.warnf("truncated %d categories to the %d-category limit",
			len(categories), p.cfg.MaxCategories)
		categories = categories[:p.cfg.MaxCategories]
	}

	seen := make(map[string]bool, len(categories))
	for i := range categories {
		id := strings.TrimSpace(categories[i].CategoryID)
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		categories[i].CategoryID = id
	}

	state.Categories = categories
	logging.Pipeline("task %s: generated %d categories from %d distinct answers",
		state.Task.TaskID, len(categories), len(answers))
	return nil
}
