package pipeline

import (
	"context"
	"fmt"

	"insightminer/internal/logging"
	"insightminer/internal/types"
)

// summarize is best-effort: the categories and validated evidence are the
// deliverable, so a generator or parse failure here substitutes a
// placeholder summary instead of failing the task.
func (p *Pipeline) summarize(ctx context.Context, state *State) error {
	raw, err := p.gen.CompleteWithSystem(ctx, systemPrompt, buildSummaryPrompt(state.Task, state))
	if err != nil {
		p.placeholderSummary(state, fmt.Sprintf("generator error: %v", err))
		return nil
	}

	summary, perr := parseSummary(raw)
	if perr != nil {
		p.placeholderSummary(state, perr.Error())
		return nil
	}

	state.Summary = summary
	logging.Pipeline("task %s: summarized with %d insights", state.Task.TaskID, len(summary.Insights))
	return nil
}

// placeholderSummary builds a minimal summary from the stage outputs already
// in hand and records why the real one is missing.
func (p *Pipeline) placeholderSummary(state *State, reason string) {
	insights := make([]string, 0, len(state.Categories))
	for _, c := range state.Categories {
		insights = append(insights, fmt.Sprintf("%s: %s", c.Title, c.Description))
	}
	state.Summary = &types.Summary{
		Headline: state.Task.Question,
		Text: fmt.Sprintf("Automatic summary unavailable; %d categories with supporting evidence are attached.",
			len(state.Categories)),
		Insights: insights,
	}
	state.SummaryFallback = true
	state.warnf("summary replaced with placeholder: %s", reason)
	logging.Get(logging.CategoryPipeline).Warn("task %s: using placeholder summary: %s",
		state.Task.TaskID, reason)
}
