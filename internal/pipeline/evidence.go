package pipeline

import (
	"context"
	"fmt"
	"strings"

	"insightminer/internal/logging"
	"insightminer/internal/types"
	"insightminer/internal/validate"
)

// extractEvidence runs the bounded extract-validate loop: ask the generator
// for verbatim excerpts per category, backfill empty categories from their
// assigned answers, then validate every excerpt against the sources. Failed
// validations feed their top errors back into the next attempt's prompt.
// Exhausting the attempts is not a stage failure; the task proceeds with
// Validation.Passed == false so the caller can grade it.
func (p *Pipeline) extractEvidence(ctx context.Context, state *State) error {
	sources := state.SourcesByID()
	attempt := attemptContext{}
	maxAttempts := p.cfg.EvidenceMaxRetries

	var (
		lastExcerpts map[string][]types.Excerpt
		lastReport   validate.Report
		lastBackfill []string
	)

	for i := 1; i <= maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt.Attempt = i
		state.EvidenceAttempts = i

		prompt := buildEvidencePrompt(state.Task, state.Categories, state.Task.Items,
			attempt, p.cfg.Validator.MultiPartSeparator)
		raw, err := p.gen.CompleteWithSystem(ctx, systemPrompt, prompt)
		if err != nil {
			return err
		}

		excerpts, perr := parseExcerpts(raw)
		if perr != nil {
			logging.Get(logging.CategoryPipeline).Warn("task %s: evidence attempt %d unparseable: %v",
				state.Task.TaskID, i, perr)
			lastReport = validate.Report{Errors: []string{perr.Error()}}
			attempt.PriorErrors = []string{perr.Error()}
			continue
		}

		// Backfill warnings only stick for the attempt whose excerpts are
		// kept; retried attempts would repeat them otherwise.
		backfill := p.backfillEmptyCategories(state, excerpts, sources)

		report := p.validator.Validate(excerpts, sources, state.Categories, state.Assignments)
		if report.Passed {
			state.Excerpts = excerpts
			state.Validation = &report
			state.Warnings = append(state.Warnings, backfill...)
			state.Warnings = append(state.Warnings, report.Warnings...)
			logging.Pipeline("task %s: evidence validated on attempt %d (%d warnings)",
				state.Task.TaskID, i, len(report.Warnings))
			return nil
		}

		logging.Get(logging.CategoryPipeline).Warn("task %s: evidence attempt %d failed validation (%d errors)",
			state.Task.TaskID, i, len(report.Errors))
		lastExcerpts = excerpts
		lastReport = report
		lastBackfill = backfill
		attempt.PriorErrors = truncateList(report.Errors, p.cfg.ErrorFeedbackLimit)
	}

	// Out of attempts. Keep the best-known excerpts and the failing report
	// so downstream grading sees exactly what could not be verified.
	if lastExcerpts != nil {
		state.Excerpts = lastExcerpts
		state.Warnings = append(state.Warnings, lastBackfill...)
	}
	state.Validation = &lastReport
	state.Warnings = append(state.Warnings, lastReport.Warnings...)
	state.warnf("evidence validation still failing after %d attempts (%d unresolved errors)",
		maxAttempts, len(lastReport.Errors))
	return nil
}

// backfillEmptyCategories substitutes a literal first sentence from an
// assigned answer for any category the generator returned no excerpts for,
// returning one warning per substitution. Categories with no assigned
// respondents stay empty; there is nothing to quote.
func (p *Pipeline) backfillEmptyCategories(
	state *State,
	excerpts map[string][]types.Excerpt,
	sources map[string]types.SourceRecord,
) []string {
	assignedBy := make(map[string][]string, len(state.Categories))
	for _, a := range state.Assignments {
		assignedBy[a.CategoryID] = append(assignedBy[a.CategoryID], a.SourceID)
	}

	var warnings []string
	for _, c := range state.Categories {
		if len(excerpts[c.CategoryID]) > 0 {
			continue
		}
		for _, sourceID := range assignedBy[c.CategoryID] {
			src, ok := sources[sourceID]
			if !ok {
				continue
			}
			sentence := firstSentence(validate.AnswerOnly(src.RawText))
			if sentence == "" {
				continue
			}
			excerpts[c.CategoryID] = append(excerpts[c.CategoryID], types.Excerpt{
				Text:     sentence,
				SourceID: sourceID,
			})
			warnings = append(warnings, fmt.Sprintf(
				"category %q had no excerpts; substituted a literal quote from %s",
				c.Title, sourceID))
			break
		}
	}
	return warnings
}

// firstSentence returns the text up to and including the first sentence
// terminator, or the whole text when none is present.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(s[:i+1])
		}
	}
	return s
}
