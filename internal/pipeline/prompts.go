package pipeline

import (
	"fmt"
	"strings"

	"insightminer/internal/types"
	"insightminer/internal/validate"
)

const systemPrompt = `You are a survey analysis engine. You respond with ` +
	`strictly valid JSON matching the schema in each request: no prose, no ` +
	`markdown fences, no commentary. Quotes must be copied character-for-` +
	`character from the respondent text; never paraphrase quoted material.`

// maxPromptAnswers bounds how many respondent answers a single prompt
// carries. Beyond this the classification path is batched anyway; category
// generation samples.
const maxPromptAnswers = 200

// answerLines renders "sourceID: answer" lines for a set of records,
// skipping respondents with no recoverable answer text.
func answerLines(items []types.SourceRecord, limit int) []string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if limit > 0 && len(lines) >= limit {
			break
		}
		answer := validate.AnswerOnly(item.RawText)
		if answer == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", item.SourceID, answer))
	}
	return lines
}

// dedupedAnswers returns the distinct non-empty answer texts, preserving
// first-seen order. Category generation works off what respondents said,
// not off how often they said it.
func dedupedAnswers(items []types.SourceRecord) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		answer := validate.AnswerOnly(item.RawText)
		if answer == "" || seen[answer] {
			continue
		}
		seen[answer] = true
		out = append(out, answer)
	}
	return out
}

func buildCategoriesPrompt(task types.Task, answers []string, minCategories, maxCategories int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey question: %s\n", task.Question)
	if task.ContextText != "" {
		fmt.Fprintf(&b, "Background: %s\n", task.ContextText)
	}
	fmt.Fprintf(&b, "\n%d distinct answers (of %d respondents):\n", len(answers), task.Stats.Respondents)
	for _, a := range truncateList(answers, maxPromptAnswers) {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	fmt.Fprintf(&b, `
Identify between %d and %d categories that together explain these answers.
Respond with a JSON array:
[{"category_id": "short-slug", "title": "...", "description": "...", "estimated_count": <int>}]
`, minCategories, maxCategories)
	return b.String()
}

func buildClassifyPrompt(task types.Task, categories []types.Category, items []types.SourceRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey question: %s\n\nCategories:\n", task.Question)
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", c.CategoryID, c.Title, c.Description)
	}
	b.WriteString("\nRespondent answers:\n")
	for _, line := range answerLines(items, 0) {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString(`
Assign every respondent to exactly one category.
Respond with a JSON array:
[{"source_id": "...", "category_id": "...", "confidence": <0..1>, "reasoning": "..."}]
`)
	return b.String()
}

func buildEvidencePrompt(task types.Task, categories []types.Category, items []types.SourceRecord, attempt attemptContext, separator string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey question: %s\n\nCategories:\n", task.Question)
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s: %s\n", c.CategoryID, c.Title)
	}
	b.WriteString("\nRespondent answers:\n")
	for _, line := range answerLines(items, maxPromptAnswers) {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	fmt.Fprintf(&b, `
For each category, select 1-3 supporting quotes copied VERBATIM from the
answers above. A quote may join two verbatim fragments from the same answer
with " %s ". Never alter, reorder, or paraphrase a single word.
Respond with a JSON object:
{"<category_id>": [{"text": "...", "source_id": "..."}]}
`, separator)

	if attempt.Attempt > 1 && len(attempt.PriorErrors) > 0 {
		fmt.Fprintf(&b, "\nAttempt %d. Your previous quotes failed verbatim validation:\n", attempt.Attempt)
		for _, e := range attempt.PriorErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("Copy quotes exactly as written this time.\n")
	}
	return b.String()
}

func buildSummaryPrompt(task types.Task, state *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey question: %s\n\nCategories and respondent counts:\n", task.Question)
	counts := make(map[string]int, len(state.Categories))
	for _, a := range state.Assignments {
		counts[a.CategoryID]++
	}
	for _, c := range state.Categories {
		fmt.Fprintf(&b, "- %s (%d respondents): %s\n", c.Title, counts[c.CategoryID], c.Description)
	}
	b.WriteString(`
Write a short headline, a one-paragraph summary, and 2-5 key insights.
Respond with a JSON object:
{"headline": "...", "summary": "...", "insights": ["..."]}
`)
	return b.String()
}

func truncateList(list []string, max int) []string {
	if max > 0 && len(list) > max {
		return list[:max]
	}
	return list
}
