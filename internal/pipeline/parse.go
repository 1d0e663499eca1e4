package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"insightminer/internal/types"
)

// stripCodeFences removes markdown code fences from generator responses so
// the JSON inside can be parsed cleanly. Handles ```json ... ``` wrapping
// and duplicated blocks that some models produce.
func stripCodeFences(s string) string {
	var result strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// extractJSON trims leading/trailing prose around the outermost JSON value.
// Models occasionally preface the payload with a sentence despite
// instructions.
func extractJSON(s string) string {
	s = strings.TrimSpace(stripCodeFences(s))
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '[' {
		end = strings.LastIndexByte(s, ']')
	} else {
		end = strings.LastIndexByte(s, '}')
	}
	if end <= start {
		return s
	}
	return s[start : end+1]
}

type categoryJSON struct {
	CategoryID     string `json:"category_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	EstimatedCount int    `json:"estimated_count"`
}

// parseCategories decodes the category-generation response. Entries missing
// required fields are rejected, not silently dropped: a generator that
// cannot fill the schema is a validation failure.
func parseCategories(raw string) ([]types.Category, error) {
	var decoded []categoryJSON
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse categories response: %w", err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("categories response is empty")
	}

	out := make([]types.Category, 0, len(decoded))
	for i, c := range decoded {
		if strings.TrimSpace(c.Title) == "" {
			return nil, fmt.Errorf("category %d missing title", i)
		}
		if strings.TrimSpace(c.Description) == "" {
			return nil, fmt.Errorf("category %d (%s) missing description", i, c.Title)
		}
		out = append(out, types.Category{
			CategoryID:     strings.TrimSpace(c.CategoryID),
			Title:          strings.TrimSpace(c.Title),
			Description:    strings.TrimSpace(c.Description),
			EstimatedCount: c.EstimatedCount,
		})
	}
	return out, nil
}

type assignmentJSON struct {
	SourceID   string  `json:"source_id"`
	CategoryID string  `json:"category_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parseAssignments decodes a classification response. Unknown source or
// category references are dropped (they count against the batch's
// completion rate rather than failing the parse).
func parseAssignments(raw string, validSources, validCategories map[string]bool) ([]types.Assignment, error) {
	var decoded []assignmentJSON
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse assignments response: %w", err)
	}

	out := make([]types.Assignment, 0, len(decoded))
	seen := make(map[string]bool, len(decoded))
	for _, a := range decoded {
		if !validSources[a.SourceID] || !validCategories[a.CategoryID] {
			continue
		}
		if seen[a.SourceID] {
			continue // exactly one assignment per source
		}
		seen[a.SourceID] = true
		if a.Confidence < 0 {
			a.Confidence = 0
		}
		if a.Confidence > 1 {
			a.Confidence = 1
		}
		out = append(out, types.Assignment{
			SourceID:   a.SourceID,
			CategoryID: a.CategoryID,
			Confidence: a.Confidence,
			Reasoning:  strings.TrimSpace(a.Reasoning),
		})
	}
	return out, nil
}

type excerptJSON struct {
	Text     string `json:"text"`
	SourceID string `json:"source_id"`
}

// parseExcerpts decodes the evidence-extraction response: a map of category
// id to claimed verbatim excerpts. Content is NOT checked here; the
// validator owns that.
func parseExcerpts(raw string) (map[string][]types.Excerpt, error) {
	var decoded map[string][]excerptJSON
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse excerpts response: %w", err)
	}

	out := make(map[string][]types.Excerpt, len(decoded))
	for categoryID, list := range decoded {
		for _, e := range list {
			out[categoryID] = append(out[categoryID], types.Excerpt{
				Text:     strings.TrimSpace(e.Text),
				SourceID: strings.TrimSpace(e.SourceID),
			})
		}
	}
	return out, nil
}

type summaryJSON struct {
	Headline string   `json:"headline"`
	Summary  string   `json:"summary"`
	Insights []string `json:"insights"`
}

// parseSummary decodes and structurally validates the summarize response.
func parseSummary(raw string) (*types.Summary, error) {
	var decoded summaryJSON
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}
	if strings.TrimSpace(decoded.Headline) == "" {
		return nil, fmt.Errorf("summary missing headline")
	}
	if strings.TrimSpace(decoded.Summary) == "" {
		return nil, fmt.Errorf("summary missing body text")
	}
	insights := make([]string, 0, len(decoded.Insights))
	for _, ins := range decoded.Insights {
		if strings.TrimSpace(ins) != "" {
			insights = append(insights, strings.TrimSpace(ins))
		}
	}
	if len(insights) == 0 {
		return nil, fmt.Errorf("summary has no insights")
	}
	return &types.Summary{
		Headline: strings.TrimSpace(decoded.Headline),
		Text:     strings.TrimSpace(decoded.Summary),
		Insights: insights,
	}, nil
}
