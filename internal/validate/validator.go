package validate

import (
	"fmt"
	"slices"
	"strings"

	"insightminer/internal/logging"
	"insightminer/internal/types"
)

// Config tunes the validator. Zero value is usable; Default fills the
// policy knobs.
type Config struct {
	CaseSensitive       bool   `yaml:"case_sensitive"`
	PreservePunctuation bool   `yaml:"preserve_punctuation"`
	MultiPartSeparator  string `yaml:"multi_part_separator"` // default "..."
	MinExcerptWords     int    `yaml:"min_excerpt_words"`    // below this: warning
	MaxExcerptChars     int    `yaml:"max_excerpt_chars"`    // above this: warning
}

// DefaultConfig returns the standard validation policy.
func DefaultConfig() Config {
	return Config{
		MultiPartSeparator: "...",
		MinExcerptWords:    3,
		MaxExcerptChars:    400,
	}
}

// Report is the outcome of validating one task's excerpt set. Passed is true
// iff Errors is empty; warnings never affect Passed.
type Report struct {
	Passed           bool           `json:"passed"`
	Errors           []string       `json:"errors,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	CountsByCategory map[string]int `json:"counts_by_category,omitempty"`
}

// Validator checks generated excerpts against their claimed sources.
type Validator struct {
	cfg Config
}

// New creates a validator, back-filling unset policy knobs with defaults.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MultiPartSeparator == "" {
		cfg.MultiPartSeparator = def.MultiPartSeparator
	}
	if cfg.MinExcerptWords <= 0 {
		cfg.MinExcerptWords = def.MinExcerptWords
	}
	if cfg.MaxExcerptChars <= 0 {
		cfg.MaxExcerptChars = def.MaxExcerptChars
	}
	return &Validator{cfg: cfg}
}

// Validate checks every excerpt for verbatim containment in its claimed
// source and runs the cross-cutting duplicate/coverage/attribution checks.
func (v *Validator) Validate(
	excerpts map[string][]types.Excerpt,
	sources map[string]types.SourceRecord,
	categories []types.Category,
	assignments []types.Assignment,
) Report {
	report := Report{
		CountsByCategory: make(map[string]int, len(excerpts)),
	}
	opts := NormalizeOptions{
		CaseSensitive:       v.cfg.CaseSensitive,
		PreservePunctuation: v.cfg.PreservePunctuation,
	}

	knownCategories := make(map[string]bool, len(categories))
	for _, c := range categories {
		knownCategories[c.CategoryID] = true
	}
	assignedCategory := make(map[string]string, len(assignments))
	for _, a := range assignments {
		assignedCategory[a.SourceID] = a.CategoryID
	}

	// Normalized answer-only text per source, computed once.
	normalizedAnswers := make(map[string]string, len(sources))
	answerFor := func(sourceID string) (string, bool) {
		if cached, ok := normalizedAnswers[sourceID]; ok {
			return cached, true
		}
		src, ok := sources[sourceID]
		if !ok {
			return "", false
		}
		n := Normalize(AnswerOnly(src.RawText), opts)
		normalizedAnswers[sourceID] = n
		return n, true
	}

	// sourceID+text → categories it appeared under, for duplicate detection.
	seen := make(map[string][]string)

	for categoryID, categoryExcerpts := range excerpts {
		if !knownCategories[categoryID] {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("excerpts reference unknown category %q", categoryID))
		}

		for i, ex := range categoryExcerpts {
			// Structural checks short-circuit content checks per excerpt.
			if strings.TrimSpace(ex.Text) == "" {
				report.Errors = append(report.Errors,
					fmt.Sprintf("category %s excerpt %d: empty excerpt text", categoryID, i))
				continue
			}
			if ex.SourceID == "" {
				report.Errors = append(report.Errors,
					fmt.Sprintf("category %s excerpt %d: missing source id", categoryID, i))
				continue
			}
			answer, known := answerFor(ex.SourceID)
			if !known {
				report.Errors = append(report.Errors,
					fmt.Sprintf("category %s excerpt %d: unknown source %q", categoryID, i, ex.SourceID))
				continue
			}
			if answer == "" {
				report.Errors = append(report.Errors,
					fmt.Sprintf("category %s excerpt %d: source %q has no answer text", categoryID, i, ex.SourceID))
				continue
			}

			if hallucinated := v.checkContainment(ex, answer, opts); hallucinated != "" {
				report.Errors = append(report.Errors,
					fmt.Sprintf("category %s: hallucinated excerpt from source %s: %s", categoryID, ex.SourceID, hallucinated))
				continue
			}

			report.CountsByCategory[categoryID]++

			// Quality warnings on verified excerpts.
			if words := len(strings.Fields(ex.Text)); words < v.cfg.MinExcerptWords {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("category %s: excerpt from %s is only %d word(s)", categoryID, ex.SourceID, words))
			}
			if len(ex.Text) > v.cfg.MaxExcerptChars {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("category %s: excerpt from %s exceeds %d chars", categoryID, ex.SourceID, v.cfg.MaxExcerptChars))
			}
			if assigned, ok := assignedCategory[ex.SourceID]; ok && assigned != categoryID {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("category %s: excerpt source %s is assigned to category %s (attribution mismatch)",
						categoryID, ex.SourceID, assigned))
			}

			key := ex.SourceID + "\x00" + Normalize(ex.Text, opts)
			seen[key] = append(seen[key], categoryID)
		}
	}

	// Duplicate excerpts across categories. Repeats within one category
	// count once.
	for key, cats := range seen {
		var distinct []string
		for _, c := range cats {
			if !slices.Contains(distinct, c) {
				distinct = append(distinct, c)
			}
		}
		if len(distinct) > 1 {
			slices.Sort(distinct)
			sourceID := key[:strings.IndexByte(key, '\x00')]
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("excerpt from source %s appears under %d categories (%s)",
					sourceID, len(distinct), strings.Join(distinct, ", ")))
		}
	}

	// Coverage: every category should have at least one verified excerpt.
	for _, c := range categories {
		if report.CountsByCategory[c.CategoryID] == 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("category %s (%s) has no excerpts", c.CategoryID, c.Title))
		}
	}

	report.Passed = len(report.Errors) == 0
	logging.Validate("validation finished: passed=%v errors=%d warnings=%d",
		report.Passed, len(report.Errors), len(report.Warnings))
	return report
}

// checkContainment verifies every part of a (possibly multi-part) excerpt is
// a contiguous substring of the normalized answer text. Returns a
// description of the first failing part, or "" when the excerpt is genuine.
func (v *Validator) checkContainment(ex types.Excerpt, normalizedAnswer string, opts NormalizeOptions) string {
	parts := []string{ex.Text}
	if v.cfg.MultiPartSeparator != "" && strings.Contains(ex.Text, v.cfg.MultiPartSeparator) {
		parts = strings.Split(ex.Text, v.cfg.MultiPartSeparator)
	}

	for idx, part := range parts {
		normalized := Normalize(part, opts)
		if normalized == "" {
			return fmt.Sprintf("part %d/%d is empty after normalization", idx+1, len(parts))
		}
		if !strings.Contains(normalizedAnswer, normalized) {
			if len(parts) > 1 {
				return fmt.Sprintf("part %d/%d not found verbatim: %q", idx+1, len(parts), part)
			}
			return fmt.Sprintf("not found verbatim: %q", ex.Text)
		}
	}
	return ""
}
