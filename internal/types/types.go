// Package types holds the shared data model for the analysis engine: the
// unit of work handed to a pipeline, the records it consumes, and the shapes
// the generation stages produce.
package types

// SourceRecord is one respondent's raw text for one question. RawText
// carries interleaved "prompt:" / "answer:" segments; only the answer spans
// count as quotable source material.
type SourceRecord struct {
	SourceID string `json:"source_id"`
	RawText  string `json:"raw_text"`
}

// TaskStats carries counts precomputed at ingestion time so stages do not
// re-derive them.
type TaskStats struct {
	Respondents int `json:"respondents"`
	NonEmpty    int `json:"non_empty"`
}

// Task is one independently processed unit of work (one survey question).
// Immutable after creation; owned by exactly one pipeline execution.
type Task struct {
	TaskID      string         `json:"task_id"`
	Question    string         `json:"question"`
	Items       []SourceRecord `json:"items"`
	ContextText string         `json:"context_text,omitempty"`
	Stats       TaskStats      `json:"stats"`
}

// Category is a generated grouping of respondents. CategoryID is unique
// within a task and immutable once the category stage completes.
type Category struct {
	CategoryID     string `json:"category_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	EstimatedCount int    `json:"estimated_count,omitempty"`
}

// Assignment maps one SourceRecord to exactly one Category.
type Assignment struct {
	SourceID   string  `json:"source_id"`
	CategoryID string  `json:"category_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Excerpt is a claimed verbatim fragment of a respondent's answer, offered
// as supporting evidence for a category. Text may contain several
// sub-fragments joined by the configured multi-part separator; each one must
// independently appear verbatim in the source.
type Excerpt struct {
	Text     string `json:"text"`
	SourceID string `json:"source_id"`
}

// Summary is the presentational output of the final stage.
type Summary struct {
	Headline string   `json:"headline"`
	Text     string   `json:"text"`
	Insights []string `json:"insights"`
}
