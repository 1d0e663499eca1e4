// Package ingest turns survey spreadsheets into tasks. Each free-text
// question column becomes one Task; each respondent row becomes one
// SourceRecord whose raw text interleaves the question and the answer with
// the prompt/answer markers the validator strips back out.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"insightminer/internal/logging"
	"insightminer/internal/types"
)

// Options controls question-column detection.
type Options struct {
	// QuestionColumns names headers to treat as questions, bypassing
	// detection. Empty means detect.
	QuestionColumns []string `yaml:"question_columns"`

	// MinDistinctRatio is the minimum distinct-answer share a column needs
	// to count as free text rather than categorical (default 0.2).
	MinDistinctRatio float64 `yaml:"min_distinct_ratio"`

	// IDColumn names the respondent-id header. Empty means detect a
	// conventional name, falling back to row numbers.
	IDColumn string `yaml:"id_column"`
}

func (o Options) withDefaults() Options {
	if o.MinDistinctRatio <= 0 || o.MinDistinctRatio > 1 {
		o.MinDistinctRatio = 0.2
	}
	return o
}

// LoadFile reads a CSV survey export from disk.
func LoadFile(path string, opts Options) ([]types.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open survey file: %w", err)
	}
	defer f.Close()
	tasks, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return tasks, nil
}

// Parse reads CSV rows and builds one task per detected question column.
func Parse(r io.Reader, opts Options) ([]types.Task, error) {
	opts = opts.withDefaults()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // ragged exports are common
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("survey needs a header row and at least one respondent row")
	}

	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF") // excel BOM
	}
	body := rows[1:]

	idCol := findIDColumn(header, opts.IDColumn)
	questionCols := selectQuestionColumns(header, body, idCol, opts)
	if len(questionCols) == 0 {
		return nil, fmt.Errorf("no free-text question columns detected among %d headers", len(header))
	}

	tasks := make([]types.Task, 0, len(questionCols))
	for _, col := range questionCols {
		question := strings.TrimSpace(header[col])
		task := types.Task{
			TaskID:   fmt.Sprintf("q%d", col+1),
			Question: question,
			Stats:    types.TaskStats{Respondents: len(body)},
		}
		for rowIdx, row := range body {
			answer := cell(row, col)
			if answer == "" {
				continue
			}
			task.Stats.NonEmpty++
			task.Items = append(task.Items, types.SourceRecord{
				SourceID: respondentID(row, rowIdx, idCol),
				RawText:  fmt.Sprintf("prompt: %s answer: %s", question, answer),
			})
		}
		tasks = append(tasks, task)
		logging.Ingest("column %d (%q): %d/%d respondents answered",
			col+1, question, task.Stats.NonEmpty, task.Stats.Respondents)
	}
	return tasks, nil
}

// selectQuestionColumns keeps columns that look like free-text questions: a
// question-shaped header and enough distinct answers to rule out
// categorical fields.
func selectQuestionColumns(header []string, body [][]string, idCol int, opts Options) []int {
	if len(opts.QuestionColumns) > 0 {
		wanted := make(map[string]bool, len(opts.QuestionColumns))
		for _, name := range opts.QuestionColumns {
			wanted[strings.ToLower(strings.TrimSpace(name))] = true
		}
		var cols []int
		for i, h := range header {
			if wanted[strings.ToLower(strings.TrimSpace(h))] {
				cols = append(cols, i)
			}
		}
		return cols
	}

	var cols []int
	for i, h := range header {
		if i == idCol || !looksLikeQuestion(h) {
			continue
		}
		distinct := make(map[string]bool)
		nonEmpty := 0
		for _, row := range body {
			v := cell(row, i)
			if v == "" {
				continue
			}
			nonEmpty++
			distinct[strings.ToLower(v)] = true
		}
		if nonEmpty == 0 {
			continue
		}
		if float64(len(distinct))/float64(nonEmpty) >= opts.MinDistinctRatio {
			cols = append(cols, i)
		}
	}
	return cols
}

// looksLikeQuestion accepts headers phrased as questions or long enough to
// be one; short labels like "Age" or "Country" are categorical metadata.
func looksLikeQuestion(header string) bool {
	h := strings.TrimSpace(header)
	if h == "" {
		return false
	}
	if strings.HasSuffix(h, "?") {
		return true
	}
	return len(strings.Fields(h)) >= 3
}

// findIDColumn locates the respondent identifier column, -1 when absent.
func findIDColumn(header []string, explicit string) int {
	if explicit != "" {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), explicit) {
				return i
			}
		}
		return -1
	}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "id", "respondent id", "respondent_id", "response id", "response_id":
			return i
		}
	}
	return -1
}

func respondentID(row []string, rowIdx, idCol int) string {
	if idCol >= 0 {
		if id := cell(row, idCol); id != "" {
			return id
		}
	}
	return fmt.Sprintf("row%d", rowIdx+2) // 1-based, counting the header
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
