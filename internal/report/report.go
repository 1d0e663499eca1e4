// Package report renders a finished run to files: a machine-readable JSON
// dump and a human-readable Markdown digest.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"insightminer/internal/logging"
	"insightminer/internal/orchestrator"
)

// Writer renders run reports into an output directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write renders both formats and returns the paths written.
func (w *Writer) Write(runID string, report *orchestrator.RunReport) (jsonPath, mdPath string, err error) {
	stamp := time.Now().UTC().Format("20060102-150405")
	base := fmt.Sprintf("run-%s-%s", stamp, shortID(runID))

	jsonPath = filepath.Join(w.dir, base+".json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("write json report: %w", err)
	}

	mdPath = filepath.Join(w.dir, base+".md")
	if err := os.WriteFile(mdPath, []byte(Markdown(report)), 0644); err != nil {
		return "", "", fmt.Errorf("write markdown report: %w", err)
	}

	logging.Report("wrote %s and %s", jsonPath, mdPath)
	return jsonPath, mdPath, nil
}

// Markdown renders the run digest: totals, per-task sections with status,
// score, categories and validated excerpts, then the advisory
// recommendations.
func Markdown(report *orchestrator.RunReport) string {
	var b strings.Builder

	b.WriteString("# Survey Analysis Run\n\n")
	fmt.Fprintf(&b, "- Tasks: %d (%d full, %d partial, %d failed, %d skipped)\n",
		report.Total, report.FullSuccesses, report.PartialSuccesses,
		report.Failures, report.Skipped)
	fmt.Fprintf(&b, "- Weighted completion rate: %.1f%%\n", report.WeightedCompletionRate*100)
	fmt.Fprintf(&b, "- Elapsed: %s\n", report.Elapsed.Round(time.Millisecond))

	for _, r := range report.Results {
		b.WriteString("\n---\n\n")
		writeTask(&b, r)
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("\n---\n\n## Recovery Recommendations\n")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(&b, "\n- **%s** (%s): %s\n", rec.Strategy,
				strings.Join(rec.TaskIDs, ", "), rec.Reason)
		}
	}
	return b.String()
}

func writeTask(b *strings.Builder, r orchestrator.TaskResult) {
	title := r.TaskID
	if r.State != nil && r.State.Task.Question != "" {
		title = r.State.Task.Question
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	fmt.Fprintf(b, "- Status: %s", r.Outcome)
	if r.Outcome == orchestrator.OutcomeFullSuccess || r.Outcome == orchestrator.OutcomePartialSuccess {
		fmt.Fprintf(b, " (score %d, %s)", r.QualityScore, r.QualityLabel)
	}
	b.WriteString("\n")
	if r.Err != "" {
		fmt.Fprintf(b, "- Error: %s\n", r.Err)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(b, "- Deficiency [%s] %s: %s\n", f.Severity, f.Component, f.Description)
	}

	state := r.State
	if state == nil {
		return
	}

	if state.Summary != nil {
		fmt.Fprintf(b, "\n**%s**\n\n%s\n", state.Summary.Headline, state.Summary.Text)
		for _, ins := range state.Summary.Insights {
			fmt.Fprintf(b, "- %s\n", ins)
		}
	}

	if len(state.Categories) > 0 {
		b.WriteString("\n### Categories\n\n")
		counts := make(map[string]int, len(state.Categories))
		for _, a := range state.Assignments {
			counts[a.CategoryID]++
		}
		for _, c := range state.Categories {
			fmt.Fprintf(b, "- **%s** (%d respondents): %s\n", c.Title, counts[c.CategoryID], c.Description)
			for _, ex := range state.Excerpts[c.CategoryID] {
				fmt.Fprintf(b, "  - > %q (%s)\n", ex.Text, ex.SourceID)
			}
		}
	}

	if state.Validation != nil && !state.Validation.Passed {
		b.WriteString("\n### Unverified Evidence\n\n")
		for _, e := range state.Validation.Errors {
			fmt.Fprintf(b, "- %s\n", e)
		}
	}

	if len(state.Warnings) > 0 {
		b.WriteString("\n### Warnings\n\n")
		for _, wmsg := range state.Warnings {
			fmt.Fprintf(b, "- %s\n", wmsg)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
