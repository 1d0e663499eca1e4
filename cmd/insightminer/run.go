package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"insightminer/internal/batch"
	"insightminer/internal/config"
	"insightminer/internal/ingest"
	"insightminer/internal/llm"
	"insightminer/internal/orchestrator"
	"insightminer/internal/pipeline"
	"insightminer/internal/report"
	"insightminer/internal/store"
	"insightminer/internal/types"
	"insightminer/internal/validate"
)

var (
	runDryRun      bool
	runOutDir      string
	runConcurrency int
	runQuestions   []string
	runNoStore     bool
)

var runCmd = &cobra.Command{
	Use:   "run [survey.csv]",
	Short: "Analyze a survey export end to end",
	Long: `Ingests a CSV survey export, builds one analysis task per free-text
question column, runs every task through the staged pipeline under the
concurrency cap, and writes JSON and Markdown reports.

Example:
  insightminer run survey.csv --out reports/`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalysis,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "ingest and report detected questions without calling the generator")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "", "report output directory (default from config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max tasks in flight (default from config)")
	runCmd.Flags().StringSliceVar(&runQuestions, "questions", nil, "explicit question column headers")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "skip recording the run in history")
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	input := args[0]
	tasks, err := ingest.LoadFile(input, ingestOptions())
	if err != nil {
		return err
	}

	if runDryRun {
		fmt.Printf("Detected %d question column(s) in %s:\n", len(tasks), input)
		for _, task := range tasks {
			fmt.Printf("  %-4s %q (%d/%d respondents answered)\n",
				task.TaskID, task.Question, task.Stats.NonEmpty, task.Stats.Respondents)
		}
		return nil
	}

	gen, err := buildGenerator(ctx)
	if err != nil {
		return err
	}

	pipe := pipeline.New(gen, pipelineConfig())
	orch := orchestrator.New(pipe, orchestratorConfig())

	startedAt := time.Now()
	runReport := orch.RunAll(ctx, tasks)

	runID := recordRun(input, startedAt, runReport)
	if err := writeReports(runID, runReport); err != nil {
		return err
	}
	printSummary(runReport)

	if runReport.FullSuccesses+runReport.PartialSuccesses == 0 && runReport.Failures > 0 {
		return fmt.Errorf("all %d tasks failed", runReport.Failures)
	}
	return nil
}

// buildGenerator constructs the configured generator wrapped in the
// transient-error retry layer.
func buildGenerator(ctx context.Context) (types.Generator, error) {
	var inner types.Generator
	switch cfg.LLM.Provider {
	case "gemini", "":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("no API key: set GEMINI_API_KEY or llm.api_key")
		}
		g, err := llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
			APIKey:          cfg.LLM.APIKey,
			Model:           cfg.LLM.Model,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Temperature:     cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init gemini generator: %w", err)
		}
		inner = g
	case "mock":
		inner = llm.NewMockGenerator()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	return llm.NewRetryingGenerator(inner, llm.RetryConfig{
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  config.Duration(cfg.LLM.RetryBackoffBase, 500*time.Millisecond),
		MaxDelay:   config.Duration(cfg.LLM.RetryBackoffMax, 30*time.Second),
	}), nil
}

func ingestOptions() ingest.Options {
	opts := ingest.Options{
		QuestionColumns:  cfg.Ingest.QuestionColumns,
		IDColumn:         cfg.Ingest.IDColumn,
		MinDistinctRatio: cfg.Ingest.MinDistinctRatio,
	}
	if len(runQuestions) > 0 {
		opts.QuestionColumns = runQuestions
	}
	return opts
}

func pipelineConfig() pipeline.Config {
	return pipeline.Config{
		MinCategories:      cfg.Pipeline.MinCategories,
		MaxCategories:      cfg.Pipeline.MaxCategories,
		BatchThreshold:     cfg.Pipeline.BatchThreshold,
		EvidenceMaxRetries: cfg.Pipeline.EvidenceMaxRetries,
		ErrorFeedbackLimit: cfg.Pipeline.ErrorFeedbackLimit,
		Batch: batch.Config{
			BatchSize:       cfg.Batch.BatchSize,
			AcceptThreshold: cfg.Batch.AcceptThreshold,
			MaxRetries:      cfg.Batch.MaxRetries,
			BaseDelay:       config.Duration(cfg.Batch.BaseDelay, time.Second),
			MaxDelay:        config.Duration(cfg.Batch.MaxDelay, 30*time.Second),
		},
		Validator: validate.Config{
			CaseSensitive:       cfg.Validator.CaseSensitive,
			PreservePunctuation: cfg.Validator.PreservePunctuation,
			MultiPartSeparator:  cfg.Validator.MultiPartSeparator,
			MinExcerptWords:     cfg.Validator.MinExcerptWords,
			MaxExcerptChars:     cfg.Validator.MaxExcerptChars,
		},
	}
}

func orchestratorConfig() orchestrator.Config {
	concurrency := cfg.Orchestrator.Concurrency
	if runConcurrency > 0 {
		concurrency = runConcurrency
	}
	return orchestrator.Config{
		Concurrency: concurrency,
		TaskTimeout: config.Duration(cfg.Orchestrator.TaskTimeout, 5*time.Minute),
		Score: orchestrator.ScoreConfig{
			MissingCategories:  cfg.Orchestrator.CategoriesPenalty,
			MissingAssignments: cfg.Orchestrator.AssignmentsPenalty,
			MissingExcerpts:    cfg.Orchestrator.ExcerptsPenalty,
			MissingSummary:     cfg.Orchestrator.SummaryPenalty,
			ValidationFailed:   cfg.Orchestrator.ValidationPenalty,
			PartialWeight:      cfg.Orchestrator.PartialWeight,
		},
	}
}

// recordRun persists the run when history is enabled; persistence failures
// are reported but never fail the analysis itself.
func recordRun(input string, startedAt time.Time, runReport *orchestrator.RunReport) string {
	if runNoStore || !cfg.Store.Enabled {
		return ""
	}
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run history unavailable: %v\n", err)
		return ""
	}
	defer s.Close()

	runID, err := s.RecordRun(input, startedAt, runReport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record run: %v\n", err)
		return ""
	}
	return runID
}

func writeReports(runID string, runReport *orchestrator.RunReport) error {
	dir := cfg.Output.Dir
	if runOutDir != "" {
		dir = runOutDir
	}
	w, err := report.NewWriter(dir)
	if err != nil {
		return err
	}
	if runID == "" {
		runID = fmt.Sprintf("%d", time.Now().Unix())
	}
	jsonPath, mdPath, err := w.Write(runID, runReport)
	if err != nil {
		return err
	}
	fmt.Printf("Reports written:\n  %s\n  %s\n", jsonPath, mdPath)
	return nil
}

func printSummary(runReport *orchestrator.RunReport) {
	fmt.Printf("\n%d tasks: %d full, %d partial, %d failed, %d skipped (%.1f%% weighted completion) in %s\n",
		runReport.Total, runReport.FullSuccesses, runReport.PartialSuccesses,
		runReport.Failures, runReport.Skipped, runReport.WeightedCompletionRate*100,
		runReport.Elapsed.Round(time.Millisecond))
	for _, rec := range runReport.Recommendations {
		fmt.Printf("Recommendation [%s]: %s\n", rec.Strategy, rec.Reason)
	}
}
