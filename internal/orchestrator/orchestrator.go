// Package orchestrator fans a batch of independent tasks out across a
// bounded number of concurrently running pipelines and folds every outcome
// into one run-level report. A task's failure, timeout, or panic never
// aborts the run or its siblings; it becomes that task's result.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"insightminer/internal/logging"
	"insightminer/internal/pipeline"
	"insightminer/internal/types"
)

// Config bounds the fan-out and carries the scoring policy.
type Config struct {
	Concurrency int           `yaml:"concurrency"`  // pipelines in flight at once (default 6)
	TaskTimeout time.Duration `yaml:"task_timeout"` // per-task wall clock bound (default 5m)
	Score       ScoreConfig   `yaml:"score"`
}

// DefaultConfig returns the standard fan-out policy.
func DefaultConfig() Config {
	return Config{
		Concurrency: 6,
		TaskTimeout: 5 * time.Minute,
		Score:       DefaultScoreConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	c.Score = c.Score.withDefaults()
	return c
}

// Orchestrator runs tasks through a shared pipeline under the concurrency
// cap. The pipeline instance is stateless per task, so one is enough.
type Orchestrator struct {
	pipe *pipeline.Pipeline
	cfg  Config
}

// New creates an orchestrator around a constructed pipeline.
func New(pipe *pipeline.Pipeline, cfg Config) *Orchestrator {
	return &Orchestrator{pipe: pipe, cfg: cfg.withDefaults()}
}

// RunAll executes every task, at most cfg.Concurrency in flight, and
// returns the aggregated report with results in submission order. It never
// returns an error: per-task failures are classified into the report, and
// caller cancellation simply converts the remaining tasks to failures.
func (o *Orchestrator) RunAll(ctx context.Context, tasks []types.Task) *RunReport {
	started := time.Now()
	logging.Orchestrator("starting run: %d tasks, concurrency %d, per-task timeout %v",
		len(tasks), o.cfg.Concurrency, o.cfg.TaskTimeout)

	results := make([]TaskResult, len(tasks))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, task := range tasks {
		if len(task.Items) == 0 {
			results[i] = TaskResult{
				TaskID:  task.TaskID,
				Outcome: OutcomeSkipped,
			}
			logging.Orchestrator("task %s: skipped (no items)", task.TaskID)
			continue
		}

		i, task := i, task
		g.Go(func() error {
			results[i] = o.runOne(ctx, task)
			return nil
		})
	}
	// Workers always return nil; errors live inside the results.
	_ = g.Wait()

	report := o.aggregate(results)
	report.Elapsed = time.Since(started)
	logging.Orchestrator("run complete in %v: %d full, %d partial, %d failed, %d skipped (weighted rate %.1f%%)",
		report.Elapsed, report.FullSuccesses, report.PartialSuccesses, report.Failures,
		report.Skipped, report.WeightedCompletionRate*100)
	return report
}

// runOne executes a single task under its timeout, converting panics and
// pipeline errors into a classified result.
func (o *Orchestrator) runOne(ctx context.Context, task types.Task) (result TaskResult) {
	started := time.Now()

	taskCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryOrchestrator).Error("task %s: pipeline panicked: %v", task.TaskID, r)
			result = TaskResult{
				TaskID:   task.TaskID,
				Outcome:  OutcomeFailure,
				Err:      fmt.Sprintf("pipeline panicked: %v", r),
				Duration: time.Since(started),
				Failures: []ComponentFailure{{
					Component:   "pipeline",
					Severity:    SeverityCritical,
					Description: fmt.Sprintf("panic: %v", r),
				}},
			}
		}
	}()

	state, err := o.pipe.Run(taskCtx, task)
	result = o.classify(task, state, err)
	result.Duration = time.Since(started)
	logging.OrchestratorDebug("task %s: %s (score %d) in %v",
		task.TaskID, result.Outcome, result.QualityScore, result.Duration)
	return result
}
