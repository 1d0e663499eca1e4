package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"insightminer/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent analysis runs",
	RunE:  listRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show per-task outcomes of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  showRun,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "max runs to list")
	runsCmd.AddCommand(runsShowCmd)
}

func listRuns(cmd *cobra.Command, args []string) error {
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	fmt.Printf("%-36s  %-19s  %-24s  %5s  %5s  %6s\n",
		"RUN", "STARTED", "INPUT", "TASKS", "FAIL", "RATE")
	for _, r := range runs {
		fmt.Printf("%-36s  %-19s  %-24s  %5d  %5d  %5.1f%%\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(r.Input, 24), r.Total, r.Failures, r.WeightedCompletionRate*100)
	}
	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	tasks, err := s.GetRunTasks(args[0])
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("run %s not found", args[0])
	}

	for _, t := range tasks {
		fmt.Printf("%-4s %-15s score=%-3d %-10s %s\n",
			t.TaskID, t.Outcome, t.QualityScore, t.QualityLabel, truncate(t.Question, 60))
		if t.Error != "" {
			fmt.Printf("     error: %s\n", t.Error)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
