// insightminer analyzes free-text survey answers with an external text
// generator, verifying every quoted excerpt verbatim against its source.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"insightminer/internal/config"
	"insightminer/internal/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Loaded configuration, available to all subcommands after PreRun.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "insightminer",
	Short: "insightminer - verified survey-answer analysis",
	Long: `insightminer runs free-text survey answers through a staged analysis
pipeline (categorize, classify, extract evidence, summarize) backed by an
external text generator.

Every quoted excerpt is mechanically verified to exist verbatim in the
respondent's answer; fabricated quotes are caught, retried with feedback,
and reported. Tasks run concurrently under a bounded fan-out, and the run
always completes with a full per-task report.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(logging.Config{
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
