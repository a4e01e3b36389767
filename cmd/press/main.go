package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "press",
		Short: "patternpress - turn literary-analysis kernels into study pages and copy",
		Long: `patternpress runs a kernel through a staged pipeline. Every stage output is
checkpointed under <output_dir>/<slug>/stages/, so an interrupted run resumes
where it stopped and a finished stage is never derived twice.

Pipelines:
  content    extraction, themes, theses, pages, translation, render
  marketing  extraction, audience, angles, drafts, evaluation, refined
  layers     extraction, four-layer plain-language summary`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "press.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log to stderr at debug level")
	rootCmd.PersistentFlags().StringVarP(&a.outputDir, "output-dir", "o", "", "Override paths.output_dir")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 2*time.Hour, "Overall operation timeout")

	rootCmd.AddCommand(
		a.runCmd(),
		a.batchCmd(),
		a.watchCmd(),
		a.validateCmd(),
		a.renderCmd(),
		a.publishCmd(),
		a.statusCmd(),
		a.historyCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
