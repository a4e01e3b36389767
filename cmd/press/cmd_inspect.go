package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"patternpress/internal/kernel"
	"patternpress/internal/pipeline"
)

func (a *app) validateCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "validate <kernel>",
		Short: "Re-validate a stage checkpoint against its kernel",
		Long: `Runs the validator of one stage against the existing checkpoint and prints a
markdown report. Exits 1 when the report has structural violations.

Example:
  press validate kernels/The_Giver_kernel.json --stage stage3_angles`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := kernel.Load(args[0])
			if err != nil {
				return err
			}
			orch, closeFn, err := a.orchestrator(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := orch.Revalidate(k.Slug(), stage, k)
			if err != nil {
				return err
			}

			md := report.Markdown()
			out := md
			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
			if err == nil {
				if rendered, rerr := r.Render(md); rerr == nil {
					out = rendered
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), out)

			if !report.Passed() {
				return fmt.Errorf("%s has %d violations", stage, len(report.Violations))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&stage, "stage", "s", "", "Stage to validate, e.g. stage2_themes")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <slug>",
		Short: "List the checkpoints of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			orch, closeFn, err := a.orchestrator(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := orch.Store().List(slug)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No checkpoints for %s\n", slug)
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				p, err := pipeline.FindPipeline(e.Stage)
				if err != nil {
					p = "-"
				}
				rows = append(rows, []string{e.Stage, p, strconv.FormatInt(e.Size, 10), e.ModTime.Format(time.DateTime)})
			}
			fmt.Fprintf(out, "%s  (%s)\n", slug, orch.Store().RunDir(slug))
			fmt.Fprintln(out, renderTable(-1, []string{"Stage", "Pipeline", "Bytes", "Written"}, rows))
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history [slug]",
		Short: "Show past runs from the ledger",
		Long: `Lists recent runs, newest first. With --run, shows the stages and LLM calls
of one run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLedger()
			if err != nil {
				return err
			}
			defer l.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if runID != "" {
				stages, err := l.Stages(ctx, runID)
				if err != nil {
					return err
				}
				if len(stages) == 0 {
					return fmt.Errorf("no stages recorded for run %s", runID)
				}
				rows := make([][]string, 0, len(stages))
				for _, s := range stages {
					rows = append(rows, []string{s.Stage, s.Status, s.Duration.String(), strconv.Itoa(s.Warnings), firstLine(s.Err)})
				}
				fmt.Fprintln(out, renderTable(1, []string{"Stage", "Status", "Time", "Warnings", "Error"}, rows))

				traces, err := l.Traces(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d LLM calls\n", len(traces))
				return nil
			}

			slug := ""
			if len(args) == 1 {
				slug = args[0]
			}
			runs, err := l.History(ctx, slug, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				finished := "-"
				if !r.FinishedAt.IsZero() {
					finished = r.FinishedAt.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{r.ID, r.Slug, r.Pipeline, r.Status, r.StartedAt.Local().Format(time.DateTime), finished})
			}
			fmt.Fprintln(out, renderTable(3, []string{"Run", "Slug", "Pipeline", "Status", "Started", "Finished"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "Show the stages of one run")
	return cmd
}
