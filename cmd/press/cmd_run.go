package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"patternpress/internal/kernel"
	"patternpress/internal/pipeline"
)

type runFlags struct {
	title      string
	pipeline   string
	resumeFrom string
	stopAfter  string
	render     bool
	strict     bool
}

func (f *runFlags) register(cmd *cobra.Command, withTitle bool) {
	if withTitle {
		cmd.Flags().StringVar(&f.title, "title", "", "Find the newest <Title>_kernel*.json in paths.kernel_dir")
	}
	cmd.Flags().StringVarP(&f.pipeline, "pipeline", "p", "", "content, marketing or layers (default: pipeline.name)")
	cmd.Flags().StringVar(&f.resumeFrom, "resume-from", "", "First stage to run; earlier checkpoints must exist")
	cmd.Flags().StringVar(&f.stopAfter, "stop-after", "", "Last stage to run")
	cmd.Flags().BoolVar(&f.render, "render", false, "Render the HTML site (content pipeline)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Fail a stage on any validation warning")
}

func (a *app) runOptions(f *runFlags) pipeline.RunOptions {
	name := f.pipeline
	if name == "" {
		name = a.cfg.Pipeline.Name
	}
	return pipeline.RunOptions{
		Pipeline:   name,
		ResumeFrom: f.resumeFrom,
		StopAfter:  f.stopAfter,
		Render:     f.render,
		Strict:     f.strict,
	}
}

func (a *app) runCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [kernel]",
		Short: "Run one kernel through a pipeline",
		Long: `Runs the stages of a pipeline for one kernel. Stages with an existing
checkpoint are loaded, not re-derived.

Examples:
  press run kernels/The_Giver_kernel.json
  press run --title "The Giver" --pipeline marketing
  press run kernels/The_Giver_kernel.json --resume-from stage3_theses --render`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveKernel(args, f.title)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			orch, closeFn, err := a.orchestrator(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := orch.Run(ctx, path, a.runOptions(f))
			if res != nil {
				printRun(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	f.register(cmd, true)
	return cmd
}

func (a *app) resolveKernel(args []string, title string) (string, error) {
	switch {
	case len(args) == 1 && title != "":
		return "", errors.New("give either a kernel path or --title, not both")
	case len(args) == 1:
		return args[0], nil
	case title != "":
		return kernel.FindLatest(a.cfg.Paths.KernelDir, title)
	}
	return "", errors.New("a kernel path or --title is required")
}

func (a *app) batchCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "batch [dir]",
		Short: "Run every *_kernel*.json in a directory",
		Long: `Discovers kernels in dir (default: paths.kernel_dir) and runs each one.
pipeline.batch_concurrency kernels run at a time; one failing kernel does not
stop the others.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Paths.KernelDir
			if len(args) == 1 {
				dir = args[0]
			}
			kernels, err := kernel.Discover(dir)
			if err != nil {
				return err
			}
			if len(kernels) == 0 {
				return fmt.Errorf("no kernels found in %s", dir)
			}

			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			orch, closeFn, err := a.orchestrator(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			items := pipeline.NewBatch(orch, a.cfg.Pipeline.BatchConcurrency).RunAll(ctx, kernels, a.runOptions(f))
			failed := printBatch(cmd.OutOrStdout(), items)
			if failed > 0 {
				return fmt.Errorf("%d of %d kernels failed", failed, len(items))
			}
			return nil
		},
	}
	f.register(cmd, false)
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Rerun kernels when their files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Paths.KernelDir
			if len(args) == 1 {
				dir = args[0]
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			orch, closeFn, err := a.orchestrator(ctx, true)
			if err != nil {
				return err
			}
			defer closeFn()

			w, err := pipeline.NewWatcher(orch, dir, a.runOptions(f))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			w.OnResult(func(path string, res *pipeline.RunResult, err error) {
				if res != nil {
					printRun(out, res)
				}
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
				}
			})
			if err := w.Start(ctx); err != nil {
				w.Stop()
				return err
			}
			fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", dir)

			select {
			case <-ctx.Done():
			case <-w.Done():
			}
			w.Stop()
			return nil
		},
	}
	f.register(cmd, false)
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	okStyle     = cellStyle.Foreground(lipgloss.Color("10"))
	dimStyle    = cellStyle.Foreground(lipgloss.Color("8"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(pipeline.StatusFailed), "failed":
		return failStyle
	case string(pipeline.StatusCompleted), "succeeded":
		return okStyle
	case string(pipeline.StatusSkipped), string(pipeline.StatusCached):
		return dimStyle
	}
	return cellStyle
}

// renderTable draws a bordered table whose statusCol column is coloured by
// value.
func renderTable(statusCol int, headers []string, rows [][]string) string {
	t := table.New().Border(lipgloss.RoundedBorder()).Headers(headers...).Rows(rows...)
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if col == statusCol && row >= 0 && row < len(rows) {
			return statusStyle(rows[row][col])
		}
		return cellStyle
	})
	return t.Render()
}

func printRun(w io.Writer, res *pipeline.RunResult) {
	rows := make([][]string, 0, len(res.Stages))
	for _, s := range res.Stages {
		note := ""
		if s.Err != nil {
			note = s.Err.Error()
		} else if s.Warnings > 0 {
			note = fmt.Sprintf("%d warnings", s.Warnings)
		}
		rows = append(rows, []string{s.Stage, string(s.Status), s.Duration.Round(time.Millisecond).String(), note})
	}
	fmt.Fprintf(w, "%s  %s pipeline  run %s\n", res.Slug, res.Pipeline, res.RunID)
	fmt.Fprintln(w, renderTable(1, []string{"Stage", "Status", "Time", "Notes"}, rows))
}

func printBatch(w io.Writer, items []pipeline.BatchItem) int {
	failed := 0
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		status, slug, note := "succeeded", "", ""
		if it.Result != nil {
			slug = it.Result.Slug
		}
		if it.Err != nil {
			failed++
			status = "failed"
			note = firstLine(it.Err.Error())
		}
		rows = append(rows, []string{it.KernelPath, slug, status, note})
	}
	fmt.Fprintln(w, renderTable(2, []string{"Kernel", "Slug", "Status", "Error"}, rows))
	return failed
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
