package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/dispatch"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history [project]",
		Short: "Show recorded pipeline runs",
		Long: `Show recorded pipeline runs, newest first, optionally filtered by
project. With --run the step events of one run are shown instead.

The journal is observational: dry runs are never recorded, and runs
executed while the journal was unavailable are missing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				if runID != "" {
					return printRunSteps(ctx, d, runID)
				}
				project := ""
				if len(args) == 1 {
					project = args[0]
				}
				return printRuns(ctx, d, project, limit)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "show the step events of this run instead")

	return cmd
}

func printRuns(ctx context.Context, d *dispatch.Dispatcher, project string, limit int) error {
	runs, err := d.History(ctx, project, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROJECT\tOPERATION\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Project, r.Operation, r.Status,
			r.StartedAt.Local().Format(time.RFC3339), duration)
	}
	return w.Flush()
}

func printRunSteps(ctx context.Context, d *dispatch.Dispatcher, runID string) error {
	steps, err := d.RunSteps(ctx, runID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tAT\tMESSAGE")
	for _, s := range steps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.Step, s.Status, s.CreatedAt.Local().Format(time.RFC3339), s.Message)
	}
	return w.Flush()
}
