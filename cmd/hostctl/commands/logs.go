package commands

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/dispatch"
	"github.com/snackbag/hostctl/pkg/logtail"
)

func newLogsCommand() *cobra.Command {
	var (
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "logs <project>",
		Short: "Show a project's logs",
		Long: `Show the project's log tail.

Supervised processes log through syslog into a dedicated file; web-only
projects fall back to the web server's per-hostname error and access
logs. With --follow the routed log is streamed until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				err := d.Logs(ctx, args[0], follow, lines, os.Stdout)
				// ^C while following is a clean exit.
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream appended log lines until interrupted")
	cmd.Flags().IntVar(&lines, "lines", logtail.DefaultTailLines, "number of trailing lines to show")

	return cmd
}
