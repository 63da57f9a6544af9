package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/dispatch"
)

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project>",
		Short: "Tear down a project and remove its descriptor",
		Long: `Tear down a project's resources in reverse creation order.

The descriptor is removed last, so an interrupted delete can simply be
rerun: steps whose resource is already gone succeed quietly. Routed log
files are retained.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				if err := d.Delete(ctx, args[0]); err != nil {
					return err
				}
				if !dryRun {
					fmt.Printf("project %q deleted\n", args[0])
				}
				return nil
			})
		},
	}
	return cmd
}
