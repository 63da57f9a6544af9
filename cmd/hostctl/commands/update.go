package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/dispatch"
)

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update <project>",
		Short: "Pull the latest source and redeploy",
		Long: `Refresh the project's checkout to the remote tip, rebuild its
runtime and restart whatever executes the code. Local modifications in
the checkout are discarded.

Types without a source checkout (redirect_site, proxy) cannot be
updated; change their descriptor by deleting and recreating them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				if err := d.Update(ctx, args[0]); err != nil {
					return err
				}
				if !dryRun {
					fmt.Printf("project %q updated\n", args[0])
				}
				return nil
			})
		},
	}
}
