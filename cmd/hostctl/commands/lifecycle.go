package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/dispatch"
)

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <project>",
		Short: "Bring a stopped project back into service",
		Long: `Bring a stopped project back into service.

The supervised process (if any) is started before the web server routes
traffic to it again. Starting a running project is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				return d.Start(ctx, args[0])
			})
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <project>",
		Short: "Take a project out of service without destroying anything",
		Long: `Take a project out of service.

The web server stops routing to the project first, then the supervised
process (if any) is stopped. All resources and the descriptor stay in
place; start reverses the operation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				return d.Stop(ctx, args[0])
			})
		},
	}
}

func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <project>",
		Short: "Restart whatever serves the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				return d.Restart(ctx, args[0])
			})
		},
	}
}
