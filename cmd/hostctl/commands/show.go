package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/dispatch"
)

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [project]",
		Short: "Show one descriptor, or list all projects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				if len(args) == 1 {
					p, err := d.Show(ctx, args[0])
					if err != nil {
						return err
					}
					data, err := json.MarshalIndent(p, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(data))
					return nil
				}

				projects, err := d.Projects(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PROJECT\tTYPE\tHOSTNAME\tUSERNAME")
				for _, p := range projects {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Project, p.Type, p.Hostname, p.Username)
				}
				return w.Flush()
			})
		},
	}
}
