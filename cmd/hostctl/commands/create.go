package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/descriptor"
	"github.com/snackbag/hostctl/pkg/dispatch"
)

var createShorts = map[descriptor.Type]string{
	descriptor.StaticSite:   "Serve static files from a source checkout",
	descriptor.RedirectSite: "Redirect a hostname to another hostname",
	descriptor.WSGISite:     "Run a Python web application in the web server",
	descriptor.DiscordBot:   "Run a supervised Python process without a web presence",
	descriptor.GoSite:       "Run a supervised Go process behind a reverse proxy",
	descriptor.Proxy:        "Reverse-proxy a hostname to a local port",
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new project",
		Long: `Provision a new project of the given type.

Creation runs the type's pipeline step by step and persists the project
descriptor last, so a failed create leaves no record claiming the project
exists. Partially created resources are cleaned up by running delete.`,
		Example: `  # Static site with all defaults (hostname blog.<domain>, user blog)
  hostctl create static_site blog --github git@github.com:kris/blog.git

  # Redirect an old hostname
  hostctl create redirect_site old --hostname old.example.org --to-hostname new.example.org

  # Supervised Go process reachable via reverse proxy
  hostctl create go_site shop --github git@github.com:kris/shop.git --port 9000`,
	}
	for _, t := range descriptor.Types {
		cmd.AddCommand(newCreateTypeCommand(t))
	}
	return cmd
}

func newCreateTypeCommand(t descriptor.Type) *cobra.Command {
	var (
		hostname   string
		github     string
		username   string
		projectDir string
		toHostname string
		port       int
	)

	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <project>", t),
		Short: createShorts[t],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &descriptor.Project{
				Type:       t,
				Project:    args[0],
				Hostname:   hostname,
				GitHub:     github,
				Username:   username,
				ProjectDir: projectDir,
				ToHostname: toHostname,
				Port:       port,
			}
			return runWithDispatcher(cmd, func(ctx context.Context, d *dispatch.Dispatcher) error {
				if err := d.Create(ctx, p); err != nil {
					return err
				}
				if dryRun {
					return nil
				}
				fmt.Printf("project %q created\n", p.Project)
				if p.PubKey != "" {
					fmt.Printf("register this deploy key with %s:\n%s", p.GitHost(), p.PubKey)
				}
				return nil
			})
		},
	}

	if t.HasWebServer() {
		cmd.Flags().StringVar(&hostname, "hostname", "", "served hostname (defaults to <project>.<default domain>)")
	}
	if t.HasRepo() {
		cmd.Flags().StringVar(&github, "github", "", "SSH remote of the source repository (git@host:owner/repo.git)")
		cmd.Flags().StringVar(&username, "username", "", "UNIX account name (defaults to the project name)")
		cmd.Flags().StringVar(&projectDir, "project-dir", "", "checkout directory under the home (defaults to the username)")
		cmd.MarkFlagRequired("github")
	}
	if t == descriptor.RedirectSite {
		cmd.Flags().StringVar(&toHostname, "to-hostname", "", "hostname to redirect to")
		cmd.MarkFlagRequired("to-hostname")
	}
	if t == descriptor.Proxy || t == descriptor.GoSite {
		cmd.Flags().IntVar(&port, "port", 0, "local port the backend listens on")
		cmd.MarkFlagRequired("port")
	}

	return cmd
}
