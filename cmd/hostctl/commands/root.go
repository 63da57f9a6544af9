package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/snackbag/hostctl/pkg/config"
	"github.com/snackbag/hostctl/pkg/dispatch"
	"github.com/snackbag/hostctl/pkg/journal"
	"github.com/snackbag/hostctl/pkg/pipeline"
	"github.com/snackbag/hostctl/pkg/resources"
	"github.com/snackbag/hostctl/pkg/store"
	"github.com/snackbag/hostctl/pkg/telemetry"
)

var (
	// Global flags
	configPath    string
	debug         int
	dryRun        bool
	timeoutSec    int
	metricsListen string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostctl",
		Short: "hostctl - hosted project lifecycle orchestrator",
		Long: `hostctl provisions and tears down hosted projects on this machine.

A project is described by a small descriptor and realized as a set of
OS-level resources: a UNIX account, a deploy key, a source checkout, a
language runtime, a web-server virtual host, a supervised process and
syslog routing, depending on the project type.

Supported types:
  static_site    files served straight from the checkout
  redirect_site  permanent redirect to another hostname
  wsgi_site      Python web application embedded in the web server
  discord_bot    supervised Python process without a web presence
  go_site        supervised Go process behind a reverse proxy
  proxy          reverse proxy to a local port`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			telemetry.SetupLogging(debug)
		},
		SilenceUsage: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().CountVarP(&debug, "debug", "d", "increase log verbosity (repeatable, up to -ddd)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "report intended actions without executing them")
	rootCmd.PersistentFlags().IntVar(&timeoutSec, "timeout", 30, "per-command timeout in seconds")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address for the duration of the command")

	// Add subcommands
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newRestartCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// runWithDispatcher wires the dispatcher from the global flags and hands it
// to fn. The journal is best-effort: when it cannot be opened the operation
// proceeds without history.
func runWithDispatcher(cmd *cobra.Command, fn func(ctx context.Context, d *dispatch.Dispatcher) error) error {
	ctx := cmd.Context()

	cfg, err := config.LoadDefault(configPath)
	if err != nil {
		return err
	}
	st, err := store.NewFileStore(cfg.StateDir)
	if err != nil {
		return err
	}

	mode := pipeline.Mode{
		DryRun:    dryRun,
		Verbosity: debug,
		Timeout:   time.Duration(timeoutSec) * time.Second,
	}

	engine := &pipeline.Engine{}
	if metricsListen != "" {
		m := telemetry.NewMetrics()
		engine.Metrics = m
		go func() {
			if err := m.Serve(metricsListen); err != nil {
				log.Warn().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	var j *journal.Journal
	if cfg.JournalPath != "" && !dryRun {
		j, err = journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			log.Warn().Err(err).Msg("operation journal unavailable, continuing without it")
			j = nil
		} else {
			engine.Journal = j
			defer j.Close()
		}
	}

	d := dispatch.New(dispatch.Options{
		Config:  cfg,
		Store:   st,
		Runner:  resources.NewRunner(mode),
		Engine:  engine,
		Mode:    mode,
		Journal: j,
	})
	return fn(ctx, d)
}
