// Package dispatch maps operations onto pipelines: it resolves the
// descriptor, gates on the operator allow-list, serializes per-project via
// the store lock, binds the registry's step names to resource-manager
// methods and hands the resulting sequence to the pipeline engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/snackbag/hostctl/pkg/config"
	"github.com/snackbag/hostctl/pkg/descriptor"
	"github.com/snackbag/hostctl/pkg/journal"
	"github.com/snackbag/hostctl/pkg/logtail"
	"github.com/snackbag/hostctl/pkg/pipeline"
	"github.com/snackbag/hostctl/pkg/registry"
	"github.com/snackbag/hostctl/pkg/resources"
	"github.com/snackbag/hostctl/pkg/store"
	"github.com/snackbag/hostctl/pkg/telemetry"
)

// Options configures a Dispatcher.
type Options struct {
	Config *config.Config
	Store  *store.FileStore
	Runner resources.Runner
	Engine *pipeline.Engine
	Mode   pipeline.Mode

	// Journal backs the history operation. Optional; the pipeline engine
	// carries its own recorder reference.
	Journal *journal.Journal

	// Out receives operation output (dry-run notices, log dumps).
	// Defaults to stdout.
	Out io.Writer

	// Operator overrides the invoking-user lookup. Empty means the real
	// current OS user.
	Operator string

	// AccountLookup overrides OS account resolution. Nil means the real
	// lookup.
	AccountLookup func(username string) (*user.User, error)
}

// Dispatcher executes the lifecycle operations.
type Dispatcher struct {
	cfg      *config.Config
	store    *store.FileStore
	run      resources.Runner
	engine   *pipeline.Engine
	mode     pipeline.Mode
	journal  *journal.Journal
	out      io.Writer
	operator string

	registry   *registry.Registry
	accounts   *resources.AccountManager
	keys       *resources.DeployKeyManager
	checkouts  *resources.CheckoutManager
	runtimes   *resources.RuntimeManager
	web        *resources.WebServerManager
	supervisor *resources.SupervisorManager
	logRouting *resources.LogRoutingManager

	log zerolog.Logger
}

// New wires a dispatcher and its resource managers.
func New(opts Options) *Dispatcher {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	accounts := resources.NewAccountManager(opts.Runner)
	if opts.AccountLookup != nil {
		accounts.Lookup = opts.AccountLookup
	}
	d := &Dispatcher{
		cfg:      opts.Config,
		store:    opts.Store,
		run:      opts.Runner,
		engine:   opts.Engine,
		mode:     opts.Mode,
		journal:  opts.Journal,
		out:      opts.Out,
		operator: opts.Operator,

		registry:   registry.New(opts.Store, accounts),
		accounts:   accounts,
		keys:       resources.NewDeployKeyManager(opts.Runner, accounts),
		checkouts:  resources.NewCheckoutManager(opts.Runner, accounts),
		runtimes:   resources.NewRuntimeManager(opts.Runner, accounts),
		web:        resources.NewWebServerManager(opts.Runner, opts.Config),
		supervisor: resources.NewSupervisorManager(opts.Runner, opts.Config),
		logRouting: resources.NewLogRoutingManager(opts.Runner, opts.Config),

		log: telemetry.NewComponentLogger("dispatch"),
	}
	return d
}

// Create validates the descriptor, fills its defaults and runs the create
// pipeline for its type. The descriptor is persisted only as the final
// step, so a failed create leaves no record claiming the project exists.
func (d *Dispatcher) Create(ctx context.Context, p *descriptor.Project) error {
	if err := d.checkOperator(); err != nil {
		return err
	}

	p.ApplyDefaults(d.cfg.DefaultDomain)
	if err := d.registry.ValidateCreate(ctx, p); err != nil {
		return err
	}

	unlock, err := d.lock(p.Project)
	if err != nil {
		return err
	}
	defer unlock()

	names, err := registry.CreateSteps(p.Type)
	if err != nil {
		return err
	}
	steps := make([]pipeline.Step, 0, len(names))
	for _, name := range names {
		steps = append(steps, d.createStep(name))
	}

	if err := d.engine.Execute(ctx, "create", p, steps, d.mode); err != nil {
		return err
	}
	d.updateProjectCount(ctx)
	return nil
}

// Delete tears down the project's resources in reverse create order and
// removes the descriptor last, so an interrupted delete can simply be
// rerun.
func (d *Dispatcher) Delete(ctx context.Context, name string) error {
	p, err := d.loadForMutation(ctx, name)
	if err != nil {
		return err
	}

	unlock, err := d.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	stepNames, err := registry.DeleteSteps(p.Type)
	if err != nil {
		return err
	}
	steps := make([]pipeline.Step, 0, len(stepNames))
	for _, sn := range stepNames {
		steps = append(steps, d.deleteStep(sn))
	}

	if err := d.engine.Execute(ctx, "delete", p, steps, d.mode); err != nil {
		return err
	}
	d.updateProjectCount(ctx)
	return nil
}

// Start brings a stopped project back into service. The backend process
// comes up before traffic is routed to it.
func (d *Dispatcher) Start(ctx context.Context, name string) error {
	p, err := d.loadForMutation(ctx, name)
	if err != nil {
		return err
	}

	unlock, err := d.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	var steps []pipeline.Step
	if p.Type.HasSupervisor() {
		steps = append(steps, pipeline.Step{
			Name: registry.StepSupervisor,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				return d.supervisor.EnableAndStart(ctx, p.UnitName())
			},
		})
	}
	if p.Type.HasWebServer() {
		steps = append(steps, pipeline.Step{
			Name: registry.StepWebServer,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				if err := d.web.Enable(ctx, p.Hostname); err != nil {
					return err
				}
				return d.web.Reload(ctx)
			},
		})
	}
	return d.engine.Execute(ctx, "start", p, steps, d.mode)
}

// Stop takes a project out of service without destroying anything.
// Traffic routing goes first so the backend drains instead of erroring.
func (d *Dispatcher) Stop(ctx context.Context, name string) error {
	p, err := d.loadForMutation(ctx, name)
	if err != nil {
		return err
	}

	unlock, err := d.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	var steps []pipeline.Step
	if p.Type.HasWebServer() {
		steps = append(steps, pipeline.Step{
			Name: registry.StepWebServer,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				if err := d.web.Disable(ctx, p.Hostname); err != nil {
					return err
				}
				return d.web.Reload(ctx)
			},
		})
	}
	if p.Type.HasSupervisor() {
		steps = append(steps, pipeline.Step{
			Name: registry.StepSupervisor,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				return d.supervisor.StopAndDisable(ctx, p.UnitName())
			},
		})
	}
	return d.engine.Execute(ctx, "stop", p, steps, d.mode)
}

// Restart bounces whatever serves the project: the supervised process, the
// web server, or both.
func (d *Dispatcher) Restart(ctx context.Context, name string) error {
	p, err := d.loadForMutation(ctx, name)
	if err != nil {
		return err
	}

	unlock, err := d.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	var steps []pipeline.Step
	if p.Type.HasSupervisor() {
		steps = append(steps, pipeline.Step{
			Name: registry.StepSupervisor,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				return d.supervisor.Restart(ctx, p.UnitName())
			},
		})
	}
	if p.Type.HasWebServer() {
		steps = append(steps, pipeline.Step{
			Name: registry.StepWebServer,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				return d.web.Reload(ctx)
			},
		})
	}
	return d.engine.Execute(ctx, "restart", p, steps, d.mode)
}

// Update refreshes the source checkout to the remote tip, rebuilds the
// runtime and restarts whatever executes the code. Types without a
// checkout have nothing to update.
func (d *Dispatcher) Update(ctx context.Context, name string) error {
	p, err := d.loadForMutation(ctx, name)
	if err != nil {
		return err
	}
	if !p.Type.HasRepo() {
		return pipeline.NewValidationError("type %s has no source checkout to update", p.Type)
	}

	unlock, err := d.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	steps := []pipeline.Step{{
		Name: registry.StepCheckout,
		Run: func(ctx context.Context, p *descriptor.Project) error {
			return d.checkouts.Update(ctx, p.Workdir(), p.Username)
		},
	}}
	if p.Type.RuntimeKind() != descriptor.RuntimeNone {
		steps = append(steps, d.createStep(registry.StepRuntime))
	}
	switch {
	case p.Type.HasSupervisor():
		steps = append(steps, pipeline.Step{
			Name: registry.StepSupervisor,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				return d.supervisor.Restart(ctx, p.UnitName())
			},
		})
	case p.Type == descriptor.WSGISite:
		// The embedded interpreter only picks up new code on a server
		// restart.
		steps = append(steps, pipeline.Step{
			Name: registry.StepWebServer,
			Run: func(ctx context.Context, p *descriptor.Project) error {
				return d.web.Reload(ctx)
			},
		})
	}
	return d.engine.Execute(ctx, "update", p, steps, d.mode)
}

// Logs writes the project's log tail to out, or streams appended lines
// until ctx is cancelled when follow is set.
func (d *Dispatcher) Logs(ctx context.Context, name string, follow bool, lines int, out io.Writer) error {
	if err := d.checkOperator(); err != nil {
		return err
	}
	p, err := d.get(ctx, name)
	if err != nil {
		return err
	}

	files := d.logFiles(p)
	if len(files) == 0 {
		return pipeline.NewValidationError("type %s has no logs", p.Type)
	}
	if follow {
		return logtail.Follow(ctx, out, files[0])
	}
	return logtail.Dump(out, files, lines)
}

// Show returns the descriptor for one project.
func (d *Dispatcher) Show(ctx context.Context, name string) (*descriptor.Project, error) {
	if err := d.checkOperator(); err != nil {
		return nil, err
	}
	return d.get(ctx, name)
}

// Projects returns all descriptors in project-name order.
func (d *Dispatcher) Projects(ctx context.Context) ([]*descriptor.Project, error) {
	if err := d.checkOperator(); err != nil {
		return nil, err
	}
	names, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	projects := make([]*descriptor.Project, 0, len(names))
	for _, name := range names {
		p, err := d.store.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// History returns recorded pipeline runs, newest first, optionally
// filtered by project.
func (d *Dispatcher) History(ctx context.Context, project string, limit int) ([]*journal.Run, error) {
	if err := d.checkOperator(); err != nil {
		return nil, err
	}
	if d.journal == nil {
		return nil, fmt.Errorf("operation journal is disabled")
	}
	return d.journal.ListRuns(ctx, project, limit)
}

// RunSteps returns the step events of one recorded run.
func (d *Dispatcher) RunSteps(ctx context.Context, runID string) ([]*journal.StepEvent, error) {
	if err := d.checkOperator(); err != nil {
		return nil, err
	}
	if d.journal == nil {
		return nil, fmt.Errorf("operation journal is disabled")
	}
	return d.journal.ListSteps(ctx, runID)
}

// createStep binds one registry step name to its manager method for the
// create pipeline. Steps that derive resource handles (home, public key)
// record them on the descriptor for the later steps and the final persist.
func (d *Dispatcher) createStep(name string) pipeline.Step {
	return pipeline.Step{Name: name, Run: func(ctx context.Context, p *descriptor.Project) error {
		switch name {
		case registry.StepAccount:
			home, err := d.accounts.Create(ctx, p.Username, "hostctl project "+p.Project)
			if err != nil {
				return err
			}
			p.Home = home
			return nil

		case registry.StepDeployKey:
			pubKey, err := d.keys.Create(ctx, p.Username, p.Home, p.GitHost())
			if err != nil {
				return err
			}
			p.PubKey = pubKey
			return nil

		case registry.StepCheckout:
			return d.checkouts.Clone(ctx, p.GitHub, p.Workdir(), p.Username)

		case registry.StepRuntime:
			switch p.Type.RuntimeKind() {
			case descriptor.RuntimePython:
				return d.runtimes.SetupPython(ctx, p.Username, p.Home, p.Workdir())
			case descriptor.RuntimeGo:
				return d.runtimes.SetupGo(ctx, p.Username, p.Workdir(), binaryPath(p))
			}
			return nil

		case registry.StepLogRouting:
			return d.logRouting.Create(ctx, p.UnitName())

		case registry.StepSupervisor:
			if err := d.supervisor.Create(ctx, p.UnitName(), p.Workdir(), p.Username, execCommand(p)); err != nil {
				return err
			}
			return d.supervisor.EnableAndStart(ctx, p.UnitName())

		case registry.StepWebServer:
			if err := d.web.Create(ctx, p); err != nil {
				return err
			}
			return d.web.Reload(ctx)

		case registry.StepDescriptor:
			if d.run.DryRun() {
				fmt.Fprintf(d.out, "would store descriptor for %q\n", p.Project)
				return nil
			}
			return d.store.Put(ctx, p.Project, p)

		default:
			return pipeline.NewValidationError("unknown step %q", name)
		}
	}}
}

// deleteStep binds one registry step name to its teardown method.
func (d *Dispatcher) deleteStep(name string) pipeline.Step {
	return pipeline.Step{Name: name, Run: func(ctx context.Context, p *descriptor.Project) error {
		switch name {
		case registry.StepWebServer:
			if err := d.web.Delete(ctx, p.Hostname); err != nil {
				return err
			}
			return d.web.Reload(ctx)

		case registry.StepSupervisor:
			return d.supervisor.Delete(ctx, p.UnitName())

		case registry.StepLogRouting:
			return d.logRouting.Delete(ctx, p.UnitName())

		case registry.StepAccount:
			return d.accounts.Delete(ctx, p.Username)

		case registry.StepDescriptor:
			if d.run.DryRun() {
				fmt.Fprintf(d.out, "would remove descriptor for %q\n", p.Project)
				return nil
			}
			return d.store.Delete(ctx, p.Project)

		default:
			return pipeline.NewValidationError("unknown step %q", name)
		}
	}}
}

// logFiles returns the log files the logs operation attaches to. Supervised
// processes route through syslog to a dedicated file; web-only projects
// fall back to the web server's per-hostname logs.
func (d *Dispatcher) logFiles(p *descriptor.Project) []string {
	if p.Type.HasSupervisor() {
		return []string{d.logRouting.LogPath(p.UnitName())}
	}
	if p.Type.HasWebServer() {
		return []string{
			d.web.ErrorLogPath(p.Hostname),
			d.web.AccessLogPath(p.Hostname),
		}
	}
	return nil
}

// loadForMutation gates on the operator allow-list and resolves the
// descriptor for a mutating operation.
func (d *Dispatcher) loadForMutation(ctx context.Context, name string) (*descriptor.Project, error) {
	if err := d.checkOperator(); err != nil {
		return nil, err
	}
	return d.get(ctx, name)
}

func (d *Dispatcher) get(ctx context.Context, name string) (*descriptor.Project, error) {
	p, err := d.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pipeline.NewNotFoundError("project %q does not exist", name)
		}
		return nil, err
	}
	return p, nil
}

func (d *Dispatcher) checkOperator() error {
	op := d.operator
	if op == "" {
		u, err := user.Current()
		if err != nil {
			return fmt.Errorf("failed to determine invoking user: %w", err)
		}
		op = u.Username
	}
	if !d.cfg.OperatorAllowed(op) {
		return pipeline.NewValidationError("user %q is not permitted to operate projects", op)
	}
	return nil
}

// lock serializes per-project mutations. Dry runs skip the lock so they
// leave no trace, not even a lock file.
func (d *Dispatcher) lock(name string) (func(), error) {
	if d.run.DryRun() {
		return func() {}, nil
	}
	l, err := d.store.Lock(name)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Unlock(); err != nil {
			d.log.Warn().Err(err).Str("project", name).Msg("failed to release project lock")
		}
	}, nil
}

func (d *Dispatcher) updateProjectCount(ctx context.Context) {
	if d.engine.Metrics == nil || d.run.DryRun() {
		return
	}
	names, err := d.store.List(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("failed to count projects")
		return
	}
	d.engine.Metrics.SetProjectCount(len(names))
}

// execCommand is the supervised process command line for a type.
func execCommand(p *descriptor.Project) string {
	switch p.Type {
	case descriptor.DiscordBot:
		return filepath.Join(p.Home, "venv", "bin", "python") + " main.py"
	case descriptor.GoSite:
		return binaryPath(p)
	}
	return ""
}

// binaryPath is where the build step places the compiled project binary.
func binaryPath(p *descriptor.Project) string {
	return filepath.Join(p.Workdir(), "bin", p.Project)
}
