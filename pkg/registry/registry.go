// Package registry maps each project type to its descriptor requirements
// and its ordered step sequences. Adding a project type means declaring a
// new entry here, not touching every operation.
package registry

import (
	"context"
	"errors"

	"github.com/snackbag/hostctl/pkg/descriptor"
	"github.com/snackbag/hostctl/pkg/pipeline"
	"github.com/snackbag/hostctl/pkg/store"
)

// Step names. Each is bound to exactly one resource-manager method by the
// dispatcher.
const (
	StepAccount    = "account"
	StepDeployKey  = "deploy-key"
	StepCheckout   = "checkout"
	StepRuntime    = "runtime"
	StepLogRouting = "log-routing"
	StepSupervisor = "supervisor"
	StepWebServer  = "webserver"
	StepDescriptor = "descriptor"
)

// createSteps is the ordered create pipeline per type. The descriptor is
// always persisted last, so the store never references a resource that
// does not exist yet.
var createSteps = map[descriptor.Type][]string{
	descriptor.StaticSite:   {StepAccount, StepDeployKey, StepCheckout, StepWebServer, StepDescriptor},
	descriptor.RedirectSite: {StepWebServer, StepDescriptor},
	descriptor.Proxy:        {StepWebServer, StepDescriptor},
	descriptor.WSGISite:     {StepAccount, StepDeployKey, StepCheckout, StepRuntime, StepWebServer, StepDescriptor},
	descriptor.DiscordBot:   {StepAccount, StepDeployKey, StepCheckout, StepRuntime, StepLogRouting, StepSupervisor, StepDescriptor},
	descriptor.GoSite:       {StepAccount, StepDeployKey, StepCheckout, StepRuntime, StepLogRouting, StepSupervisor, StepWebServer, StepDescriptor},
}

// teardownSteps are the create steps with their own reversal. Deploy key,
// checkout and runtime live inside the account home, which the account
// teardown removes wholesale.
var teardownSteps = map[string]bool{
	StepWebServer:  true,
	StepSupervisor: true,
	StepLogRouting: true,
	StepAccount:    true,
}

// AccountChecker reports whether a username already exists as an OS
// account. Implemented by the account manager.
type AccountChecker interface {
	Exists(username string) bool
}

// Registry validates descriptors against the live system and hands out
// step sequences.
type Registry struct {
	store    store.Store
	accounts AccountChecker
}

// New creates a registry.
func New(st store.Store, accounts AccountChecker) *Registry {
	return &Registry{store: st, accounts: accounts}
}

// CreateSteps returns the ordered create step names for a type.
func CreateSteps(t descriptor.Type) ([]string, error) {
	steps, ok := createSteps[t]
	if !ok {
		return nil, pipeline.NewUnsupportedTypeError(string(t))
	}
	return steps, nil
}

// DeleteSteps returns the delete step names for a type: the create
// sequence reversed, restricted to resources the type actually creates,
// with descriptor removal last. A crash mid-delete therefore leaves the
// descriptor present and deletion resumable.
func DeleteSteps(t descriptor.Type) ([]string, error) {
	create, err := CreateSteps(t)
	if err != nil {
		return nil, err
	}

	var steps []string
	for i := len(create) - 1; i >= 0; i-- {
		if teardownSteps[create[i]] {
			steps = append(steps, create[i])
		}
	}
	return append(steps, StepDescriptor), nil
}

// ValidateCreate enforces the create-time policy before any pipeline step
// runs, so a rejected create has zero side effects.
func (r *Registry) ValidateCreate(ctx context.Context, p *descriptor.Project) error {
	if _, ok := createSteps[p.Type]; !ok {
		return pipeline.NewUnsupportedTypeError(string(p.Type))
	}
	if err := p.Validate(); err != nil {
		return pipeline.NewValidationError("%v", err)
	}
	if err := r.checkRequiredFields(p); err != nil {
		return err
	}

	// The project name must be free.
	if _, err := r.store.Get(ctx, p.Project); err == nil {
		return pipeline.NewAlreadyExistsError("project %q already exists", p.Project)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// The hostname must not route to another active project.
	if p.Hostname != "" {
		if err := r.checkHostnameFree(ctx, p); err != nil {
			return err
		}
	}

	// The account must not exist yet; the account step does not re-check.
	if p.Type.HasRepo() && r.accounts.Exists(p.Username) {
		return pipeline.NewValidationError("user %q already exists as an OS account", p.Username)
	}
	return nil
}

func (r *Registry) checkRequiredFields(p *descriptor.Project) error {
	if p.Type.HasRepo() && p.GitHub == "" {
		return pipeline.NewValidationError("type %s requires --github", p.Type)
	}
	if p.Type == descriptor.RedirectSite && p.ToHostname == "" {
		return pipeline.NewValidationError("type %s requires --to-hostname", p.Type)
	}
	if (p.Type == descriptor.Proxy || p.Type == descriptor.GoSite) && p.Port == 0 {
		return pipeline.NewValidationError("type %s requires --port", p.Type)
	}
	if p.Type.HasWebServer() && p.Hostname == "" {
		return pipeline.NewValidationError("type %s requires a hostname", p.Type)
	}
	return nil
}

func (r *Registry) checkHostnameFree(ctx context.Context, p *descriptor.Project) error {
	names, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		other, err := r.store.Get(ctx, name)
		if err != nil {
			return err
		}
		if other.Hostname == p.Hostname {
			return pipeline.NewValidationError(
				"hostname %q already belongs to project %q", p.Hostname, name)
		}
	}
	return nil
}
