// Package pipeline executes ordered step sequences against a project
// descriptor. Steps run strictly in order; the first failure halts the
// pipeline and is surfaced with the step name and underlying cause. There
// is no retry and no automatic rollback: partially applied resources are
// left in place for the operator to inspect or for a rerun of delete to
// clean up.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/snackbag/hostctl/pkg/descriptor"
	"github.com/snackbag/hostctl/pkg/telemetry"
)

// DefaultTimeout bounds each shelled-out action unless --timeout is given.
const DefaultTimeout = 30 * time.Second

// Mode carries the two execution concerns threaded through every step:
// dry-run (report intended actions, mutate nothing) and verbosity (0-3,
// observability only). Timeout bounds each underlying OS action.
type Mode struct {
	DryRun    bool
	Verbosity int
	Timeout   time.Duration
}

// Step is one named pipeline step, bound to exactly one resource-manager
// method.
type Step struct {
	Name string
	Run  func(ctx context.Context, p *descriptor.Project) error
}

// RunRecorder persists pipeline runs and their step events. Implemented by
// the journal package; optional.
type RunRecorder interface {
	BeginRun(ctx context.Context, project, operation string) (string, error)
	RecordStep(ctx context.Context, runID, step, status string, message string) error
	EndRun(ctx context.Context, runID, status string, errMsg string) error
}

// Engine executes pipelines. Journal and Metrics are optional
// collaborators; a nil field disables that concern.
type Engine struct {
	Journal RunRecorder
	Metrics *telemetry.Metrics
}

// Step and run statuses recorded in the journal and metrics.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDryRun    = "dry-run"
)

// Execute runs steps in order against p. On the first failing step the
// remaining steps are skipped and the error is returned with the step
// name attached. In dry-run mode the journal is not written; the store and
// every manager already refuse to mutate, so a dry run leaves no trace
// anywhere.
func (e *Engine) Execute(ctx context.Context, operation string, p *descriptor.Project, steps []Step, mode Mode) error {
	logger := telemetry.NewComponentLogger("pipeline")

	var runID string
	if e.Journal != nil && !mode.DryRun {
		id, err := e.Journal.BeginRun(ctx, p.Project, operation)
		if err != nil {
			// The journal is an observer; a broken journal must not
			// block provisioning.
			logger.Warn().Err(err).Msg("journal unavailable, continuing without it")
		} else {
			runID = id
		}
	}

	for _, step := range steps {
		logger.Info().
			Str("project", p.Project).
			Str("operation", operation).
			Str("step", step.Name).
			Bool("dry_run", mode.DryRun).
			Msg("running step")

		start := time.Now()
		err := step.Run(ctx, p)
		elapsed := time.Since(start)

		if err != nil {
			e.recordStep(ctx, runID, step.Name, StatusFailed, err.Error(), elapsed)
			e.endRun(ctx, runID, operation, StatusFailed, err.Error(), mode)
			return wrapStepError(step.Name, err)
		}

		status := StatusCompleted
		if mode.DryRun {
			status = StatusDryRun
		}
		e.recordStep(ctx, runID, step.Name, status, "", elapsed)
	}

	e.endRun(ctx, runID, operation, StatusCompleted, "", mode)
	return nil
}

func (e *Engine) recordStep(ctx context.Context, runID, step, status, message string, elapsed time.Duration) {
	if e.Metrics != nil {
		e.Metrics.RecordStep(step, status, elapsed)
	}
	if e.Journal != nil && runID != "" {
		if err := e.Journal.RecordStep(ctx, runID, step, status, message); err != nil {
			logger := telemetry.NewComponentLogger("pipeline")
			logger.Warn().Err(err).Msg("failed to journal step")
		}
	}
}

func (e *Engine) endRun(ctx context.Context, runID, operation, status, errMsg string, mode Mode) {
	if e.Metrics != nil {
		if mode.DryRun && status == StatusCompleted {
			status = StatusDryRun
		}
		e.Metrics.RecordRun(operation, status)
	}
	if e.Journal != nil && runID != "" {
		if err := e.Journal.EndRun(ctx, runID, status, errMsg); err != nil {
			logger := telemetry.NewComponentLogger("pipeline")
			logger.Warn().Err(err).Msg("failed to journal run")
		}
	}
}

// wrapStepError attaches the step name, converting foreign errors into
// classified command failures.
func wrapStepError(step string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.WithStep(step)
	}
	return (&Error{Code: CodeCommandFailed, Message: "step failed", Err: err}).WithStep(step)
}
