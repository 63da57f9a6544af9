// Package resources implements the resource managers: each one owns a
// single class of OS-level side effect (accounts, deploy keys, source
// checkouts, language runtimes, web-server config, process supervision,
// log routing). Every mutation, whether a shelled-out command or a file
// write, goes through the Runner so that dry-run mode intercepts all of
// them in one place.
package resources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snackbag/hostctl/pkg/pipeline"
	"github.com/snackbag/hostctl/pkg/telemetry"
)

// Command describes one shelled-out action.
type Command struct {
	// Argv is the command and its arguments; never passed to a shell.
	Argv []string

	// Dir is the working directory, if any.
	Dir string

	// AsUser runs the command as another user via sudo -u.
	AsUser string

	// Env adds environment variables to the command.
	Env map[string]string
}

// Runner executes commands and file mutations on behalf of the resource
// managers.
type Runner interface {
	// Run executes the command, returning its combined output. A nonzero
	// exit surfaces as a COMMAND_FAILED pipeline error carrying the
	// output; exceeding the timeout surfaces as TIMEOUT.
	Run(ctx context.Context, cmd Command) (string, error)

	// WriteFile writes a file whole, creating parent directories.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// Remove removes a file. Removing a missing file is not an error:
	// delete pipelines must be rerunnable over partial state.
	Remove(path string) error

	// Rename renames a file.
	Rename(oldpath, newpath string) error

	// Pause sleeps. Skipped in dry-run mode.
	Pause(d time.Duration)

	// Note adds a line to the dry-run report for actions whose execution
	// depends on state that only exists once earlier steps have really
	// run. No-op outside dry-run mode.
	Note(format string, args ...any)

	// DryRun reports whether mutations are being suppressed.
	DryRun() bool
}

// ExecRunner is the real Runner. Out receives the dry-run action report;
// it defaults to stdout so a dry run is visible at any verbosity.
type ExecRunner struct {
	Mode pipeline.Mode
	Out  io.Writer

	log zerolog.Logger
}

// NewRunner creates a runner for the given execution mode.
func NewRunner(mode pipeline.Mode) *ExecRunner {
	if mode.Timeout <= 0 {
		mode.Timeout = pipeline.DefaultTimeout
	}
	return &ExecRunner{
		Mode: mode,
		Out:  os.Stdout,
		log:  telemetry.NewComponentLogger("runner"),
	}
}

// DryRun reports whether mutations are being suppressed.
func (r *ExecRunner) DryRun() bool {
	return r.Mode.DryRun
}

func (r *ExecRunner) report(format string, args ...any) {
	fmt.Fprintf(r.Out, "would "+format+"\n", args...)
}

// Run executes the command with the configured timeout.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	argv := cmd.Argv
	if cmd.AsUser != "" {
		argv = append([]string{"sudo", "-u", cmd.AsUser, "--"}, argv...)
	}
	display := strings.Join(argv, " ")

	if r.Mode.DryRun {
		r.report("run: %s", display)
		return "", nil
	}

	r.log.Debug().Str("command", display).Str("dir", cmd.Dir).Msg("executing command")

	ctx, cancel := context.WithTimeout(ctx, r.Mode.Timeout)
	defer cancel()

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range cmd.Env {
			c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var output bytes.Buffer
	c.Stdout = &output
	c.Stderr = &output

	start := time.Now()
	err := c.Run()
	r.log.Trace().
		Str("command", display).
		Dur("elapsed", time.Since(start)).
		Str("output", output.String()).
		Msg("command finished")

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output.String(), pipeline.NewTimeoutError(
				fmt.Sprintf("command %q exceeded timeout %s", display, r.Mode.Timeout), err)
		}
		return output.String(), pipeline.NewCommandError(
			fmt.Sprintf("command %q failed", display), output.String(), err)
	}
	return output.String(), nil
}

// WriteFile writes a file whole, creating parent directories.
func (r *ExecRunner) WriteFile(path string, data []byte, perm os.FileMode) error {
	if r.Mode.DryRun {
		r.report("write %s (%d bytes)", path, len(data))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Remove removes path; a missing file is not an error.
func (r *ExecRunner) Remove(path string) error {
	if r.Mode.DryRun {
		r.report("remove %s", path)
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Rename renames a file.
func (r *ExecRunner) Rename(oldpath, newpath string) error {
	if r.Mode.DryRun {
		r.report("rename %s to %s", oldpath, newpath)
		return nil
	}
	if err := os.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldpath, err)
	}
	return nil
}

// Pause sleeps for d; skipped in dry-run mode.
func (r *ExecRunner) Pause(d time.Duration) {
	if r.Mode.DryRun {
		r.report("pause %s", d)
		return
	}
	time.Sleep(d)
}

// Note adds a line to the dry-run report.
func (r *ExecRunner) Note(format string, args ...any) {
	if r.Mode.DryRun {
		r.report(format, args...)
	}
}
