package resources

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/snackbag/hostctl/pkg/config"
)

// SupervisorManager owns systemd units for process-backed projects.
type SupervisorManager struct {
	run Runner
	cfg *config.Config
}

// NewSupervisorManager creates a process supervisor manager.
func NewSupervisorManager(run Runner, cfg *config.Config) *SupervisorManager {
	return &SupervisorManager{run: run, cfg: cfg}
}

// UnitPath returns the unit file path for a project.
func (m *SupervisorManager) UnitPath(name string) string {
	return filepath.Join(m.cfg.UnitDir, name+".service")
}

// Create writes the unit definition and reloads the supervisor.
func (m *SupervisorManager) Create(ctx context.Context, name, workdir, user, execCommand string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\n")
	fmt.Fprintf(&b, "Description=hostctl project %s\n", name)
	fmt.Fprintf(&b, "After=network-online.target\n")
	fmt.Fprintf(&b, "Wants=network-online.target\n\n")
	fmt.Fprintf(&b, "[Service]\n")
	fmt.Fprintf(&b, "Type=simple\n")
	fmt.Fprintf(&b, "User=%s\n", user)
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", workdir)
	fmt.Fprintf(&b, "EnvironmentFile=%s\n", SecretsFile(workdir))
	fmt.Fprintf(&b, "ExecStart=%s\n", execCommand)
	fmt.Fprintf(&b, "Restart=on-failure\n")
	fmt.Fprintf(&b, "SyslogIdentifier=%s\n", name)
	fmt.Fprintf(&b, "StandardOutput=syslog\n")
	fmt.Fprintf(&b, "StandardError=syslog\n\n")
	fmt.Fprintf(&b, "[Install]\n")
	fmt.Fprintf(&b, "WantedBy=multi-user.target\n")

	if err := m.run.WriteFile(m.UnitPath(name), []byte(b.String()), 0o644); err != nil {
		return err
	}
	return m.daemonReload(ctx)
}

// Delete removes the unit definition and reloads the supervisor. The unit
// is stopped first so no orphan process survives.
func (m *SupervisorManager) Delete(ctx context.Context, name string) error {
	// Ignore stop failures: the unit may never have been enabled if a
	// create pipeline failed early.
	_ = m.StopAndDisable(ctx, name)
	if err := m.run.Remove(m.UnitPath(name)); err != nil {
		return err
	}
	return m.daemonReload(ctx)
}

// EnableAndStart enables the unit at boot and starts it now.
func (m *SupervisorManager) EnableAndStart(ctx context.Context, name string) error {
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"systemctl", "enable", "--now", name},
	})
	return err
}

// StopAndDisable stops the unit and removes it from boot.
func (m *SupervisorManager) StopAndDisable(ctx context.Context, name string) error {
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"systemctl", "disable", "--now", name},
	})
	return err
}

// Restart stops the unit, pauses so sockets and ports are released, then
// starts it again.
func (m *SupervisorManager) Restart(ctx context.Context, name string) error {
	if _, err := m.run.Run(ctx, Command{
		Argv: []string{"systemctl", "stop", name},
	}); err != nil {
		return err
	}
	m.run.Pause(time.Duration(m.cfg.RestartPause) * time.Second)
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"systemctl", "start", name},
	})
	return err
}

func (m *SupervisorManager) daemonReload(ctx context.Context) error {
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"systemctl", "daemon-reload"},
	})
	return err
}
