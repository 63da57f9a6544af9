package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/snackbag/hostctl/pkg/config"
)

// LogRoutingManager owns per-project syslog routing rules and the shared
// rotation policy.
type LogRoutingManager struct {
	run Runner
	cfg *config.Config
}

// NewLogRoutingManager creates a log routing manager.
func NewLogRoutingManager(run Runner, cfg *config.Config) *LogRoutingManager {
	return &LogRoutingManager{run: run, cfg: cfg}
}

// RulePath returns the syslog routing rule file for a project.
func (m *LogRoutingManager) RulePath(name string) string {
	return filepath.Join(m.cfg.RsyslogDir, "hostctl-"+name+".conf")
}

// LogPath returns the routed log file for a project.
func (m *LogRoutingManager) LogPath(name string) string {
	return filepath.Join(m.cfg.LogDir, name+".log")
}

// Create ensures the log directory, the shared rotation policy and the
// project's routing rule exist, then reloads the log daemon.
func (m *LogRoutingManager) Create(ctx context.Context, name string) error {
	if !m.run.DryRun() {
		if err := os.MkdirAll(m.cfg.LogDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if err := m.ensureRotationPolicy(); err != nil {
		return err
	}

	rule := fmt.Sprintf("if $programname == '%s' then %s\n& stop\n", name, m.LogPath(name))
	if err := m.run.WriteFile(m.RulePath(name), []byte(rule), 0o644); err != nil {
		return err
	}
	return m.reload(ctx)
}

// Delete removes the routing rule only; log files are retained for audit
// and backup.
func (m *LogRoutingManager) Delete(ctx context.Context, name string) error {
	if err := m.run.Remove(m.RulePath(name)); err != nil {
		return err
	}
	return m.reload(ctx)
}

// ensureRotationPolicy writes the shared logrotate policy once; an
// existing policy is left alone so local edits survive.
func (m *LogRoutingManager) ensureRotationPolicy() error {
	if _, err := os.Stat(m.cfg.LogrotatePolicy); err == nil {
		return nil
	}
	policy := fmt.Sprintf(`%s {
	weekly
	rotate 8
	compress
	delaycompress
	missingok
	notifempty
}
`, filepath.Join(m.cfg.LogDir, "*.log"))
	return m.run.WriteFile(m.cfg.LogrotatePolicy, []byte(policy), 0o644)
}

func (m *LogRoutingManager) reload(ctx context.Context) error {
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"systemctl", "restart", "rsyslog"},
	})
	return err
}
