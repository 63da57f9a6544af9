package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/snackbag/hostctl/pkg/config"
	"github.com/snackbag/hostctl/pkg/descriptor"
	"github.com/snackbag/hostctl/pkg/pipeline"
)

// WebServerManager owns virtual-host fragments and the aggregate
// managed-domain file, and reloads the web server.
type WebServerManager struct {
	run Runner
	cfg *config.Config
}

// NewWebServerManager creates a web-server config manager.
func NewWebServerManager(run Runner, cfg *config.Config) *WebServerManager {
	return &WebServerManager{run: run, cfg: cfg}
}

// FragmentPath returns the vhost fragment file for a hostname.
func (m *WebServerManager) FragmentPath(hostname string) string {
	return filepath.Join(m.cfg.VHostDir, hostname+".conf")
}

func (m *WebServerManager) disabledPath(hostname string) string {
	return m.FragmentPath(hostname) + ".disabled"
}

// Create writes the vhost fragment for the project's hostname.
func (m *WebServerManager) Create(ctx context.Context, p *descriptor.Project) error {
	body, err := m.fragment(p)
	if err != nil {
		return err
	}
	return m.run.WriteFile(m.FragmentPath(p.Hostname), []byte(body), 0o644)
}

// Delete removes the vhost fragment, enabled or disabled.
func (m *WebServerManager) Delete(_ context.Context, hostname string) error {
	if err := m.run.Remove(m.FragmentPath(hostname)); err != nil {
		return err
	}
	return m.run.Remove(m.disabledPath(hostname))
}

// Enable re-activates a disabled fragment. Enabling an already enabled
// hostname is a no-op.
func (m *WebServerManager) Enable(_ context.Context, hostname string) error {
	if _, err := os.Stat(m.disabledPath(hostname)); err != nil {
		return nil
	}
	return m.run.Rename(m.disabledPath(hostname), m.FragmentPath(hostname))
}

// Disable deactivates a fragment without losing it. Disabling an already
// disabled hostname is a no-op.
func (m *WebServerManager) Disable(_ context.Context, hostname string) error {
	if _, err := os.Stat(m.FragmentPath(hostname)); err != nil {
		return nil
	}
	return m.run.Rename(m.FragmentPath(hostname), m.disabledPath(hostname))
}

// Reload recomputes the aggregate managed-domain file from the enabled
// fragments and restarts the web server twice: the first restart submits
// the changed domain set for certificate issuance, the second loads the
// issued certificate. Both restarts always run; detecting whether the
// domain set actually changed is not worth the bookkeeping.
//
// The fragment directory, not the descriptor store, is the authority for
// the active hostname set: during create the fragment exists before the
// descriptor is persisted, and during delete the fragment is gone first.
func (m *WebServerManager) Reload(ctx context.Context) error {
	hostnames, err := m.activeHostnames()
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("# Managed by hostctl. Do not edit; regenerated on every reload.\n")
	for _, h := range hostnames {
		fmt.Fprintf(&b, "MDomain %s\n", h)
	}
	if err := m.run.WriteFile(m.cfg.DomainsFile, []byte(b.String()), 0o644); err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		if _, err := m.run.Run(ctx, Command{
			Argv: []string{"systemctl", "restart", m.cfg.WebServerService},
		}); err != nil {
			return err
		}
		if i == 0 {
			m.run.Pause(time.Duration(m.cfg.RestartPause) * time.Second)
		}
	}
	return nil
}

func (m *WebServerManager) activeHostnames() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.VHostDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan vhost directory: %w", err)
	}

	var hostnames []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".conf") {
			continue
		}
		hostnames = append(hostnames, strings.TrimSuffix(name, ".conf"))
	}
	sort.Strings(hostnames)
	return hostnames, nil
}

// ErrorLogPath returns the web server's error log for a hostname.
func (m *WebServerManager) ErrorLogPath(hostname string) string {
	return filepath.Join(m.cfg.WebLogDir, hostname+"-error.log")
}

// AccessLogPath returns the web server's access log for a hostname.
func (m *WebServerManager) AccessLogPath(hostname string) string {
	return filepath.Join(m.cfg.WebLogDir, hostname+"-access.log")
}

func (m *WebServerManager) fragment(p *descriptor.Project) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<VirtualHost *:443>\n")
	fmt.Fprintf(&b, "\tServerName %s\n", p.Hostname)

	switch p.Type {
	case descriptor.StaticSite:
		fmt.Fprintf(&b, "\tDocumentRoot %s\n", filepath.Join(p.Home, p.ProjectDir, "public"))
	case descriptor.RedirectSite:
		fmt.Fprintf(&b, "\tRedirect permanent / https://%s/\n", p.ToHostname)
	case descriptor.WSGISite:
		workdir := filepath.Join(p.Home, p.ProjectDir)
		fmt.Fprintf(&b, "\tWSGIDaemonProcess %s user=%s group=%s python-home=%s\n",
			p.Project, p.Username, p.Username, filepath.Join(p.Home, "venv"))
		fmt.Fprintf(&b, "\tWSGIProcessGroup %s\n", p.Project)
		fmt.Fprintf(&b, "\tWSGIScriptAlias / %s\n", filepath.Join(workdir, "app.wsgi"))
	case descriptor.Proxy, descriptor.GoSite:
		fmt.Fprintf(&b, "\tProxyPreserveHost On\n")
		fmt.Fprintf(&b, "\tProxyPass / http://127.0.0.1:%d/\n", p.Port)
		fmt.Fprintf(&b, "\tProxyPassReverse / http://127.0.0.1:%d/\n", p.Port)
	default:
		return "", pipeline.NewUnsupportedTypeError(string(p.Type))
	}

	fmt.Fprintf(&b, "\tErrorLog %s\n", m.ErrorLogPath(p.Hostname))
	fmt.Fprintf(&b, "\tCustomLog %s combined\n", m.AccessLogPath(p.Hostname))
	fmt.Fprintf(&b, "</VirtualHost>\n")
	return b.String(), nil
}
