// Package config loads the hostctl tool configuration.
//
// The configuration covers only machine-level paths and policy: where
// descriptors live, where web-server fragments and systemd units are
// written, which OS users may operate the tool. Per-project settings are
// never configured here; they live in the project descriptor.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where LoadDefault looks for the configuration file.
const DefaultPath = "/etc/hostctl/config.yaml"

// Config contains the machine-level configuration for hostctl.
type Config struct {
	// StateDir holds the descriptor store and lock files.
	StateDir string `yaml:"state_dir" validate:"required"`

	// VHostDir is where per-hostname web-server fragments are written.
	VHostDir string `yaml:"vhost_dir" validate:"required"`

	// DomainsFile is the aggregate managed-domain fragment, recomputed
	// from all live descriptors on every web-server reload.
	DomainsFile string `yaml:"domains_file" validate:"required"`

	// UnitDir is where systemd unit files are written.
	UnitDir string `yaml:"unit_dir" validate:"required"`

	// RsyslogDir is where per-project log routing rules are written.
	RsyslogDir string `yaml:"rsyslog_dir" validate:"required"`

	// LogDir is where routed process logs end up.
	LogDir string `yaml:"log_dir" validate:"required"`

	// LogrotatePolicy is the shared rotation policy file, created once.
	LogrotatePolicy string `yaml:"logrotate_policy" validate:"required"`

	// WebLogDir is where the web server writes per-hostname access and
	// error logs. Used by the logs operation for site-only types.
	WebLogDir string `yaml:"web_log_dir" validate:"required"`

	// DefaultDomain is appended to the project name when no hostname is
	// given on create.
	DefaultDomain string `yaml:"default_domain" validate:"required,fqdn"`

	// WebServerService is the systemd service name of the web server.
	WebServerService string `yaml:"web_server_service" validate:"required"`

	// RestartPause is the pause in seconds between supervisor stop and
	// start, and between the two web-server restarts.
	RestartPause int `yaml:"restart_pause" validate:"gte=0"`

	// Operators lists the OS users allowed to run hostctl operations.
	// An empty list disables the check.
	Operators []string `yaml:"operators"`

	// JournalPath is the SQLite operation journal. Empty disables the
	// journal.
	JournalPath string `yaml:"journal_path"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		StateDir:         "/var/lib/hostctl",
		VHostDir:         "/etc/apache2/sites-enabled",
		DomainsFile:      "/etc/apache2/conf-enabled/hostctl-domains.conf",
		UnitDir:          "/etc/systemd/system",
		RsyslogDir:       "/etc/rsyslog.d",
		LogDir:           "/var/log/hostctl",
		LogrotatePolicy:  "/etc/logrotate.d/hostctl",
		WebLogDir:        "/var/log/apache2",
		DefaultDomain:    "snackbag.net",
		WebServerService: "apache2",
		RestartPause:     2,
		Operators:        []string{"kris", "joram"},
		JournalPath:      "/var/lib/hostctl/journal.db",
	}
}

// Load reads and validates the configuration file at path. Missing fields
// fall back to the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads the configuration from path if given, from DefaultPath
// if that exists, and otherwise returns the built-in defaults.
func LoadDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg, err := Load(DefaultPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// OperatorAllowed reports whether user may run hostctl operations.
func (c *Config) OperatorAllowed(user string) bool {
	if len(c.Operators) == 0 {
		return true
	}
	for _, op := range c.Operators {
		if op == user {
			return true
		}
	}
	return false
}
