// Package descriptor defines the canonical project descriptor: the
// persisted record for one hosted project, constructed once per invocation
// and treated as immutable afterwards.
package descriptor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Type enumerates the supported project types.
type Type string

const (
	StaticSite   Type = "static_site"
	RedirectSite Type = "redirect_site"
	WSGISite     Type = "wsgi_site"
	DiscordBot   Type = "discord_bot"
	GoSite       Type = "go_site"
	Proxy        Type = "proxy"
)

// Types lists all supported project types.
var Types = []Type{StaticSite, RedirectSite, WSGISite, DiscordBot, GoSite, Proxy}

// Valid reports whether t is a supported project type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// HasRepo reports whether projects of this type carry a source checkout
// (and with it a UNIX account and deploy key).
func (t Type) HasRepo() bool {
	return t != RedirectSite && t != Proxy
}

// HasWebServer reports whether projects of this type own a web-server
// virtual host fragment.
func (t Type) HasWebServer() bool {
	return t != DiscordBot
}

// HasSupervisor reports whether projects of this type run under the
// process supervisor.
func (t Type) HasSupervisor() bool {
	return t == DiscordBot || t == GoSite
}

// Runtime identifies the language runtime a type needs, if any.
type Runtime string

const (
	RuntimeNone   Runtime = ""
	RuntimePython Runtime = "python"
	RuntimeGo     Runtime = "go"
)

// RuntimeKind returns the runtime setup variant for this type.
func (t Type) RuntimeKind() Runtime {
	switch t {
	case WSGISite, DiscordBot:
		return RuntimePython
	case GoSite:
		return RuntimeGo
	default:
		return RuntimeNone
	}
}

// Project is the canonical, persisted descriptor for one project. Field
// presence depends on Type; see the registry for the per-type rules.
// Resource handles (Home, PubKey) are derived once at create time and never
// re-derived.
type Project struct {
	Type       Type   `json:"type" validate:"required"`
	Project    string `json:"project" validate:"required,projectname"`
	Hostname   string `json:"hostname,omitempty" validate:"omitempty,fqdn"`
	GitHub     string `json:"github,omitempty" validate:"omitempty,sshremote"`
	Username   string `json:"username,omitempty"`
	Home       string `json:"home,omitempty"`
	ProjectDir string `json:"projectdir,omitempty"`
	PubKey     string `json:"pubkey,omitempty"`
	Port       int    `json:"port,omitempty" validate:"omitempty,gte=1,lte=65535"`
	ToHostname string `json:"to_hostname,omitempty" validate:"omitempty,fqdn"`
}

var (
	// sshRemoteRe accepts the SSH remote shape used by source hosts,
	// e.g. git@github.com:owner/repo.git.
	sshRemoteRe = regexp.MustCompile(`^[a-z][a-z0-9-]*@[a-zA-Z0-9.-]+:[\w.-]+/[\w.-]+\.git$`)

	// projectNameRe keeps project names safe for file names, unit names
	// and UNIX account names.
	projectNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tags, so errors here are
	// programming mistakes.
	if err := v.RegisterValidation("sshremote", func(fl validator.FieldLevel) bool {
		return sshRemoteRe.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("projectname", func(fl validator.FieldLevel) bool {
		return projectNameRe.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// ApplyDefaults fills derived fields: hostname from the default domain for
// web-facing types, username from the project name, projectdir from the
// username. Repo-less types never receive account fields.
func (p *Project) ApplyDefaults(defaultDomain string) {
	if p.Hostname == "" && p.Type.HasWebServer() {
		p.Hostname = fmt.Sprintf("%s.%s", p.Project, defaultDomain)
	}
	if !p.Type.HasRepo() {
		return
	}
	if p.Username == "" {
		p.Username = p.Project
	}
	if p.ProjectDir == "" {
		p.ProjectDir = p.Username
	}
}

// Validate checks field shapes. Per-type required-field rules live in the
// registry; this covers only the format of whatever is present.
func (p *Project) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("unsupported project type %q", p.Type)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid descriptor for %q: %w", p.Project, err)
	}
	return nil
}

// UnitName returns the supervisor unit name for process-backed types. The
// project name doubles as the unit name.
func (p *Project) UnitName() string {
	return p.Project
}

// Workdir returns the checkout directory inside the project home.
func (p *Project) Workdir() string {
	return filepath.Join(p.Home, p.ProjectDir)
}

// GitHost returns the host part of the SSH remote, e.g. "github.com" for
// git@github.com:owner/repo.git. Empty when no remote is set.
func (p *Project) GitHost() string {
	at := strings.Index(p.GitHub, "@")
	colon := strings.Index(p.GitHub, ":")
	if at < 0 || colon < at {
		return ""
	}
	return p.GitHub[at+1 : colon]
}
