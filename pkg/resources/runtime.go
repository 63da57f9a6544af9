package resources

import (
	"context"
	"os"
	"path/filepath"
)

// RuntimeManager owns language runtime setup inside a project home. Both
// variants are idempotent: update re-runs them against an existing tree.
type RuntimeManager struct {
	run      Runner
	accounts *AccountManager
}

// NewRuntimeManager creates a runtime manager.
func NewRuntimeManager(run Runner, accounts *AccountManager) *RuntimeManager {
	return &RuntimeManager{run: run, accounts: accounts}
}

// SecretsFile returns the environment file referenced by the supervisor
// unit. It lives next to the checked-out code.
func SecretsFile(workdir string) string {
	return filepath.Join(workdir, "secrets.env")
}

// SetupPython provisions an isolated interpreter environment under home,
// installs dependencies from the manifest when the checkout carries one,
// and ensures the secrets file exists.
func (m *RuntimeManager) SetupPython(ctx context.Context, username, home, workdir string) error {
	venv := filepath.Join(home, "venv")
	if _, err := m.run.Run(ctx, Command{
		Argv:   []string{"python3", "-m", "venv", venv},
		AsUser: username,
	}); err != nil {
		return err
	}

	// Whether the checkout carries a manifest is only known once the
	// checkout has really happened, so a dry run can only report the
	// install as conditional.
	manifest := filepath.Join(workdir, "requirements.txt")
	if m.run.DryRun() {
		m.run.Note("install dependencies from %s if present", manifest)
	} else if _, err := os.Stat(manifest); err == nil {
		if _, err := m.run.Run(ctx, Command{
			Argv:   []string{filepath.Join(venv, "bin", "pip"), "install", "-r", manifest},
			AsUser: username,
			Dir:    workdir,
		}); err != nil {
			return err
		}
	}

	return m.ensureSecrets(ctx, username, workdir)
}

// SetupGo builds the project binary as the target user and ensures the
// secrets file exists.
func (m *RuntimeManager) SetupGo(ctx context.Context, username, workdir, binary string) error {
	if _, err := m.run.Run(ctx, Command{
		Argv:   []string{"go", "build", "-o", binary, "."},
		AsUser: username,
		Dir:    workdir,
	}); err != nil {
		return err
	}
	return m.ensureSecrets(ctx, username, workdir)
}

// ensureSecrets creates an empty secrets file once; an existing one is
// never overwritten.
func (m *RuntimeManager) ensureSecrets(ctx context.Context, username, workdir string) error {
	path := SecretsFile(workdir)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := m.run.WriteFile(path, []byte{}, 0o600); err != nil {
		return err
	}
	return m.accounts.Chown(ctx, username, path)
}
