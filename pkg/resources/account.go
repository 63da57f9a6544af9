package resources

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/snackbag/hostctl/pkg/pipeline"
)

// AccountManager owns UNIX account creation and removal.
type AccountManager struct {
	run Runner

	// Lookup resolves OS accounts. Swappable so tests can run pipelines
	// without provisioning real users.
	Lookup func(username string) (*user.User, error)
}

// NewAccountManager creates an account manager.
func NewAccountManager(run Runner) *AccountManager {
	return &AccountManager{run: run, Lookup: user.Lookup}
}

// Exists reports whether username is already an OS account. Used by the
// registry before any pipeline runs; Create does not re-check.
func (m *AccountManager) Exists(username string) bool {
	_, err := m.Lookup(username)
	return err == nil
}

// Create creates the account with a home directory and returns the home
// path.
func (m *AccountManager) Create(ctx context.Context, username, comment string) (string, error) {
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"useradd", "-m", "-s", "/bin/bash", "-c", comment, username},
	})
	if err != nil {
		return "", err
	}

	if m.run.DryRun() {
		return filepath.Join("/home", username), nil
	}

	u, err := m.Lookup(username)
	if err != nil {
		return "", fmt.Errorf("account %q not found after create: %w", username, err)
	}
	return u.HomeDir, nil
}

// Delete removes the account together with its home tree.
func (m *AccountManager) Delete(ctx context.Context, username string) error {
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"userdel", "-r", username},
	})
	// A rerun of delete over partial state may find the account already
	// gone. userdel reports that on stderr; treat it as done.
	var pe *pipeline.Error
	if errors.As(err, &pe) && strings.Contains(pe.Output, "does not exist") {
		return nil
	}
	return err
}

// Chown transfers ownership of a tree to username.
func (m *AccountManager) Chown(ctx context.Context, username, path string) error {
	_, err := m.run.Run(ctx, Command{
		Argv: []string{"chown", "-R", username + ":" + username, path},
	})
	return err
}
