package resources

import (
	"context"
)

// CheckoutManager owns source checkouts.
type CheckoutManager struct {
	run      Runner
	accounts *AccountManager
}

// NewCheckoutManager creates a checkout manager.
func NewCheckoutManager(run Runner, accounts *AccountManager) *CheckoutManager {
	return &CheckoutManager{run: run, accounts: accounts}
}

// Clone checks out remote into target. The clone runs as the invoking
// operator, not the target user, so it does not depend on the deploy key
// being registered with the source host yet; the tree is re-owned to
// username afterwards.
func (m *CheckoutManager) Clone(ctx context.Context, remote, target, username string) error {
	if _, err := m.run.Run(ctx, Command{
		Argv: []string{"git", "clone", remote, target},
	}); err != nil {
		return err
	}
	return m.accounts.Chown(ctx, username, target)
}

// Update discards local modifications in target and fast-forwards to the
// remote tip, as the owning user via the deploy key.
func (m *CheckoutManager) Update(ctx context.Context, target, username string) error {
	if _, err := m.run.Run(ctx, Command{
		Argv:   []string{"git", "-C", target, "fetch", "--prune"},
		AsUser: username,
	}); err != nil {
		return err
	}
	_, err := m.run.Run(ctx, Command{
		Argv:   []string{"git", "-C", target, "reset", "--hard", "@{upstream}"},
		AsUser: username,
	})
	return err
}
