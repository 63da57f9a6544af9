package resources

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// DeployKeyManager owns per-project deploy keys: an ed25519 keypair under
// the project account's ~/.ssh plus a host profile so checkouts work
// without prompts. The public key material is returned for the descriptor;
// registering it with the source host stays a manual step.
type DeployKeyManager struct {
	run      Runner
	accounts *AccountManager
}

// NewDeployKeyManager creates a deploy key manager.
func NewDeployKeyManager(run Runner, accounts *AccountManager) *DeployKeyManager {
	return &DeployKeyManager{run: run, accounts: accounts}
}

// Create generates the keypair and connection profile in home/.ssh, owned
// by username, and returns the public key in authorized-keys format.
func (m *DeployKeyManager) Create(ctx context.Context, username, home, gitHost string) (string, error) {
	sshDir := filepath.Join(home, ".ssh")
	keyPath := filepath.Join(sshDir, "id_ed25519")

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate deploy key: %w", err)
	}

	privBlock, err := ssh.MarshalPrivateKey(privKey, "hostctl deploy key for "+username)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := m.run.WriteFile(keyPath, pem.EncodeToMemory(privBlock), 0o600); err != nil {
		return "", err
	}

	sshPub, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}
	pubMaterial := string(ssh.MarshalAuthorizedKey(sshPub))
	if err := m.run.WriteFile(keyPath+".pub", []byte(pubMaterial), 0o644); err != nil {
		return "", err
	}

	profile := fmt.Sprintf("Host %s\n\tIdentityFile %s\n\tIdentitiesOnly yes\n\tStrictHostKeyChecking accept-new\n", gitHost, keyPath)
	if err := m.run.WriteFile(filepath.Join(sshDir, "config"), []byte(profile), 0o644); err != nil {
		return "", err
	}

	if err := m.accounts.Chown(ctx, username, sshDir); err != nil {
		return "", err
	}
	return pubMaterial, nil
}
