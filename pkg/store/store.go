// Package store persists project descriptors, one document per project.
// The store is the only durable state the orchestrator owns; everything
// else lives in the OS resources the descriptors describe.
package store

import (
	"context"
	"errors"

	"github.com/snackbag/hostctl/pkg/descriptor"
)

var (
	// ErrNotFound is returned when no live descriptor exists for a name.
	ErrNotFound = errors.New("project not found")

	// ErrExists is returned by Put when a live descriptor already exists.
	ErrExists = errors.New("project already exists")
)

// Store is the descriptor persistence contract. All operations are
// whole-document: there are no partial-field updates.
type Store interface {
	// Put persists the descriptor under name. Fails with ErrExists if a
	// live descriptor for name is present.
	Put(ctx context.Context, name string, p *descriptor.Project) error

	// Get loads the descriptor for name. Fails with ErrNotFound.
	Get(ctx context.Context, name string) (*descriptor.Project, error)

	// Delete removes the descriptor for name. Fails with ErrNotFound.
	Delete(ctx context.Context, name string) error

	// List returns all project names in lexicographic order.
	List(ctx context.Context) ([]string, error)
}
