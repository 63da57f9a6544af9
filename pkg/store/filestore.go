package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snackbag/hostctl/pkg/descriptor"
)

// FileStore keeps one flat, key-sorted JSON document per project under
// <root>/projects. Mutations are a single rename or unlink, so a crash can
// never leave a half-written descriptor visible to readers.
type FileStore struct {
	root string
}

// NewFileStore creates the store directories under root if needed.
func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{projectsDir(root), locksDir(root)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

func projectsDir(root string) string { return filepath.Join(root, "projects") }
func locksDir(root string) string    { return filepath.Join(root, "locks") }

func (s *FileStore) path(name string) string {
	return filepath.Join(projectsDir(s.root), name+".json")
}

// Put persists the descriptor under name, write-to-temp-then-rename.
func (s *FileStore) Put(_ context.Context, name string, p *descriptor.Project) error {
	path := s.path(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("descriptor for %q: %w", name, ErrExists)
	}

	data, err := encode(p)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor for %q: %w", name, err)
	}

	tmp, err := os.CreateTemp(projectsDir(s.root), "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close descriptor: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish descriptor: %w", err)
	}
	return nil
}

// Get loads the descriptor for name.
func (s *FileStore) Get(_ context.Context, name string) (*descriptor.Project, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("descriptor for %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor for %q: %w", name, err)
	}

	var p descriptor.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt descriptor for %q: %w", name, err)
	}
	return &p, nil
}

// Delete removes the descriptor for name.
func (s *FileStore) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return fmt.Errorf("descriptor for %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to remove descriptor for %q: %w", name, err)
	}
	return nil
}

// List returns all project names in lexicographic order.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(projectsDir(s.root))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		// Skip in-flight temp files.
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// encode renders the descriptor as indented JSON with sorted keys, the
// document format the original tooling wrote.
func encode(p *descriptor.Project) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
