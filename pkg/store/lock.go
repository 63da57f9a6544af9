package store

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is a held per-project advisory lock.
type Lock struct {
	file *os.File
}

// Lock acquires an exclusive advisory lock for the project name, blocking
// until it is available. Two invocations targeting the same name serialize
// on this lock for the duration of their pipelines; lock files are never
// removed, so create/delete races on the same name stay serialized.
func (s *FileStore) Lock(name string) (*Lock, error) {
	path := filepath.Join(locksDir(s.root), name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file for %q: %w", name, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to lock %q: %w", name, err)
	}
	return &Lock{file: file}, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	defer l.file.Close()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	return nil
}
