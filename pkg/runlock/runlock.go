// Package runlock serializes archive runs on one host that target the same
// bucket parent.
//
// The lock is an advisory file lock. It does not protect against runs on
// other hosts.
package runlock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another run holds the lock")

// Lock is a held run lock.
type Lock struct {
	key  string
	path string
	lock *flock.Flock
}

// DefaultDir returns the directory lock files are created in.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "qbucket", "locks")
	}
	return filepath.Join(os.TempDir(), "qbucket-locks")
}

// PathFor returns the lock file path for key inside dir.
func PathFor(dir, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(dir, "bucket-"+hex.EncodeToString(sum[:8])+".lock")
}

// Acquire takes the lock for key without blocking. It returns ErrLocked
// when the lock is already held.
func Acquire(dir, key string) (*Lock, error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := PathFor(dir, key)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, key, path)
	}
	return &Lock{key: key, path: path, lock: fl}, nil
}

// Key returns the locked key.
func (l *Lock) Key() string { return l.key }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks. The lock file is left in place for reuse.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
