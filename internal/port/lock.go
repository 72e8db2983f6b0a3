package port

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is an exclusive advisory lock on one port, held for the lifetime of
// a supervision session.
type Lock struct {
	fl *flock.Flock
}

// Claim takes the lock for port under dir without blocking. It returns an
// error wrapping ErrLocked when another process holds it.
func Claim(dir string, port int) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	fl := flock.New(filepath.Join(dir, fmt.Sprintf("port-%d.lock", port)))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %d (%s)", ErrLocked, port, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release drops the lock. The lock file is left in place.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
