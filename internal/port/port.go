// Package port guards the backend's dedicated listening port before spawn:
// the port must be free, and only one host instance may launch a backend on
// it at a time.
package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrPortInUse means something is already listening on the port.
	ErrPortInUse = errors.New("port already in use")

	// ErrLocked means another sidecar instance holds the port's lock.
	ErrLocked = errors.New("port locked by another sidecar")
)

// lookupTimeout bounds the Docker lookup used to explain a busy port.
const lookupTimeout = 2 * time.Second

// Owner identifies a container that publishes a port.
type Owner struct {
	ID    string
	Name  string
	Image string
}

// Finder looks up which container, if any, publishes a host port.
type Finder interface {
	PublishedOn(ctx context.Context, port int) (*Owner, error)
}

// Available reports whether nothing is listening on port.
func Available(port int) bool {
	for _, addr := range []string{fmt.Sprintf("127.0.0.1:%d", port), fmt.Sprintf(":%d", port)} {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		ln.Close()
	}
	return true
}

// Preflight returns an error wrapping ErrPortInUse if port is taken. When
// finder is non-nil and a container publishes the port, the error names it.
// Lookup failures are ignored; the port is busy either way.
func Preflight(ctx context.Context, port int, finder Finder) error {
	if Available(port) {
		return nil
	}
	if finder != nil {
		lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		defer cancel()
		if owner, err := finder.PublishedOn(lctx, port); err == nil && owner != nil {
			return fmt.Errorf("%w: %d is published by container %s (%s)", ErrPortInUse, port, owner.Name, owner.Image)
		}
	}
	return fmt.Errorf("%w: %d", ErrPortInUse, port)
}
