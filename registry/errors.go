package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrProtected is matched by every ProtectedEntryError.
	ErrProtected = errors.New("registry: entry is protected")
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("registry: entry not found")
)

// ProtectedEntryError reports a register or unregister call against a
// protected entry made without Force().
type ProtectedEntryError struct {
	Registry string
	Key      string
	Op       string
}

func (e *ProtectedEntryError) Error() string {
	return fmt.Sprintf("registry %q: %s %q: entry is protected", e.Registry, e.Op, e.Key)
}

func (e *ProtectedEntryError) Is(target error) bool { return target == ErrProtected }

// NotFoundError reports an operation that requires an existing key.
type NotFoundError struct {
	Registry string
	Key      string
	Op       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("registry %q: %s %q: entry not found", e.Registry, e.Op, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsProtected reports whether err is (or wraps) a ProtectedEntryError.
func IsProtected(err error) bool { return errors.Is(err, ErrProtected) }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
