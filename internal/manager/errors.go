package manager

import "github.com/juju/errors"

const (
	// ErrClosed is returned by operations on a manager that has shut down.
	ErrClosed = errors.ConstError("manager closed")
	// ErrNotStarted is returned by lifecycle operations before Start.
	ErrNotStarted = errors.ConstError("manager not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.ConstError("manager already started")
)

// IsClosed reports whether err indicates the manager has shut down.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }

// IsNotStarted reports whether err indicates Start has not completed.
func IsNotStarted(err error) bool { return errors.Is(err, ErrNotStarted) }

// IsConflict reports whether err is a lifecycle ordering error, which the
// HTTP layer maps to 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrNotStarted) || errors.Is(err, ErrAlreadyStarted)
}
