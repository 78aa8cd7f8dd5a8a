//go:build linux

package nsenter

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrProcessNotFound indicates the target process doesn't exist.
	ErrProcessNotFound = errors.New("process not found")

	// ErrPermissionDenied indicates the target's namespaces could not
	// be accessed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrOperationNotPermitted indicates the caller lacks the
	// capabilities to join the target's namespaces.
	ErrOperationNotPermitted = errors.New("operation not permitted")

	// ErrPartialJoin indicates a failed join still changed some of the
	// caller's namespaces.
	ErrPartialJoin = errors.New("namespaces partially joined")

	// ErrRequiresBootstrap indicates the requested set includes user or
	// mount namespaces, which cannot be joined once the Go runtime runs.
	ErrRequiresBootstrap = errors.New("user and mount namespaces must be joined before the Go runtime starts")
)

// EnterError wraps errors with context about which half of the
// namespace entry failed.
type EnterError struct {
	Op         string // "open" or "join"
	PID        int
	Namespaces Namespaces
	Err        error
}

func (e *EnterError) Error() string {
	if e.Op == "open" {
		return fmt.Sprintf("nsenter: open pid %d: %v", e.PID, e.Err)
	}
	return fmt.Sprintf("nsenter: join %s of pid %d: %v", e.Namespaces, e.PID, e.Err)
}

func (e *EnterError) Unwrap() error {
	return e.Err
}

// NewEnterError classifies err and wraps it.  The original errno stays
// reachable through errors.Is.
func NewEnterError(op string, pid int, ns Namespaces, err error) error {
	if err == nil {
		return nil
	}
	return &EnterError{Op: op, PID: pid, Namespaces: ns, Err: classify(err)}
}

func classify(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.ESRCH:
		return fmt.Errorf("%w: %w", ErrProcessNotFound, err)
	case unix.EACCES:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case unix.EPERM:
		return fmt.Errorf("%w: %w", ErrOperationNotPermitted, err)
	}
	return err
}
