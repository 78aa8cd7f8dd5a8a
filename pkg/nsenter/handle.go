//go:build linux

package nsenter

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// ProcessHandle is a pidfd referring to a target process.  It must be
// released with Close; Close is safe to call more than once.
type ProcessHandle struct {
	pid int
	fd  int
}

// Open obtains a stable reference to pid with pidfd_open(2)
// (Linux 5.3+, joining through it needs 5.8+).
func Open(pid int) (*ProcessHandle, error) {
	if pid <= 0 {
		return nil, NewEnterError("open", pid, 0, unix.ESRCH)
	}
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return nil, NewEnterError("open", pid, 0, os.NewSyscallError("pidfd_open", err))
	}
	return &ProcessHandle{pid: pid, fd: fd}, nil
}

// PID returns the process id the handle was opened for.
func (h *ProcessHandle) PID() int {
	return h.pid
}

// Fd returns the pidfd, or -1 once the handle is released.
func (h *ProcessHandle) Fd() int {
	return h.fd
}

// Join moves the calling thread into the namespaces ns of the target
// with a single setns(2) call.  The caller is responsible for locking
// the goroutine to its OS thread.
func (h *ProcessHandle) Join(ns Namespaces) error {
	if h.fd < 0 {
		return NewEnterError("join", h.pid, ns, os.ErrClosed)
	}
	if ns == 0 || ns&^All != 0 {
		return NewEnterError("join", h.pid, ns, fmt.Errorf("invalid namespace set %s", ns))
	}
	if err := unix.Setns(h.fd, int(ns)); err != nil {
		return NewEnterError("join", h.pid, ns, os.NewSyscallError("setns", err))
	}
	return nil
}

// Detach clears close-on-exec on the pidfd and gives up ownership of
// it, so that a new program image started with execve inherits it.
// The handle is released afterwards.
func (h *ProcessHandle) Detach() (int, error) {
	if h.fd < 0 {
		return -1, os.ErrClosed
	}
	if _, err := unix.FcntlInt(uintptr(h.fd), unix.F_SETFD, 0); err != nil {
		return -1, fmt.Errorf("clearing close-on-exec on pidfd: %w", err)
	}
	fd := h.fd
	h.fd = -1
	return fd, nil
}

// Close releases the pidfd.
func (h *ProcessHandle) Close() error {
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

// Adopt takes ownership of a pidfd inherited from a previous program
// image.
func Adopt(pid, fd int) *ProcessHandle {
	return &ProcessHandle{pid: pid, fd: fd}
}

// Shared returns the kinds in ns where the calling thread already
// lives in the target's namespace.  Joining those is pointless, and for
// the user namespace the kernel refuses it with EINVAL.
func (h *ProcessHandle) Shared(ns Namespaces) (Namespaces, error) {
	if h.fd < 0 {
		return 0, NewEnterError("open", h.pid, ns, os.ErrClosed)
	}
	target, err := SnapshotPID(h.pid)
	if err != nil {
		return 0, NewEnterError("open", h.pid, ns, err)
	}
	// The pidfd pins the process: if it is still alive, the /proc
	// entry read above was its own and not a reused PID's.
	if err := unix.PidfdSendSignal(h.fd, 0, nil, 0); err != nil {
		return 0, NewEnterError("open", h.pid, ns, os.NewSyscallError("pidfd_send_signal", err))
	}
	self, err := SnapshotSelf()
	if err != nil {
		return 0, NewEnterError("open", h.pid, ns, err)
	}

	var shared Namespaces
	for _, k := range ns.Kinds() {
		t, tok := target[k]
		s, sok := self[k]
		if tok && sok && t == s {
			shared |= k
		}
	}
	return shared, nil
}

// Enter joins the namespaces ns of the target from the running Go
// program.  The calling goroutine is locked to its OS thread; on
// success it stays locked so that children and a later execve inherit
// the namespaces.  The handle stays open.
//
// pidfd based setns(2) commits either every namespace or none of them.
// Enter checks that anyway: when the join fails, the thread's
// namespaces are compared with a snapshot taken before, and any change
// is reported as ErrPartialJoin.
func (h *ProcessHandle) Enter(ns Namespaces) error {
	if ns.RequiresSingleThread() {
		return NewEnterError("join", h.pid, ns, ErrRequiresBootstrap)
	}

	runtime.LockOSThread()
	before, snapErr := SnapshotSelf()

	joinErr := h.Join(ns)
	if joinErr == nil {
		return nil
	}

	if snapErr == nil {
		after, err := SnapshotSelf()
		if err == nil {
			if changed := before.Diff(after) & ns; changed != 0 {
				// The thread is in a mixed state; leave it locked so the
				// runtime retires it with the goroutine.
				var ee *EnterError
				if errors.As(joinErr, &ee) {
					ee.Err = fmt.Errorf("%w (%s changed): %w", ErrPartialJoin, changed, ee.Err)
				}
				return joinErr
			}
		}
	}
	runtime.UnlockOSThread()
	return joinErr
}

// Enter opens pid, joins its namespaces ns with (*ProcessHandle).Enter
// and closes the handle again.
func Enter(pid int, ns Namespaces) (err error) {
	if ns.RequiresSingleThread() {
		return NewEnterError("join", pid, ns, ErrRequiresBootstrap)
	}

	h, err := Open(pid)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, h.Close())
	}()
	return h.Enter(ns)
}
