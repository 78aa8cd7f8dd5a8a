//go:build linux && cgo

// Package bootstrap joins the namespaces of a target process before
// the Go runtime starts, while the process is still single-threaded.
// The kernel only allows joining user and mount namespaces from a
// single-threaded process, which a running Go program never is.
//
// Importing the package installs a constructor that looks at two
// environment variables set by the process that re-executed us:
//
//	_ZSETNS_PIDFD    inherited pidfd of the target process
//	_ZSETNS_NSFLAGS  decimal CLONE_NEW* flags to join
//
// The constructor calls setns(2) once for every requested kind except
// the PID namespace.  Joining that one changes the namespace of new
// children, and the kernel then refuses to create threads, which the
// runtime needs to start.  The pidfd is kept for Result, which joins
// the PID namespace on a locked OS thread once the runtime is up.
// Otherwise the pidfd is closed whether or not the join succeeded.
package bootstrap

/*
#cgo CFLAGS: -Wall
#define _GNU_SOURCE
#include <errno.h>
#include <fcntl.h>
#include <limits.h>
#include <sched.h>
#include <stdlib.h>
#include <unistd.h>

enum {
	ZSETNS_NOT_ATTEMPTED = 0,
	ZSETNS_JOINED,
	ZSETNS_BAD_HANDOFF,
	ZSETNS_JOIN_FAILED,
};

static int zsetns_state = ZSETNS_NOT_ATTEMPTED;
static int zsetns_errno;
static int zsetns_flags;
static int zsetns_pidfd = -1;

static int parse_int(const char *s, int *out)
{
	char *end;
	long v;

	if (s == NULL || *s == '\0')
		return -1;
	errno = 0;
	v = strtol(s, &end, 10);
	if (errno != 0 || *end != '\0' || v < 0 || v > INT_MAX)
		return -1;
	*out = (int)v;
	return 0;
}

__attribute__((constructor)) static void zsetns_nsexec(void)
{
	const char *fdenv = getenv("_ZSETNS_PIDFD");
	const char *flagsenv = getenv("_ZSETNS_NSFLAGS");
	int fd, flags;

	if (fdenv == NULL && flagsenv == NULL)
		return;

	if (parse_int(fdenv, &fd) < 0 || parse_int(flagsenv, &flags) < 0) {
		zsetns_state = ZSETNS_BAD_HANDOFF;
		zsetns_errno = EINVAL;
		return;
	}
	zsetns_flags = flags;

	if ((flags & ~CLONE_NEWPID) != 0 && setns(fd, flags & ~CLONE_NEWPID) < 0) {
		zsetns_state = ZSETNS_JOIN_FAILED;
		zsetns_errno = errno;
		close(fd);
		return;
	}
	zsetns_state = ZSETNS_JOINED;

	if (flags & CLONE_NEWPID) {
		fcntl(fd, F_SETFD, FD_CLOEXEC);
		zsetns_pidfd = fd;
	} else {
		close(fd);
	}
}

static int zsetns_take_pidfd(void)
{
	int fd = zsetns_pidfd;

	zsetns_pidfd = -1;
	return fd;
}

static int zsetns_result_state(void) { return zsetns_state; }
static int zsetns_result_errno(void) { return zsetns_errno; }
static int zsetns_result_flags(void) { return zsetns_flags; }
*/
import "C"

import (
	"errors"
	"os"
	"strconv"

	"github.com/rsturla/zsetns/pkg/nsenter"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	// EnvPidfd names the variable carrying the inherited pidfd.
	EnvPidfd = "_ZSETNS_PIDFD"
	// EnvFlags names the variable carrying the namespace flags.
	EnvFlags = "_ZSETNS_NSFLAGS"
	// EnvPID carries the target PID for error reporting only.
	EnvPID = "_ZSETNS_PID"
)

// Keep in sync with the enum in the preamble.
const (
	stateNotAttempted = iota
	stateJoined
	stateBadHandoff
	stateJoinFailed
)

// ErrBadHandoff indicates the bootstrap variables were malformed.
var ErrBadHandoff = errors.New("malformed namespace handoff")

// Env returns the variables that make the constructor join ns through
// the inherited descriptor fd.
func Env(fd, pid int, ns nsenter.Namespaces) []string {
	return []string{
		EnvPidfd + "=" + strconv.Itoa(fd),
		EnvFlags + "=" + strconv.FormatUint(uint64(ns), 10),
		EnvPID + "=" + strconv.Itoa(pid),
	}
}

// Result reports whether the constructor attempted a join, and the
// join error if it failed.  If the set includes the PID namespace,
// Result joins it through the kept pidfd; the calling goroutine stays
// locked to its OS thread on success, as with nsenter.Enter.  pid is
// the target, for error reporting.
func Result(pid int) (attempted bool, err error) {
	ns := nsenter.Namespaces(C.zsetns_result_flags())

	switch int(C.zsetns_result_state()) {
	case stateNotAttempted:
		return false, nil
	case stateJoined:
		return true, joinPID(pid)
	case stateBadHandoff:
		return true, &nsenter.EnterError{Op: "join", PID: pid, Namespaces: ns, Err: ErrBadHandoff}
	default:
		errno := unix.Errno(C.zsetns_result_errno())
		return true, nsenter.NewEnterError("join", pid, ns&^nsenter.PID, os.NewSyscallError("setns", errno))
	}
}

func joinPID(pid int) (err error) {
	fd := int(C.zsetns_take_pidfd())
	if fd < 0 {
		return nil
	}
	h := nsenter.Adopt(pid, fd)
	defer func() {
		err = multierr.Append(err, h.Close())
	}()
	return h.Enter(nsenter.PID)
}

// Clear removes the bootstrap variables so programs started later do
// not inherit them.
func Clear() {
	for _, key := range []string{EnvPidfd, EnvFlags, EnvPID} {
		_ = os.Unsetenv(key)
	}
}
