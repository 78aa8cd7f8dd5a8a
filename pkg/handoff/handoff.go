//go:build linux && cgo

// Package handoff carries a decoded request and an open process handle
// across the execve that restarts zsetns in bootstrap mode.  The cache
// bytes travel in a sealed memfd so they are never re-read from a
// filesystem that may have changed with the mount namespace.
package handoff

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rsturla/zsetns/pkg/args"
	"github.com/rsturla/zsetns/pkg/nsenter"
	"github.com/rsturla/zsetns/pkg/nsenter/bootstrap"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	// EnvCacheFd carries the inherited memfd holding the cache bytes.
	EnvCacheFd = "_ZSETNS_CACHE_FD"
	// EnvCachePath carries the original cache path, for messages.
	EnvCachePath = "_ZSETNS_CACHE_PATH"
)

const roSeal = unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE

// State is what the bootstrap image receives.
type State struct {
	Request    *args.MigrationRequest
	Namespaces nsenter.Namespaces
}

// Pack prepares h and req to survive execve and returns the
// environment variables describing them.  Ownership of the pidfd moves
// to the next program image; h is released either way.
func Pack(h *nsenter.ProcessHandle, req *args.MigrationRequest, ns nsenter.Namespaces) (env []string, err error) {
	memfd, err := sealedCopy(req.Cache)
	if err != nil {
		return nil, multierr.Append(err, h.Close())
	}
	pidfd, err := h.Detach()
	if err != nil {
		return nil, multierr.Combine(err, h.Close(), unix.Close(memfd))
	}

	env = bootstrap.Env(pidfd, req.PID, ns)
	env = append(env,
		EnvCacheFd+"="+strconv.Itoa(memfd),
		EnvCachePath+"="+req.CachePath,
	)
	return env, nil
}

// Release closes the descriptors named by env, a result of Pack, when
// the execve that should have inherited them failed.
func Release(env []string) error {
	var err error
	for _, kv := range env {
		name, value, _ := strings.Cut(kv, "=")
		if name != bootstrap.EnvPidfd && name != EnvCacheFd {
			continue
		}
		fd, convErr := strconv.Atoi(value)
		if convErr != nil || fd < 0 {
			continue
		}
		err = multierr.Append(err, unix.Close(fd))
	}
	return err
}

// sealedCopy returns an inheritable, read-only memfd containing data.
func sealedCopy(data []byte) (int, error) {
	fd, err := unix.MemfdCreate("zsetns-cache", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, fmt.Errorf("handoff: memfd_create: %w", err)
	}
	for written := 0; written < len(data); {
		n, err := unix.Write(fd, data[written:])
		if err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("handoff: writing memfd: %w", err)
		}
		written += n
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, roSeal); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("handoff: sealing memfd: %w", err)
	}
	return fd, nil
}

// Unpack restores the State packed by the previous image and removes
// the handoff variables from the environment.  ok is false when this
// image was not started through a handoff.
func Unpack() (state *State, ok bool, err error) {
	fdStr, present := os.LookupEnv(EnvCacheFd)
	if !present {
		return nil, false, nil
	}
	path := os.Getenv(EnvCachePath)
	pidStr := os.Getenv(bootstrap.EnvPID)
	flagsStr := os.Getenv(bootstrap.EnvFlags)
	_ = os.Unsetenv(EnvCacheFd)
	_ = os.Unsetenv(EnvCachePath)
	bootstrap.Clear()

	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd < 0 {
		return nil, true, fmt.Errorf("handoff: bad %s %q", EnvCacheFd, fdStr)
	}
	cache, err := readMemfd(fd)
	if err != nil {
		return nil, true, err
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, true, fmt.Errorf("handoff: bad %s %q", bootstrap.EnvPID, pidStr)
	}
	flags, err := strconv.ParseUint(flagsStr, 10, 32)
	if err != nil {
		return nil, true, fmt.Errorf("handoff: bad %s %q", bootstrap.EnvFlags, flagsStr)
	}

	req, err := args.Restore(pid, path, cache)
	if err != nil {
		return nil, true, fmt.Errorf("handoff: %w", err)
	}
	return &State{Request: req, Namespaces: nsenter.Namespaces(flags)}, true, nil
}

func readMemfd(fd int) ([]byte, error) {
	unix.CloseOnExec(fd)
	f := os.NewFile(uintptr(fd), "zsetns-cache")
	if f == nil {
		return nil, fmt.Errorf("handoff: invalid cache descriptor %d", fd)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("handoff: rewinding cache: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("handoff: reading cache: %w", err)
	}
	return data, nil
}
