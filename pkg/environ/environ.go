//go:build linux

// Package environ re-derives the session environment (identity,
// hostname and search path) as seen from the namespaces the process
// currently lives in.  Environment variables inherited from before a
// namespace switch are never consulted.
package environ

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/sys/user"
	"golang.org/x/sys/unix"
)

// ErrDiscoveryFailed wraps every failure to build a SessionEnvironment.
var ErrDiscoveryFailed = errors.New("environment discovery failed")

// DefaultShell is used when the passwd entry leaves the shell empty,
// as passwd(5) specifies.
const DefaultShell = "/bin/sh"

// DefaultSearchPath resolves a shell given by bare name.  The inherited
// PATH belongs to the namespaces we left and is never used.
const DefaultSearchPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// pathMarker prefixes the line carrying $PATH so that anything profile
// scripts print to stdout is ignored.
const pathMarker = "__ZSETNS_PATH__"

// SessionEnvironment is the user-visible environment of a login
// session inside the current namespaces.
type SessionEnvironment struct {
	Username      string
	HomeDirectory string
	Hostname      string
	SearchPath    string
	LoginShell    string
}

// Discoverer builds a SessionEnvironment.  Zero fields use the
// production lookups.
type Discoverer struct {
	// LookupUID returns the account entry for a user id.
	LookupUID func(uid int) (user.User, error)
	// Hostname returns the kernel hostname of the current UTS namespace.
	Hostname func() (string, error)
	// Shell overrides the login shell used to compute the search path.
	Shell string
	// Timeout bounds the login shell run; zero waits indefinitely.
	Timeout time.Duration
}

// Discover must run after the namespace join: every value is read
// fresh from the current namespaces.
func (d *Discoverer) Discover(ctx context.Context) (*SessionEnvironment, error) {
	lookup := d.LookupUID
	if lookup == nil {
		lookup = user.LookupUid
	}
	hostname := d.Hostname
	if hostname == nil {
		hostname = KernelHostname
	}

	uid := os.Geteuid()
	u, err := lookup(uid)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up uid %d: %w", ErrDiscoveryFailed, uid, err)
	}

	host, err := hostname()
	if err != nil {
		return nil, fmt.Errorf("%w: reading hostname: %w", ErrDiscoveryFailed, err)
	}

	shell := u.Shell
	if shell == "" {
		shell = DefaultShell
	}
	if d.Shell != "" {
		shell = d.Shell
	}
	shell, err = LookShell(shell)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	searchPath, err := d.loginPath(ctx, shell)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	return &SessionEnvironment{
		Username:      u.Name,
		HomeDirectory: u.Home,
		Hostname:      host,
		SearchPath:    searchPath,
		LoginShell:    shell,
	}, nil
}

// loginPath runs shell as a non-interactive login shell with an empty
// environment and returns the PATH its startup files computed.
func (d *Discoverer) loginPath(ctx context.Context, shell string) (string, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	script := fmt.Sprintf(`printf '\n%s=%%s\n' "$PATH"`, pathMarker)
	cmd := exec.CommandContext(ctx, shell, "-l", "-c", script)
	cmd.Env = []string{}
	if d.Timeout > 0 {
		cmd.WaitDelay = time.Second
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("running login shell %s: %w: %s", shell, err, msg)
		}
		return "", fmt.Errorf("running login shell %s: %w", shell, err)
	}

	path, ok := ParseLoginPath(out)
	if !ok {
		return "", fmt.Errorf("login shell %s did not report PATH", shell)
	}
	return path, nil
}

// LookShell returns shell if it is absolute, otherwise the first
// executable of that name in DefaultSearchPath.
func LookShell(shell string) (string, error) {
	if filepath.IsAbs(shell) {
		return shell, nil
	}
	if shell == "" || strings.Contains(shell, "/") {
		return "", fmt.Errorf("invalid shell %q", shell)
	}
	for _, dir := range filepath.SplitList(DefaultSearchPath) {
		candidate := filepath.Join(dir, shell)
		fi, err := os.Stat(candidate)
		if err == nil && !fi.IsDir() && unix.Access(candidate, unix.X_OK) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("shell %q not found in %s", shell, DefaultSearchPath)
}

// ParseLoginPath extracts the PATH value from the login shell output.
// The last marker line wins.
func ParseLoginPath(out []byte) (string, bool) {
	prefix := pathMarker + "="
	lines := strings.Split(string(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if value, ok := strings.CutPrefix(lines[i], prefix); ok {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// KernelHostname returns the nodename of the calling thread's UTS
// namespace.
func KernelHostname() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", os.NewSyscallError("uname", err)
	}
	return unix.ByteSliceToString(uts.Nodename[:]), nil
}
