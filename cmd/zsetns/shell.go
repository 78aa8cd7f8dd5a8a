//go:build linux && cgo

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rsturla/zsetns/pkg/environ"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// resolveShell picks the interactive shell binary.  An absolute
// preference is used as is, a bare name is searched in the container's
// PATH, and the user's login shell is the fallback.
func resolveShell(preference string, env *environ.SessionEnvironment) string {
	if preference != "" && filepath.IsAbs(preference) {
		return preference
	}
	if preference != "" {
		for _, dir := range filepath.SplitList(env.SearchPath) {
			if dir == "" {
				continue
			}
			candidate := filepath.Join(dir, preference)
			if isExecutable(candidate) {
				return candidate
			}
		}
	}
	if env.LoginShell != "" {
		return env.LoginShell
	}
	return environ.DefaultShell
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

// shellEnviron returns base with the session variables replaced.
func shellEnviron(base []string, env *environ.SessionEnvironment, shell string) []string {
	set := map[string]string{
		"HOME":     env.HomeDirectory,
		"USER":     env.Username,
		"HOST":     env.Hostname,
		"HOSTNAME": env.Hostname,
		"PATH":     env.SearchPath,
		"SHELL":    shell,
	}
	out := make([]string, 0, len(base)+len(set))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := set[name]; ok || name == "TMPDIR" {
			continue
		}
		out = append(out, kv)
	}
	for _, name := range []string{"HOME", "USER", "HOST", "HOSTNAME", "PATH", "SHELL"} {
		if set[name] != "" {
			out = append(out, name+"="+set[name])
		}
	}
	return out
}

// execShell replaces the process with an interactive shell running in
// the joined namespaces.  It only returns on failure.
func execShell(preference string, env *environ.SessionEnvironment) error {
	shell := resolveShell(preference, env)
	if err := unix.Chdir(env.HomeDirectory); err != nil {
		logrus.WithError(err).Debugf("cannot change to %s", env.HomeDirectory)
	}
	logrus.WithField("shell", shell).Debug("starting interactive shell")

	argv := []string{filepath.Base(shell), "-i"}
	if err := syscall.Exec(shell, argv, shellEnviron(os.Environ(), env, shell)); err != nil {
		return fmt.Errorf("exec %s: %w", shell, err)
	}
	return nil
}
