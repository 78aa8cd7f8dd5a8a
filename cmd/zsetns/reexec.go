//go:build linux && cgo

package main

import (
	"fmt"
	"os"
	"syscall"
)

// reexecBootstrap replaces the process with a fresh image of itself
// whose cgo constructor joins the target's namespaces before the Go
// runtime starts any threads.  Arguments are passed through unchanged
// so the new image parses the same flags.
func reexecBootstrap(env []string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot determine own executable path: %w", err)
	}
	// /proc/self/exe keeps working if the binary was replaced on disk.
	if _, err := os.Stat("/proc/self/exe"); err == nil {
		self = "/proc/self/exe"
	}

	// Exec replaces the process, which preserves the TTY and signals.
	if err := syscall.Exec(self, os.Args, append(os.Environ(), env...)); err != nil {
		return fmt.Errorf("exec %s: %w", self, err)
	}
	return nil
}
