//go:build linux

// Package inject applies a discovered session environment to the
// interactive shell of the current terminal.  The shell's live state
// cannot be changed from outside, so the environment is written to an
// init script and the shell is made to source it by queueing the
// command on the terminal.
package inject

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rsturla/zsetns/pkg/environ"
	"golang.org/x/sys/unix"
)

// ErrIO wraps failures to write or flush the injected files.
var ErrIO = errors.New("i/o error")

const (
	// CacheFile is the name of the completion cache copy.
	CacheFile = "full.zwc"
	// ScriptFile is the name of the generated init script.
	ScriptFile = "zsetns-init.zsh"
)

// Injector writes the cache and init script and queues the source
// command.
type Injector struct {
	// Dir holds both files; empty means the temporary directory of
	// the current namespaces, determined after TMPDIR is dropped.
	Dir string
	// Terminal receives the source command; nil skips queueing.
	Terminal Terminal
}

// Result describes a completed injection.
type Result struct {
	CachePath  string
	ScriptPath string
	// Queued is true when the source command reached the terminal.
	Queued bool
	// TerminalErr is why queueing failed.  Both files are written
	// by then, so the script can still be sourced by hand.
	TerminalErr error
}

// Inject applies env.  Failing to write or flush either file is fatal;
// failing to reach the terminal is reported in the Result.
func (in *Injector) Inject(env *environ.SessionEnvironment, cache []byte) (*Result, error) {
	// TMPDIR was inherited from before the namespace switch.
	if err := os.Unsetenv("TMPDIR"); err != nil {
		return nil, fmt.Errorf("unsetting TMPDIR: %w", err)
	}

	dir := in.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	res := &Result{
		CachePath:  filepath.Join(dir, CacheFile),
		ScriptPath: filepath.Join(dir, ScriptFile),
	}

	if err := WriteSynced(res.CachePath, cache, 0644); err != nil {
		return nil, fmt.Errorf("%w: writing completion cache: %w", ErrIO, err)
	}

	script := Script(env, res.CachePath)
	if err := WriteSynced(res.ScriptPath, []byte(script), 0644); err != nil {
		return nil, fmt.Errorf("%w: writing init script: %w", ErrIO, err)
	}

	if in.Terminal != nil {
		res.TerminalErr = in.Terminal.Queue(SourceLine(res.ScriptPath))
		res.Queued = res.TerminalErr == nil
	}
	return res, nil
}

// WriteSynced replaces the contents of path with data and flushes it
// to stable storage before returning.  A symlink at path is refused.
func WriteSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
