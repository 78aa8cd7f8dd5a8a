// Package args decodes the raw positional arguments of a zsetns
// invocation into a validated MigrationRequest.
package args

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"unicode/utf8"
)

var (
	// ErrMissingArgument indicates the argument list or one of its
	// elements is absent.
	ErrMissingArgument = errors.New("missing argument")

	// ErrTooManyArguments indicates more than a PID and a cache path
	// were supplied.
	ErrTooManyArguments = errors.New("too many arguments")

	// ErrInvalidPid indicates the first argument is not a positive
	// process id.
	ErrInvalidPid = errors.New("invalid pid")

	// ErrInvalidPath indicates the second argument is not usable as a
	// file path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrIO indicates the cache file could not be opened or read.
	ErrIO = errors.New("i/o error")
)

// maxPID is the largest value representable by pid_t.
const maxPID = 1<<31 - 1

// DecodeError reports which argument failed to decode.
type DecodeError struct {
	Arg string // "args", "pid" or "cache"
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Arg, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MigrationRequest is a validated request to move into the namespaces
// of PID and install Cache as the shell completion cache.
type MigrationRequest struct {
	PID       int
	CachePath string
	Cache     []byte
}

// FromStrings converts already-split string arguments into the raw
// form accepted by Decode.  A nil slice stays nil.
func FromStrings(argv []string) [][]byte {
	if argv == nil {
		return nil
	}
	raw := make([][]byte, len(argv))
	for i, a := range argv {
		raw[i] = []byte(a)
	}
	return raw
}

// Decode validates raw and reads the referenced cache file.  A nil raw
// models an absent argument array and a nil element an absent string.
// The cache file is read exactly once; the request never consults the
// filesystem again.
func Decode(raw [][]byte) (*MigrationRequest, error) {
	if raw == nil {
		return nil, &DecodeError{Arg: "args", Err: ErrMissingArgument}
	}
	if len(raw) > 2 {
		return nil, &DecodeError{Arg: "args", Err: fmt.Errorf("%w: got %d, want 2", ErrTooManyArguments, len(raw))}
	}
	if len(raw) < 1 || raw[0] == nil {
		return nil, &DecodeError{Arg: "pid", Err: ErrMissingArgument}
	}
	if len(raw) < 2 || raw[1] == nil {
		return nil, &DecodeError{Arg: "cache", Err: ErrMissingArgument}
	}

	pid, err := ParsePID(raw[0])
	if err != nil {
		return nil, &DecodeError{Arg: "pid", Err: err}
	}

	path, err := parsePath(raw[1])
	if err != nil {
		return nil, &DecodeError{Arg: "cache", Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Arg: "cache", Err: fmt.Errorf("%w: %w", ErrIO, err)}
	}
	if data == nil {
		data = []byte{}
	}

	return &MigrationRequest{
		PID:       pid,
		CachePath: path,
		Cache:     data,
	}, nil
}

// Restore rebuilds a request from values that were decoded earlier and
// carried across an exec.  It applies the same validation as Decode
// but reads no file.
func Restore(pid int, path string, cache []byte) (*MigrationRequest, error) {
	if pid <= 0 || pid > maxPID {
		return nil, &DecodeError{Arg: "pid", Err: fmt.Errorf("%w: %d", ErrInvalidPid, pid)}
	}
	if _, err := parsePath([]byte(path)); err != nil {
		return nil, &DecodeError{Arg: "cache", Err: err}
	}
	if cache == nil {
		return nil, &DecodeError{Arg: "cache", Err: ErrMissingArgument}
	}
	return &MigrationRequest{PID: pid, CachePath: path, Cache: cache}, nil
}

// ParsePID parses b as a decimal process id.  Signs, whitespace and
// any other surrounding bytes are rejected.
func ParsePID(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPid)
	}
	if !utf8.Valid(b) {
		return 0, fmt.Errorf("%w: not valid UTF-8", ErrInvalidPid)
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidPid, b)
		}
	}
	pid, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || pid > maxPID {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidPid, b)
	}
	if pid == 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidPid)
	}
	return int(pid), nil
}

func parsePath(b []byte) (string, error) {
	switch {
	case len(b) == 0:
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	case !utf8.Valid(b):
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidPath)
	case bytes.IndexByte(b, 0) >= 0:
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidPath)
	}
	return string(b), nil
}
