//go:build linux

package inject

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNoTerminal indicates there is no controlling terminal to queue
// input on.
var ErrNoTerminal = errors.New("no controlling terminal")

// Terminal queues bytes so the program reading the terminal sees them
// as typed input.  There is no acknowledgment: the bytes are consumed
// by whichever process reads the terminal next.
type Terminal interface {
	Queue(input []byte) error
}

// ControllingTTY is the device of the calling process' controlling
// terminal.
const ControllingTTY = "/dev/tty"

// TTY queues input with the TIOCSTI ioctl.  Kernels built or
// configured with dev.tty.legacy_tiocsti=0 refuse it with EIO.
type TTY struct {
	// Path of the terminal device; empty means ControllingTTY.
	Path string
}

// Queue pushes input into the terminal's input queue byte by byte.
func (t TTY) Queue(input []byte) error {
	path := t.Path
	if path == "" {
		path = ControllingTTY
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrNoTerminal, err)
		}
		return fmt.Errorf("opening terminal: %w", err)
	}
	defer f.Close()

	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("%w: %s is not a terminal", ErrNoTerminal, path)
	}

	for i, c := range input {
		if err := unix.IoctlSetString(fd, unix.TIOCSTI, string([]byte{c})); err != nil {
			return fmt.Errorf("queueing terminal input (%d of %d bytes sent): %w",
				i, len(input), os.NewSyscallError("ioctl(TIOCSTI)", err))
		}
	}
	return nil
}
