//go:build linux

package nsenter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// NamespaceID identifies a namespace by the device and inode of its
// nsfs file.
type NamespaceID struct {
	Dev uint64
	Ino uint64
}

func (id NamespaceID) String() string {
	return fmt.Sprintf("%d:%d", id.Dev, id.Ino)
}

// Snapshot records which namespace of each kind a process or thread
// belongs to.  Kinds the kernel does not expose are absent.
type Snapshot map[Namespaces]NamespaceID

// SnapshotPID records the namespaces pid itself lives in.
func SnapshotPID(pid int) (Snapshot, error) {
	return snapshot(filepath.Join("/proc", strconv.Itoa(pid), "ns"), false)
}

// SnapshotSelf records the namespaces of the calling OS thread.  For
// the PID namespace it records the one new children are created in,
// since that is what setns(2) changes.
func SnapshotSelf() (Snapshot, error) {
	return snapshot("/proc/thread-self/ns", true)
}

func snapshot(dir string, children bool) (Snapshot, error) {
	s := make(Snapshot, len(kinds))
	for _, k := range kinds {
		file := k.file
		if children && k.childFile != "" {
			file = k.childFile
		}
		path := filepath.Join(dir, file)

		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			if errors.Is(err, unix.ENOENT) && k.ns != Mount {
				continue
			}
			return nil, &os.PathError{Op: "stat", Path: path, Err: err}
		}
		s[k.ns] = NamespaceID{Dev: uint64(st.Dev), Ino: st.Ino}
	}
	return s, nil
}

// Diff returns the kinds present in both snapshots whose namespaces
// differ.
func (s Snapshot) Diff(other Snapshot) Namespaces {
	var changed Namespaces
	for ns, id := range s {
		if o, ok := other[ns]; ok && o != id {
			changed |= ns
		}
	}
	return changed
}
