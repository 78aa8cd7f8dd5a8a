//go:build linux

// Package nsenter moves the calling process into the namespaces of
// another process through a pidfd, so the target cannot be confused
// with an unrelated process that later reuses its PID.
package nsenter

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Namespaces is a set of CLONE_NEW* namespace flags.
type Namespaces uint

const (
	Cgroup Namespaces = unix.CLONE_NEWCGROUP
	IPC    Namespaces = unix.CLONE_NEWIPC
	Net    Namespaces = unix.CLONE_NEWNET
	Mount  Namespaces = unix.CLONE_NEWNS
	PID    Namespaces = unix.CLONE_NEWPID
	User   Namespaces = unix.CLONE_NEWUSER
	UTS    Namespaces = unix.CLONE_NEWUTS

	// All is every namespace a container process is attached to.
	All = Cgroup | IPC | Net | Mount | PID | User | UTS
)

// kind describes one namespace type and its files under /proc/<pid>/ns.
type kind struct {
	ns   Namespaces
	name string
	// file is the namespace the process itself lives in; childFile,
	// when set, is the one its future children are created in.
	file      string
	childFile string
}

var kinds = []kind{
	{Cgroup, "cgroup", "cgroup", ""},
	{IPC, "ipc", "ipc", ""},
	{Net, "net", "net", ""},
	{Mount, "mnt", "mnt", ""},
	{PID, "pid", "pid", "pid_for_children"},
	{User, "user", "user", ""},
	{UTS, "uts", "uts", ""},
}

// ParseNamespaces parses a comma separated list of namespace names
// such as "net,uts".  "all" selects every namespace.
func ParseNamespaces(s string) (Namespaces, error) {
	var ns Namespaces
	for _, field := range strings.Split(s, ",") {
		name := strings.TrimSpace(field)
		if name == "" {
			continue
		}
		if name == "all" {
			ns |= All
			continue
		}
		if name == "mount" {
			name = "mnt"
		}
		found := false
		for _, k := range kinds {
			if k.name == name {
				ns |= k.ns
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown namespace %q", name)
		}
	}
	if ns == 0 {
		return 0, fmt.Errorf("no namespaces selected in %q", s)
	}
	return ns, nil
}

func (n Namespaces) String() string {
	if n == 0 {
		return "none"
	}
	names := n.Names()
	if rest := n &^ All; rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint(rest)))
	}
	return strings.Join(names, ",")
}

// Names returns the name of every kind in n, in a fixed order.
func (n Namespaces) Names() []string {
	var names []string
	for _, k := range kinds {
		if n&k.ns != 0 {
			names = append(names, k.name)
		}
	}
	return names
}

// Kinds splits n into single-kind sets, in the same order as Names.
func (n Namespaces) Kinds() []Namespaces {
	var out []Namespaces
	for _, k := range kinds {
		if n&k.ns != 0 {
			out = append(out, k.ns)
		}
	}
	return out
}

// RequiresSingleThread reports whether the kernel refuses to join n
// from a multithreaded process.  The Go runtime is always
// multithreaded, so such sets have to be joined by the bootstrap
// package before the runtime starts.
func (n Namespaces) RequiresSingleThread() bool {
	return n&(User|Mount) != 0
}
