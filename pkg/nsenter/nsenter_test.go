//go:build linux

package nsenter

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// missingPID is above any pid_max the kernel accepts.
const missingPID = math.MaxInt32

func TestParseNamespaces(t *testing.T) {
	tests := []struct {
		in      string
		want    Namespaces
		wantErr bool
	}{
		{in: "all", want: All},
		{in: "net", want: Net},
		{in: "net,uts", want: Net | UTS},
		{in: " ipc , pid ", want: IPC | PID},
		{in: "mount", want: Mount},
		{in: "cgroup,ipc,net,mnt,pid,user,uts", want: All},
		{in: "net,all", want: All},
		{in: "", wantErr: true},
		{in: ",", wantErr: true},
		{in: "time", wantErr: true},
		{in: "net,bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNamespaces(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNamespacesString(t *testing.T) {
	assert.Equal(t, "none", Namespaces(0).String())
	assert.Equal(t, "net,uts", (UTS | Net).String())
	assert.Equal(t, "cgroup,ipc,net,mnt,pid,user,uts", All.String())

	for _, k := range kinds {
		parsed, err := ParseNamespaces(k.ns.String())
		require.NoError(t, err)
		assert.Equal(t, k.ns, parsed)
	}
}

func TestNamespacesKinds(t *testing.T) {
	assert.Equal(t, []string{"net", "uts"}, (UTS | Net).Names())
	assert.Equal(t, []Namespaces{Net, UTS}, (UTS | Net).Kinds())
	assert.Len(t, All.Kinds(), 7)
	assert.Empty(t, Namespaces(0).Kinds())
}

func TestRequiresSingleThread(t *testing.T) {
	assert.True(t, All.RequiresSingleThread())
	assert.True(t, User.RequiresSingleThread())
	assert.True(t, (Mount | Net).RequiresSingleThread())
	assert.False(t, (Net | UTS | IPC | Cgroup | PID).RequiresSingleThread())
}

func TestOpenMissingProcess(t *testing.T) {
	h, err := Open(missingPID)
	require.Error(t, err)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrProcessNotFound)
	assert.ErrorIs(t, err, unix.ESRCH)

	var ee *EnterError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "open", ee.Op)
	assert.Equal(t, missingPID, ee.PID)
}

func TestOpenInvalidPID(t *testing.T) {
	_, err := Open(0)
	assert.ErrorIs(t, err, ErrProcessNotFound)
	_, err = Open(-5)
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestEnterMissingProcessChangesNothing(t *testing.T) {
	before, err := SnapshotPID(os.Getpid())
	require.NoError(t, err)

	err = Enter(missingPID, Net|UTS)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessNotFound)

	var ee *EnterError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "open", ee.Op)

	after, err := SnapshotPID(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnterRefusesSingleThreadedSets(t *testing.T) {
	err := Enter(os.Getpid(), All)
	assert.ErrorIs(t, err, ErrRequiresBootstrap)

	var ee *EnterError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "join", ee.Op)
	assert.Equal(t, All, ee.Namespaces)
}

func TestProcessHandleLifecycle(t *testing.T) {
	h, err := Open(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), h.PID())
	assert.GreaterOrEqual(t, h.Fd(), 0)

	require.NoError(t, h.Close())
	assert.Equal(t, -1, h.Fd())
	assert.NoError(t, h.Close(), "second close is a no-op")

	err = h.Join(Net)
	assert.ErrorIs(t, err, os.ErrClosed)

	_, err = h.Detach()
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestProcessHandleJoinRejectsBadSets(t *testing.T) {
	h, err := Open(os.Getpid())
	require.NoError(t, err)
	defer h.Close()

	assert.Error(t, h.Join(0))
	assert.Error(t, h.Join(Namespaces(unix.CLONE_VM)))
}

func TestProcessHandleDetach(t *testing.T) {
	h, err := Open(os.Getpid())
	require.NoError(t, err)

	fd, err := h.Detach()
	require.NoError(t, err)
	defer unix.Close(fd)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.Zero(t, flags&unix.FD_CLOEXEC)

	assert.Equal(t, -1, h.Fd())
	assert.NoError(t, h.Close(), "detached handle no longer owns the fd")
}

func TestEnterOwnNamespaces(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("joining namespaces requires root")
	}

	// Enter leaves the goroutine locked to a thread on success; run it
	// on a throwaway goroutine so the test's own thread is untouched.
	errc := make(chan error, 1)
	go func() {
		errc <- Enter(os.Getpid(), UTS|IPC|Net)
	}()
	err := <-errc
	if errors.Is(err, ErrOperationNotPermitted) {
		t.Skipf("no CAP_SYS_ADMIN: %v", err)
	}
	require.NoError(t, err)
}

func TestSnapshotSelfMatchesProcess(t *testing.T) {
	proc, err := SnapshotPID(os.Getpid())
	require.NoError(t, err)
	self, err := SnapshotSelf()
	require.NoError(t, err)

	assert.Contains(t, proc, Mount)
	assert.Contains(t, self, Net)
	assert.Equal(t, Namespaces(0), proc.Diff(self))
}

func TestSnapshotMissingProcess(t *testing.T) {
	_, err := SnapshotPID(missingPID)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSnapshotDiff(t *testing.T) {
	a := Snapshot{Net: {1, 10}, UTS: {1, 11}, IPC: {1, 12}}
	b := Snapshot{Net: {1, 10}, UTS: {1, 99}, PID: {1, 13}}

	assert.Equal(t, UTS, a.Diff(b))
	assert.Equal(t, UTS, b.Diff(a))
	assert.Equal(t, Namespaces(0), a.Diff(a))
}

func TestNewEnterError(t *testing.T) {
	assert.NoError(t, NewEnterError("join", 1, Net, nil))

	tests := []struct {
		errno unix.Errno
		want  error
	}{
		{unix.ESRCH, ErrProcessNotFound},
		{unix.EACCES, ErrPermissionDenied},
		{unix.EPERM, ErrOperationNotPermitted},
		{unix.EINVAL, unix.EINVAL},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			err := NewEnterError("join", 42, Net|UTS, os.NewSyscallError("setns", tt.errno))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.errno)
			assert.Contains(t, err.Error(), "join net,uts of pid 42")
		})
	}
}

func TestSharedWithSelf(t *testing.T) {
	h, err := Open(os.Getpid())
	require.NoError(t, err)
	defer h.Close()

	self, err := SnapshotSelf()
	require.NoError(t, err)
	var exposed Namespaces
	for ns := range self {
		exposed |= ns
	}

	shared, err := h.Shared(All)
	require.NoError(t, err)
	assert.Equal(t, exposed, shared, "every namespace is shared with ourselves")
	assert.NotZero(t, shared&User, "the user namespace must never be joined again")

	shared, err = h.Shared(Net | UTS)
	require.NoError(t, err)
	assert.Equal(t, Net|UTS, shared)
}

func TestSharedClosedHandle(t *testing.T) {
	h, err := Open(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, h.Close())
	_, err = h.Shared(All)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestAdopt(t *testing.T) {
	h, err := Open(os.Getpid())
	require.NoError(t, err)
	fd, err := h.Detach()
	require.NoError(t, err)

	adopted := Adopt(os.Getpid(), fd)
	assert.Equal(t, fd, adopted.Fd())
	assert.Equal(t, os.Getpid(), adopted.PID())
	require.NoError(t, adopted.Close())
	assert.Equal(t, -1, adopted.Fd())
}

func TestHandleEnterRefusesSingleThreadedSets(t *testing.T) {
	h, err := Open(os.Getpid())
	require.NoError(t, err)
	defer h.Close()
	assert.ErrorIs(t, h.Enter(Mount|Net), ErrRequiresBootstrap)
}
