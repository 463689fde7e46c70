package fuse

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/types"
)

// fakeDevice is a single-claim device serving a fixed message.
type fakeDevice struct {
	mu       sync.Mutex
	held     bool
	message  []byte
	written  [][]byte
	readErr  error
	writeErr error
}

func (d *fakeDevice) Open() (types.SessionHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return types.SessionHandle{}, errors.NewBusyError("open")
	}
	d.held = true
	return types.SessionHandle{ID: "s1", Sequence: 1}, nil
}

func (d *fakeDevice) Read(_ types.SessionHandle, offset int64) ([]byte, error) {
	if d.readErr != nil {
		return nil, d.readErr
	}
	if offset >= int64(len(d.message)) {
		return nil, nil
	}
	return d.message[offset:], nil
}

func (d *fakeDevice) Write(_ types.SessionHandle, data []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, append([]byte(nil), data...))
	return len(data), nil
}

func (d *fakeDevice) Close(types.SessionHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = false
	return nil
}

func newDetached(t *testing.T) (*Publisher, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "class")
	p, err := NewPublisher(Options{MountRoot: root, NodeMode: 0640, Detached: true}, nil)
	require.NoError(t, err)
	return p, root
}

func nodeFor(t *testing.T, p *Publisher, class, name string) *deviceNode {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.classes[class]
	require.True(t, ok)
	child := c.root.EmbeddedInode().GetChild(name)
	require.NotNil(t, child)
	node, ok := child.Operations().(*deviceNode)
	require.True(t, ok)
	return node
}

func TestNewPublisher_RequiresMountRoot(t *testing.T) {
	_, err := NewPublisher(Options{}, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestPublisher_ClassAndNode(t *testing.T) {
	p, root := newDetached(t)
	id := types.DeviceID{Major: 240, Minor: 0}

	class, err := p.CreateClass("jimbob_led")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "jimbob_led"), class.Path)
	assert.DirExists(t, class.Path)

	_, err = p.CreateClass("jimbob_led")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNamespaceFailed), "duplicate class")

	node, err := p.CreateNode(class, id, "jimbob_led")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(class.Path, "jimbob_led"), node.Path)
	assert.Equal(t, id, node.ID)

	_, err = p.CreateNode(class, id, "other")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNamespaceFailed), "duplicate id")

	_, err = p.CreateNode(types.ClassHandle{Name: "missing"}, id, "x")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNamespaceFailed), "unknown class")

	assert.Equal(t, []ClassInfo{{
		Name:  "jimbob_led",
		Path:  class.Path,
		Nodes: []string{"jimbob_led"},
	}}, p.Classes())

	var out fuse.AttrOut
	errno := nodeFor(t, p, "jimbob_led", "jimbob_led").Getattr(context.Background(), nil, &out)
	assert.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(fuse.S_IFREG|0640), out.Mode)
	assert.Equal(t, uint32(id.Dev()), out.Rdev)

	p.DestroyNode(class, id)
	assert.Equal(t, []string{}, p.Classes()[0].Nodes)
	p.DestroyNode(class, id)

	p.DestroyClass(class)
	assert.NoDirExists(t, class.Path)
	assert.Empty(t, p.Classes())
	p.DestroyClass(class)
}

func TestPublisher_InvalidNames(t *testing.T) {
	p, _ := newDetached(t)

	for _, name := range []string{"", ".", "..", "a/b"} {
		_, err := p.CreateClass(name)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig), name)
	}

	class, err := p.CreateClass("c")
	require.NoError(t, err)
	_, err = p.CreateNode(class, types.DeviceID{Major: 1}, "../x")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestPublisher_ExistingMountPointIsKept(t *testing.T) {
	p, root := newDetached(t)
	dir := filepath.Join(root, "kept")
	require.NoError(t, os.MkdirAll(dir, 0755))

	class, err := p.CreateClass("kept")
	require.NoError(t, err)
	p.DestroyClass(class)
	assert.DirExists(t, dir)
}

func TestDeviceNode_FileOperations(t *testing.T) {
	p, _ := newDetached(t)
	device := &fakeDevice{message: []byte("I have been read 1 times.\n")}
	class, err := p.CreateClass("jimbob_led")
	require.NoError(t, err)
	_, err = p.CreateNode(class, types.DeviceID{Major: 240}, "jimbob_led")
	require.NoError(t, err)

	node := nodeFor(t, p, "jimbob_led", "jimbob_led")
	ctx := context.Background()

	_, _, errno := node.Open(ctx, 0)
	assert.Equal(t, syscall.ENODEV, errno, "no device bound")

	p.Bind(device)
	fh, flags, errno := node.Open(ctx, syscall.O_RDWR)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(fuse.FOPEN_DIRECT_IO), flags)

	_, _, errno = node.Open(ctx, 0)
	assert.Equal(t, syscall.EBUSY, errno)

	handle := fh.(*deviceHandle)

	dest := make([]byte, 6)
	result, errno := handle.Read(ctx, dest, 0)
	require.Equal(t, syscall.Errno(0), errno)
	data, _ := result.Bytes(dest)
	assert.Equal(t, "I have", string(data))

	result, errno = handle.Read(ctx, make([]byte, 64), 100)
	require.Equal(t, syscall.Errno(0), errno)
	data, _ = result.Bytes(make([]byte, 64))
	assert.Empty(t, data)

	n, errno := handle.Write(ctx, []byte("1\n"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(2), n)
	assert.Equal(t, [][]byte{[]byte("1\n")}, device.written)

	device.readErr = errors.NewIOFault("read", nil)
	_, errno = handle.Read(ctx, dest, 0)
	assert.Equal(t, syscall.EFAULT, errno)

	device.writeErr = errors.NewError(errors.ErrCodeLineFailed, "stuck")
	_, errno = handle.Write(ctx, []byte("0"), 0)
	assert.Equal(t, syscall.EIO, errno)

	assert.Equal(t, syscall.Errno(0), handle.Release(ctx))
	_, _, errno = node.Open(ctx, 0)
	assert.Equal(t, syscall.Errno(0), errno, "released device can be opened again")

	stats := p.Stats()
	assert.Equal(t, int64(4), stats.Opens)
	assert.Equal(t, int64(3), stats.Reads)
	assert.Equal(t, int64(6), stats.BytesRead)
	assert.Equal(t, int64(2), stats.BytesWritten)
	assert.Equal(t, int64(4), stats.Errors)
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"busy", errors.NewBusyError("open"), syscall.EBUSY},
		{"io fault", errors.NewIOFault("read", nil), syscall.EFAULT},
		{"not initialized", errors.NewError(errors.ErrCodeNotInitialized, "x"), syscall.ENODEV},
		{"invalid state", errors.NewError(errors.ErrCodeInvalidState, "x"), syscall.EIO},
		{"plain", os.ErrClosed, syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toErrno(tt.err))
		})
	}
}

func TestMountsContain(t *testing.T) {
	mounts := "proc /proc proc rw 0 0\n" +
		"ledgate-jimbob_led /run/ledgate/class/jimbob_led fuse rw 0 0\n" +
		"tmpfs /mnt/with\\040space tmpfs rw 0 0\n"

	scan := func() *bufio.Scanner { return bufio.NewScanner(strings.NewReader(mounts)) }

	assert.True(t, mountsContain(scan(), "/run/ledgate/class/jimbob_led"))
	assert.True(t, mountsContain(scan(), "/mnt/with space"))
	assert.False(t, mountsContain(scan(), "/run/ledgate/class"))
}

func TestPublisher_UnmountRetriesOnlyWhileBusy(t *testing.T) {
	p, root := newDetached(t)

	calls := 0
	err := p.unmountRetrier(root).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &os.SyscallError{Syscall: "umount2", Err: syscall.EBUSY}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "busy unmounts are retried")

	calls = 0
	err = p.unmountRetrier(root).Do(context.Background(), func() error {
		calls++
		return syscall.EINVAL
	})
	assert.ErrorIs(t, err, syscall.EINVAL)
	assert.Equal(t, 1, calls, "other failures go straight to the lazy unmount")
}
