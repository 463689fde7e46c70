package fuse

import (
	"context"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/types"
)

// Stats counts device-file operations seen by the publisher.
type Stats struct {
	Opens        int64 `json:"opens"`
	Reads        int64 `json:"reads"`
	Writes       int64 `json:"writes"`
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
	Errors       int64 `json:"errors"`
}

type stats struct {
	opens        atomic.Int64
	reads        atomic.Int64
	writes       atomic.Int64
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
	errors       atomic.Int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Opens:        s.opens.Load(),
		Reads:        s.reads.Load(),
		Writes:       s.writes.Load(),
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
		Errors:       s.errors.Load(),
	}
}

// classDir is the root of a class mount. Its children are device nodes.
type classDir struct {
	fs.Inode
}

var _ fs.NodeGetattrer = (*classDir)(nil)

func (d *classDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0755
	return 0
}

// deviceNode is the device file. Every open is routed to the bound DeviceFile.
type deviceNode struct {
	fs.Inode
	publisher *Publisher
	id        types.DeviceID
	mode      uint32
}

var (
	_ fs.NodeOpener    = (*deviceNode)(nil)
	_ fs.NodeGetattrer = (*deviceNode)(nil)
	_ fs.NodeSetattrer = (*deviceNode)(nil)
)

func (n *deviceNode) fillAttr(out *fuse.Attr) {
	out.Mode = fuse.S_IFREG | n.mode
	out.Nlink = 1
	out.Size = 0
	out.Rdev = uint32(n.id.Dev())
	out.Uid = n.publisher.options.UID
	out.Gid = n.publisher.options.GID
}

// Getattr reports a zero-sized file carrying the device id.
func (n *deviceNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fillAttr(&out.Attr)
	return 0
}

// Setattr accepts the truncation that shell redirection sends and changes nothing.
func (n *deviceNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.fillAttr(&out.Attr)
	return 0
}

// Open claims the device for the caller.
func (n *deviceNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.publisher.stats.opens.Add(1)

	device := n.publisher.device()
	if device == nil {
		return nil, 0, n.publisher.fail("open", errors.NewError(errors.ErrCodeNotInitialized, "no device bound"))
	}

	handle, err := device.Open()
	if err != nil {
		return nil, 0, n.publisher.fail("open", err)
	}

	return &deviceHandle{publisher: n.publisher, device: device, session: handle}, fuse.FOPEN_DIRECT_IO, 0
}

// deviceHandle is one open file description on a device node.
type deviceHandle struct {
	publisher *Publisher
	device    types.DeviceFile
	session   types.SessionHandle
}

var (
	_ fs.FileReader   = (*deviceHandle)(nil)
	_ fs.FileWriter   = (*deviceHandle)(nil)
	_ fs.FileReleaser = (*deviceHandle)(nil)
)

// Read returns the status message from off, cut to the kernel buffer.
func (h *deviceHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.publisher.stats.reads.Add(1)

	data, err := h.device.Read(h.session, off)
	if err != nil {
		return nil, h.publisher.fail("read", err)
	}
	if len(data) > len(dest) {
		data = data[:len(dest)]
	}

	h.publisher.stats.bytesRead.Add(int64(len(data)))
	return fuse.ReadResultData(data), 0
}

// Write hands the bytes to the command channel and reports how many it accepted.
func (h *deviceHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.publisher.stats.writes.Add(1)

	n, err := h.device.Write(h.session, data)
	if err != nil {
		return 0, h.publisher.fail("write", err)
	}

	h.publisher.stats.bytesWritten.Add(int64(n))
	return uint32(n), 0
}

// Release gives the claim back.
func (h *deviceHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.device.Close(h.session); err != nil {
		return h.publisher.fail("release", err)
	}
	return 0
}

// toErrno maps device errors onto the codes a file caller expects.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	code, ok := errors.GetCode(err)
	if !ok {
		return syscall.EIO
	}
	switch code {
	case errors.ErrCodeDeviceBusy:
		return syscall.EBUSY
	case errors.ErrCodeIOFault:
		return syscall.EFAULT
	case errors.ErrCodeNotInitialized:
		return syscall.ENODEV
	default:
		return syscall.EIO
	}
}
