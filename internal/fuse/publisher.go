package fuse

import (
	"context"
	stderr "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/retry"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// Options configures a Publisher.
type Options struct {
	MountRoot  string
	Debug      bool
	AllowOther bool
	NodeMode   uint32
	UID        uint32
	GID        uint32

	// Detached builds the class trees in memory without mounting them.
	Detached bool
}

// ClassInfo describes a published class.
type ClassInfo struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Mounted bool     `json:"mounted"`
	Nodes   []string `json:"nodes"`
}

type classMount struct {
	handle  types.ClassHandle
	root    *classDir
	server  *fuse.Server
	created bool
	nodes   map[types.DeviceID]string
}

// Publisher exposes devices as files under a FUSE mount per class.
type Publisher struct {
	mu      sync.Mutex
	options Options
	classes map[string]*classMount
	stats   stats
	logger  *utils.Logger

	boundMu sync.RWMutex
	bound   types.DeviceFile
}

var _ types.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher rooted at options.MountRoot.
func NewPublisher(options Options, logger *utils.Logger) (*Publisher, error) {
	if options.MountRoot == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "mount root cannot be empty").
			WithComponent("fuse")
	}
	if options.NodeMode == 0 {
		options.NodeMode = 0666
	}
	options.NodeMode &= 07777
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Publisher{
		options: options,
		classes: make(map[string]*classMount),
		logger:  logger.WithComponent("fuse"),
	}, nil
}

// Bind routes file operations on every node to device.
func (p *Publisher) Bind(device types.DeviceFile) {
	p.boundMu.Lock()
	defer p.boundMu.Unlock()
	p.bound = device
}

func (p *Publisher) device() types.DeviceFile {
	p.boundMu.RLock()
	defer p.boundMu.RUnlock()
	return p.bound
}

// CreateClass mounts an empty class directory at <mount_root>/<name>.
func (p *Publisher) CreateClass(name string) (types.ClassHandle, error) {
	if err := validName(name); err != nil {
		return types.ClassHandle{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.classes[name]; exists {
		return types.ClassHandle{}, namespaceError("create_class", "class already exists", nil).
			WithContext("class", name)
	}

	dir := filepath.Join(p.options.MountRoot, name)
	created, err := ensureMountPoint(dir, p.logger)
	if err != nil {
		return types.ClassHandle{}, namespaceError("create_class", "invalid mount point", err).
			WithContext("class", name)
	}

	class := &classMount{
		handle:  types.ClassHandle{Name: name, Path: dir},
		root:    &classDir{},
		created: created,
		nodes:   make(map[types.DeviceID]string),
	}

	opts := buildOptions(name, p.options)
	if p.options.Detached {
		fs.NewNodeFS(class.root, opts)
	} else {
		server, err := fs.Mount(dir, class.root, opts)
		if err != nil {
			if created {
				_ = os.Remove(dir)
			}
			return types.ClassHandle{}, namespaceError("create_class", "failed to mount class", err).
				WithContext("class", name)
		}
		class.server = server

		go func() {
			server.Wait()
			p.logger.Debug("FUSE server for %s stopped", dir)
		}()
	}

	p.classes[name] = class
	p.logger.Info("Class %s published at %s", name, dir)
	return class.handle, nil
}

// DestroyClass unmounts the class and removes its directory if CreateClass made it.
func (p *Publisher) DestroyClass(handle types.ClassHandle) {
	p.mu.Lock()
	class, ok := p.classes[handle.Name]
	delete(p.classes, handle.Name)
	p.mu.Unlock()

	if !ok {
		return
	}
	p.teardown(class)
}

func (p *Publisher) teardown(class *classMount) {
	dir := class.handle.Path
	if class.server != nil {
		if err := p.unmountRetrier(dir).Do(context.Background(), class.server.Unmount); err != nil {
			p.logger.Warn("Normal unmount of %s failed, trying lazy unmount: %v", dir, err)
			if forceErr := forceUnmount(dir); forceErr != nil {
				p.logger.Error("Unmount of %s failed: %v", dir, forceErr)
			}
		}
	}
	if class.created {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("Failed to remove %s: %v", dir, err)
		}
	}
	p.logger.Info("Class %s removed", class.handle.Name)
}

// unmountRetrier retries an unmount while the kernel reports the mount busy,
// which happens while a released handle is still being flushed.
func (p *Publisher) unmountRetrier(dir string) *retry.Retryer {
	return retry.New(retry.Config{
		RetryIf: isBusy,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			p.logger.Debug("Unmount of %s busy (attempt %d), retrying in %v: %v", dir, attempt, delay, err)
		},
	})
}

func isBusy(err error) bool {
	return stderr.Is(err, syscall.EBUSY)
}

// CreateNode adds the device file name to the class.
func (p *Publisher) CreateNode(handle types.ClassHandle, id types.DeviceID, name string) (types.NodeHandle, error) {
	if err := validName(name); err != nil {
		return types.NodeHandle{}, err
	}

	p.mu.Lock()
	class, ok := p.classes[handle.Name]
	if !ok {
		p.mu.Unlock()
		return types.NodeHandle{}, namespaceError("create_node", "class not found", nil).
			WithContext("class", handle.Name)
	}
	if _, exists := class.nodes[id]; exists {
		p.mu.Unlock()
		return types.NodeHandle{}, namespaceError("create_node", "node already exists", nil).
			WithContext("device", id.String())
	}

	parent := class.root.EmbeddedInode()
	if parent.GetChild(name) != nil {
		p.mu.Unlock()
		return types.NodeHandle{}, namespaceError("create_node", "name already in use", nil).
			WithContext("node", name)
	}

	node := &deviceNode{publisher: p, id: id, mode: p.options.NodeMode}
	child := parent.NewPersistentInode(context.Background(), node, fs.StableAttr{Mode: fuse.S_IFREG})
	parent.AddChild(name, child, false)
	class.nodes[id] = name
	mounted := class.server != nil
	p.mu.Unlock()

	// Kernel notifications are sent without p.mu held.
	if mounted {
		parent.NotifyEntry(name)
	}

	path := filepath.Join(class.handle.Path, name)
	p.logger.Info("Device node %s created for %s", path, id)
	return types.NodeHandle{Class: class.handle, ID: id, Name: name, Path: path}, nil
}

// DestroyNode removes the device file for id.
func (p *Publisher) DestroyNode(handle types.ClassHandle, id types.DeviceID) {
	p.mu.Lock()
	class, ok := p.classes[handle.Name]
	if !ok {
		p.mu.Unlock()
		return
	}
	name, ok := class.nodes[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(class.nodes, id)

	parent := class.root.EmbeddedInode()
	if child := parent.GetChild(name); child != nil {
		child.ForgetPersistent()
	}
	parent.RmChild(name)
	mounted := class.server != nil
	p.mu.Unlock()

	if mounted {
		if errno := parent.NotifyEntry(name); errno != 0 && errno != syscall.ENOENT {
			p.logger.Debug("Entry notify for %s: %v", name, errno)
		}
	}
	p.logger.Info("Device node %s removed", name)
}

// Classes lists the published classes.
func (p *Publisher) Classes() []ClassInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ClassInfo, 0, len(p.classes))
	for _, class := range p.classes {
		info := ClassInfo{
			Name:    class.handle.Name,
			Path:    class.handle.Path,
			Mounted: class.server != nil,
			Nodes:   make([]string, 0, len(class.nodes)),
		}
		for _, name := range class.nodes {
			info.Nodes = append(info.Nodes, name)
		}
		sort.Strings(info.Nodes)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns device-file operation counts.
func (p *Publisher) Stats() Stats {
	return p.stats.snapshot()
}

// Close unmounts every class still published.
func (p *Publisher) Close() {
	p.mu.Lock()
	classes := p.classes
	p.classes = make(map[string]*classMount)
	p.mu.Unlock()

	for _, class := range classes {
		p.teardown(class)
	}
}

func (p *Publisher) fail(operation string, err error) syscall.Errno {
	p.stats.errors.Add(1)
	errno := toErrno(err)
	p.logger.Debug("%s failed (%v): %v", operation, errno, err)
	return errno
}

func buildOptions(name string, options Options) *fs.Options {
	timeout := time.Second
	return &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        "ledgate",
			FsName:      fmt.Sprintf("ledgate-%s", name),
			DirectMount: true,
			Debug:       options.Debug,
			AllowOther:  options.AllowOther,
		},
		AttrTimeout:  &timeout,
		EntryTimeout: &timeout,
		UID:          options.UID,
		GID:          options.GID,
	}
}

func validName(name string) error {
	if err := utils.ValidateName(name); err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid name %q", name)).
			WithComponent("fuse").
			WithCause(err)
	}
	return nil
}

func namespaceError(operation, message string, cause error) *errors.DeviceError {
	err := errors.NewError(errors.ErrCodeNamespaceFailed, message).
		WithComponent("fuse").
		WithOperation(operation)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
