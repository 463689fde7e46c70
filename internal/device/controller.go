package device

import (
	stderr "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/health"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// Ladder step names in acquisition order.
const (
	StepIdentity   = "identity"
	StepClass      = "class"
	StepNode       = "node"
	StepLineClaim  = "line-claim"
	StepLineConfig = "line-config"
)

// Collaborators are the host facilities the controller sequences.
type Collaborators struct {
	Registrar types.Registrar
	Publisher types.Publisher
	Line      types.LineDriver
	Transfer  types.Transfer
}

// Controller ties the ladder, gate, counter and command channel together
// behind the open/read/write/release contract.
type Controller struct {
	config  Config
	collab  Collaborators
	logger  *utils.Logger
	metrics types.MetricsCollector
	health  *health.Tracker

	// mu serializes Init and Shutdown and guards the acquired handles.
	mu       sync.Mutex
	identity types.DeviceID
	class    types.ClassHandle
	node     types.NodeHandle

	// ioMu keeps reads and writes out of teardown.
	ioMu sync.RWMutex

	ready atomic.Bool

	// closing is set under mu for the whole of Shutdown. Open re-checks it
	// after claiming the gate.
	closing  atomic.Bool
	gate     AccessGate
	ladder   *Ladder
	counter  *SessionCounter
	line     *OutputLine
	commands *CommandChannel
}

var _ types.DeviceFile = (*Controller)(nil)

// NewController creates an uninitialized controller. metrics may be nil.
func NewController(collab Collaborators, config Config, metrics types.MetricsCollector, logger *utils.Logger) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if collab.Registrar == nil || collab.Publisher == nil || collab.Line == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "registrar, publisher and line driver are required").
			WithComponent("controller")
	}
	if collab.Transfer == nil {
		collab.Transfer = types.DirectTransfer{}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	c := &Controller{
		config:  config,
		collab:  collab,
		logger:  logger.WithComponent("controller").WithField("device", config.Name),
		metrics: metrics,
		counter: NewSessionCounter(config.MessageCapacity),
		line:    NewOutputLine(collab.Line, config.LineID),
	}
	c.commands = NewCommandChannel(config.CommandBufferSize, collab.Transfer, c.line, logger)
	c.ladder = NewLadder(c.steps(), logger)
	if metrics != nil {
		c.ladder.SetMetrics(metrics)
	}
	return c, nil
}

// SetHealthTracker reports component health to tracker.
func (c *Controller) SetHealthTracker(tracker *health.Tracker) {
	for _, component := range []string{health.ComponentLadder, health.ComponentGate, health.ComponentLine, health.ComponentTransfer} {
		tracker.RegisterComponent(component)
	}
	c.health = tracker
}

func (c *Controller) steps() []Step {
	return []Step{
		{
			Name:    StepIdentity,
			Acquire: c.acquireIdentity,
			Release: func() {
				c.collab.Registrar.Unregister(c.identity, c.config.Count)
				c.identity = types.DeviceID{}
			},
		},
		{
			Name: StepClass,
			Acquire: func() error {
				class, err := c.collab.Publisher.CreateClass(c.config.ClassName)
				if err != nil {
					return err
				}
				c.class = class
				return nil
			},
			Release: func() {
				c.collab.Publisher.DestroyClass(c.class)
				c.class = types.ClassHandle{}
			},
		},
		{
			Name: StepNode,
			Acquire: func() error {
				node, err := c.collab.Publisher.CreateNode(c.class, c.identity, c.config.Name)
				if err != nil {
					return err
				}
				c.node = node
				return nil
			},
			Release: func() {
				c.collab.Publisher.DestroyNode(c.class, c.identity)
				c.node = types.NodeHandle{}
			},
		},
		{
			Name: StepLineClaim,
			Acquire: func() error {
				return c.collab.Line.Claim(c.config.LineID, c.config.LineLabel)
			},
			Release: func() {
				c.collab.Line.Release(c.config.LineID)
			},
		},
		{
			Name: StepLineConfig,
			Acquire: func() error {
				if err := c.collab.Line.ConfigureOutput(c.config.LineID, c.config.InitialOn); err != nil {
					return err
				}
				c.line.reset(c.config.InitialOn)
				return nil
			},
			// The line is left low when the device goes away.
			Release: func() {
				if err := c.line.Set(false); err != nil {
					c.logger.WithField("line", c.config.LineID).Warn("Failed to drive line low: %v", err)
				}
				c.line.reset(false)
			},
		},
	}
}

func (c *Controller) acquireIdentity() error {
	var (
		id  types.DeviceID
		err error
	)
	if c.config.Major != 0 {
		id, err = c.collab.Registrar.RegisterStatic(c.config.Major, c.config.Minor, c.config.Count, c.config.Name)
	} else {
		id, err = c.collab.Registrar.AllocateDynamic(c.config.Minor, c.config.Count, c.config.Name)
	}
	if err != nil {
		return err
	}
	c.identity = id
	c.logger.Info("Major = %d, Minor = %d", id.Major, id.Minor)
	return nil
}

// Init acquires every resource in order. On failure nothing is held and the
// error names the step that failed.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready.Load() {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "device already initialized").
			WithComponent("controller").
			WithOperation("init")
	}

	if err := c.ladder.Acquire(); err != nil {
		var deviceErr *errors.DeviceError
		if stderr.As(err, &deviceErr) {
			c.logger.Error("Init failed: %s", deviceErr.String())
			c.logger.Debug("Acquisition failed at:\n%s", deviceErr.Stack)
		} else {
			c.logger.Error("Init failed: %v", err)
		}
		c.recordHealth(health.ComponentLadder, err)
		if step, ok := errors.FailedStep(err); ok {
			c.recordMetadata(health.ComponentLadder, "last_failed_step", step)
		}
		return err
	}

	c.ready.Store(true)
	c.recordHealth(health.ComponentLadder, nil)
	c.recordMetadata(health.ComponentLadder, "identity", c.identity.String())
	c.recordMetadata(health.ComponentLadder, "node", c.node.Path)
	c.recordMetadata(health.ComponentLine, "line", c.config.LineID)
	if c.metrics != nil {
		c.metrics.SetLineLevel(c.line.IsOn())
		c.metrics.SetAccessBound(false)
	}
	c.logger.Info("Device %s ready at %s", c.config.Name, c.identity)
	return nil
}

// Shutdown releases every held resource in reverse order. It fails with
// DEVICE_BUSY while the device is open and is a no-op when uninitialized.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return nil
	}
	c.closing.Store(true)
	defer c.closing.Store(false)
	if !c.gate.TryClaim() {
		return errors.NewBusyError("shutdown").WithComponent("controller")
	}
	c.ready.Store(false)

	c.ioMu.Lock()
	c.ladder.Release()
	c.ioMu.Unlock()

	c.gate.Release()
	if c.metrics != nil {
		c.metrics.SetLineLevel(false)
	}
	c.logger.Info("Device %s shut down after %d sessions", c.config.Name, c.counter.Count())
	return nil
}

// Open claims the device and rewrites the status message. A second open
// before Close fails with DEVICE_BUSY.
func (c *Controller) Open() (types.SessionHandle, error) {
	start := time.Now()

	if !c.ready.Load() {
		c.recordOpen("not_initialized", start, false)
		return types.SessionHandle{}, notInitialized("open")
	}
	if !c.gate.TryClaim() {
		c.recordOpen("busy", start, false)
		c.logger.Debug("Open rejected, device busy")
		return types.SessionHandle{}, errors.NewBusyError("open")
	}
	// A Close can free the gate between Shutdown's claim and its ready
	// store, so closing is checked as well.
	if !c.ready.Load() || c.closing.Load() {
		c.gate.Release()
		c.recordOpen("not_initialized", start, false)
		return types.SessionHandle{}, notInitialized("open")
	}

	seq := c.counter.Record()
	handle := types.SessionHandle{
		ID:       uuid.NewString(),
		Sequence: seq,
		OpenedAt: start,
	}

	c.recordOpen("ok", start, true)
	c.recordHealth(health.ComponentGate, nil)
	if c.metrics != nil {
		c.metrics.SetAccessBound(true)
		c.metrics.SetSessions(seq)
	}
	c.logger.WithField("session", handle.ID).Debug("Opened session %d", seq)
	return handle, nil
}

// Close frees the device. The handle is not checked against the holder.
func (c *Controller) Close(handle types.SessionHandle) error {
	start := time.Now()
	c.gate.Release()

	if c.metrics != nil {
		c.metrics.SetAccessBound(false)
		c.metrics.RecordOperation("close", time.Since(start), 0, true)
	}
	c.logger.WithField("session", handle.ID).Debug("Closed session %d", handle.Sequence)
	return nil
}

// Read returns the status message from offset to its end. An offset at or
// past the end yields an empty result.
func (c *Controller) Read(handle types.SessionHandle, offset int64) ([]byte, error) {
	start := time.Now()

	c.ioMu.RLock()
	defer c.ioMu.RUnlock()

	if err := c.checkOpen("read"); err != nil {
		return nil, err
	}

	src := c.counter.Snapshot(offset)
	out := make([]byte, len(src))
	if err := c.collab.Transfer.CopyOut(out, src); err != nil {
		fault := errors.NewIOFault("read", err)
		c.recordHealth(health.ComponentTransfer, fault)
		c.recordOperation("read", start, 0, false)
		return nil, fault
	}

	c.recordHealth(health.ComponentTransfer, nil)
	c.recordOperation("read", start, int64(len(out)), true)
	return out, nil
}

// Write applies the command in the first byte of data and returns how many
// bytes were accepted.
func (c *Controller) Write(handle types.SessionHandle, data []byte) (int, error) {
	n, _, err := c.WriteCommand(handle, data)
	return n, err
}

// WriteCommand is Write that also names the command it decoded: on, off,
// empty or unknown.
func (c *Controller) WriteCommand(handle types.SessionHandle, data []byte) (int, string, error) {
	start := time.Now()

	c.ioMu.RLock()
	defer c.ioMu.RUnlock()

	if err := c.checkOpen("write"); err != nil {
		return 0, "", err
	}

	n, cmd, err := c.commands.Write(data)
	if err != nil {
		switch {
		case errors.IsIOFault(err):
			c.recordHealth(health.ComponentTransfer, err)
		case errors.HasCode(err, errors.ErrCodeLineFailed):
			c.recordHealth(health.ComponentLine, err)
		}
		c.recordOperation("write", start, 0, false)
		return 0, "", err
	}

	if c.metrics != nil {
		c.metrics.RecordCommand(cmd.String())
		if cmd == CommandOn || cmd == CommandOff {
			c.metrics.SetLineLevel(cmd == CommandOn)
		}
	}
	if cmd == CommandOn || cmd == CommandOff {
		c.recordHealth(health.ComponentLine, nil)
	}
	c.recordOperation("write", start, int64(n), true)
	return n, cmd.String(), nil
}

// Lifecycle returns the controller's current lifecycle state.
func (c *Controller) Lifecycle() types.Lifecycle {
	if !c.ready.Load() {
		return types.LifecycleUninitialized
	}
	if c.gate.Bound() {
		return types.LifecycleOpen
	}
	return types.LifecycleReady
}

// LineOn reports the last level the line was driven to.
func (c *Controller) LineOn() bool {
	return c.line.IsOn()
}

// Sessions returns the number of successful opens.
func (c *Controller) Sessions() uint64 {
	return c.counter.Count()
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() types.DeviceStatus {
	c.mu.Lock()
	identity := c.identity
	node := c.node
	c.mu.Unlock()

	status := types.DeviceStatus{
		Name:            c.config.Name,
		Lifecycle:       c.Lifecycle().String(),
		Access:          c.gate.State().String(),
		Sessions:        c.counter.Count(),
		Message:         c.counter.Message(),
		LineOn:          c.line.IsOn(),
		HeldSteps:       c.ladder.Held(),
		Node:            node.Path,
		CommandCapacity: c.commands.Capacity(),
		ObservedAt:      time.Now(),
	}
	if c.ready.Load() {
		status.Identity = &identity
	}
	return status
}

// Probe checks one health component. The ladder must hold every step while
// the device is ready and the line must accept its current level again. Gate
// and transfer have nothing to probe and always pass.
func (c *Controller) Probe(component string) error {
	c.ioMu.RLock()
	defer c.ioMu.RUnlock()

	if !c.ready.Load() {
		return nil
	}

	switch component {
	case health.ComponentLadder:
		if held := len(c.ladder.Held()); held != c.ladder.Len() {
			return errors.NewError(errors.ErrCodeInternalError,
				fmt.Sprintf("ladder holds %d of %d steps", held, c.ladder.Len())).
				WithComponent("controller").
				WithOperation("probe")
		}
	case health.ComponentLine:
		if err := c.line.Refresh(); err != nil {
			return errors.NewError(errors.ErrCodeLineFailed, "line refresh failed").
				WithComponent("controller").
				WithOperation("probe").
				WithCause(err)
		}
	}
	return nil
}

// Config returns the controller settings.
func (c *Controller) Config() Config {
	return c.config
}

func (c *Controller) checkOpen(operation string) error {
	if !c.ready.Load() {
		return notInitialized(operation)
	}
	if !c.gate.Bound() {
		return errors.NewError(errors.ErrCodeInvalidState, "device is not open").
			WithComponent("controller").
			WithOperation(operation)
	}
	return nil
}

func notInitialized(operation string) error {
	return errors.NewError(errors.ErrCodeNotInitialized, "device not initialized").
		WithComponent("controller").
		WithOperation(operation)
}

func (c *Controller) recordOpen(result string, start time.Time, success bool) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordOpen(result)
	c.metrics.RecordOperation("open", time.Since(start), 0, success)
}

func (c *Controller) recordOperation(operation string, start time.Time, size int64, success bool) {
	if c.metrics != nil {
		c.metrics.RecordOperation(operation, time.Since(start), size, success)
	}
}

func (c *Controller) recordMetadata(component, key string, value interface{}) {
	if c.health != nil {
		c.health.SetComponentMetadata(component, key, value)
	}
}

func (c *Controller) recordHealth(component string, err error) {
	if c.health == nil {
		return
	}
	if err != nil {
		c.health.RecordError(component, err)
		return
	}
	c.health.RecordSuccess(component)
}
