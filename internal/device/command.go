package device

import (
	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// DefaultCommandCapacity is the number of bytes a single write can stage.
// It shares the status message's size.
const DefaultCommandCapacity = DefaultMessageCapacity

// Command is the action decoded from the first byte of a write.
type Command int

const (
	CommandUnknown Command = iota
	CommandOff
	CommandOn
	CommandEmpty
)

// String returns the string representation of the command
func (c Command) String() string {
	switch c {
	case CommandOff:
		return "off"
	case CommandOn:
		return "on"
	case CommandEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// CommandChannel stages written bytes and turns the first one into a line
// command. Bytes past capacity are dropped without error.
type CommandChannel struct {
	capacity int
	transfer types.Transfer
	line     *OutputLine
	logger   *utils.Logger
}

// NewCommandChannel creates a channel that drives line.
func NewCommandChannel(capacity int, transfer types.Transfer, line *OutputLine, logger *utils.Logger) *CommandChannel {
	if capacity <= 0 {
		capacity = DefaultCommandCapacity
	}
	if transfer == nil {
		transfer = types.DirectTransfer{}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &CommandChannel{
		capacity: capacity,
		transfer: transfer,
		line:     line,
		logger:   logger.WithComponent("command"),
	}
}

// Capacity returns the staging buffer size.
func (c *CommandChannel) Capacity() int {
	return c.capacity
}

// Write stages up to capacity bytes of data and applies the command in the
// first byte. It returns the number of bytes accepted. Unrecognised commands
// are logged and still succeed.
func (c *CommandChannel) Write(data []byte) (int, Command, error) {
	n := len(data)
	if n > c.capacity {
		n = c.capacity
	}

	staged := make([]byte, n)
	if err := c.transfer.CopyIn(staged, data); err != nil {
		return 0, CommandUnknown, errors.NewIOFault("write", err)
	}

	if n == 0 {
		c.logger.Info("Empty command ignored")
		return 0, CommandEmpty, nil
	}

	var cmd Command
	switch staged[0] {
	case '0':
		cmd = CommandOff
	case '1':
		cmd = CommandOn
	default:
		c.logger.WithField("byte", staged[0]).Info("Unknown command %q", staged[0])
		return n, CommandUnknown, nil
	}

	if err := c.line.Set(cmd == CommandOn); err != nil {
		return 0, cmd, errors.NewError(errors.ErrCodeLineFailed, "failed to drive line").
			WithComponent("command").
			WithOperation("write").
			WithCause(err).
			WithDetail("line", c.line.ID()).
			WithDetail("command", cmd.String())
	}

	c.logger.WithField("line", c.line.ID()).Debug("Line %s", cmd)
	return n, cmd, nil
}
