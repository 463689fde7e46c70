package gpio

import (
	"strconv"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// CdevDriver drives lines through the GPIO character device. Line ids are
// either offsets on the configured chip or line names found on any chip.
type CdevDriver struct {
	mu     sync.Mutex
	chip   string
	lines  map[string]*gpiocdev.Line
	logger *utils.Logger
}

var _ types.LineDriver = (*CdevDriver)(nil)

// NewCdevDriver creates a driver for chip, e.g. "gpiochip0".
func NewCdevDriver(chip string, logger *utils.Logger) *CdevDriver {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &CdevDriver{
		chip:   chip,
		lines:  make(map[string]*gpiocdev.Line),
		logger: logger.WithComponent("gpio").WithField("driver", KindGPIOCdev),
	}
}

// resolve maps a line id to a chip and offset.
func (d *CdevDriver) resolve(lineID string) (string, int, error) {
	if offset, err := strconv.Atoi(lineID); err == nil {
		if offset < 0 {
			return "", 0, lineError("claim", lineID, "negative line offset", nil)
		}
		return d.chip, offset, nil
	}
	chip, offset, err := gpiocdev.FindLine(lineID)
	if err != nil {
		return "", 0, lineError("claim", lineID, "line not found", err)
	}
	return chip, offset, nil
}

// Claim requests the line as an input under label.
func (d *CdevDriver) Claim(lineID, label string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, held := d.lines[lineID]; held {
		return lineError("claim", lineID, "line already claimed", nil)
	}

	chip, offset, err := d.resolve(lineID)
	if err != nil {
		return err
	}

	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.WithConsumer(label),
		gpiocdev.AsInput)
	if err != nil {
		return lineError("claim", lineID, "failed to request line", err)
	}

	d.lines[lineID] = line
	d.logger.Info("Claimed %s:%d as %q", chip, offset, label)
	return nil
}

// ConfigureOutput switches the claimed line to an output at the initial level.
func (d *CdevDriver) ConfigureOutput(lineID string, initialOn bool) error {
	line, err := d.line("configure", lineID)
	if err != nil {
		return err
	}
	if err := line.Reconfigure(gpiocdev.AsOutput(levelValue(initialOn))); err != nil {
		return lineError("configure", lineID, "failed to configure output", err)
	}
	return nil
}

// SetLevel drives the line.
func (d *CdevDriver) SetLevel(lineID string, on bool) error {
	line, err := d.line("set", lineID)
	if err != nil {
		return err
	}
	if err := line.SetValue(levelValue(on)); err != nil {
		return lineError("set", lineID, "failed to set value", err)
	}
	return nil
}

// Release closes the line request.
func (d *CdevDriver) Release(lineID string) {
	d.mu.Lock()
	line, ok := d.lines[lineID]
	delete(d.lines, lineID)
	d.mu.Unlock()

	if !ok {
		return
	}
	if err := line.Close(); err != nil {
		d.logger.Warn("Failed to close line %s: %v", lineID, err)
	}
}

func (d *CdevDriver) line(operation, lineID string) (*gpiocdev.Line, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, ok := d.lines[lineID]
	if !ok {
		return nil, lineError(operation, lineID, "line not claimed", nil)
	}
	return line, nil
}
