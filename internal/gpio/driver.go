// Package gpio provides the output line drivers: the GPIO character device,
// the sysfs LED class and an in-memory simulation.
package gpio

import (
	"fmt"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// Driver kinds accepted by NewDriver.
const (
	KindGPIOCdev = "gpiocdev"
	KindSysfs    = "sysfs"
	KindSim      = "sim"
)

// Options selects and configures a driver.
type Options struct {
	Kind      string
	Chip      string
	SysfsRoot string
}

// NewDriver returns the driver named by opts.Kind.
func NewDriver(opts Options, logger *utils.Logger) (types.LineDriver, error) {
	switch opts.Kind {
	case KindGPIOCdev:
		return NewCdevDriver(opts.Chip, logger), nil
	case KindSysfs:
		return NewSysfsDriver(opts.SysfsRoot, logger), nil
	case KindSim:
		return NewSimDriver(logger), nil
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("unknown line driver %q", opts.Kind)).
			WithComponent("gpio")
	}
}

func lineError(operation, lineID, message string, cause error) error {
	err := errors.NewError(errors.ErrCodeLineFailed, message).
		WithComponent("gpio").
		WithOperation(operation).
		WithContext("line", lineID)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

func levelValue(on bool) int {
	if on {
		return 1
	}
	return 0
}
