package device

import (
	"sync"

	"github.com/ledgate/ledgate/pkg/types"
)

// OutputLine holds the binary state of the claimed line. The cached level
// only changes after the driver has accepted the new level.
type OutputLine struct {
	mu     sync.Mutex
	driver types.LineDriver
	id     string
	on     bool
}

// NewOutputLine creates an output line bound to a driver line id.
func NewOutputLine(driver types.LineDriver, lineID string) *OutputLine {
	return &OutputLine{driver: driver, id: lineID}
}

// ID returns the driver line id.
func (l *OutputLine) ID() string {
	return l.id
}

// Set drives the line on or off.
func (l *OutputLine) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.driver.SetLevel(l.id, on); err != nil {
		return err
	}
	l.on = on
	return nil
}

// Refresh drives the line to its cached level again.
func (l *OutputLine) Refresh() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.driver.SetLevel(l.id, l.on)
}

// IsOn returns the last level the driver accepted.
func (l *OutputLine) IsOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// reset records a level applied outside Set, during configuration.
func (l *OutputLine) reset(on bool) {
	l.mu.Lock()
	l.on = on
	l.mu.Unlock()
}
