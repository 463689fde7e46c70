package gpio

import (
	"sort"
	"sync"

	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// SimLine is the observable state of a simulated line.
type SimLine struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Output  bool   `json:"output"`
	On      bool   `json:"on"`
	Toggles int    `json:"toggles"`
}

// SimDriver keeps lines in memory. It is used for dry runs.
type SimDriver struct {
	mu     sync.Mutex
	lines  map[string]*SimLine
	logger *utils.Logger
}

var _ types.LineDriver = (*SimDriver)(nil)

// NewSimDriver creates an empty simulated driver.
func NewSimDriver(logger *utils.Logger) *SimDriver {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &SimDriver{
		lines:  make(map[string]*SimLine),
		logger: logger.WithComponent("gpio").WithField("driver", KindSim),
	}
}

// Claim reserves lineID under label.
func (d *SimDriver) Claim(lineID, label string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, held := d.lines[lineID]; held {
		return lineError("claim", lineID, "line already claimed", nil)
	}
	d.lines[lineID] = &SimLine{ID: lineID, Label: label}
	return nil
}

// ConfigureOutput marks the line as an output at the initial level.
func (d *SimDriver) ConfigureOutput(lineID string, initialOn bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, ok := d.lines[lineID]
	if !ok {
		return lineError("configure", lineID, "line not claimed", nil)
	}
	line.Output = true
	line.On = initialOn
	return nil
}

// SetLevel changes the level of an output line.
func (d *SimDriver) SetLevel(lineID string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, ok := d.lines[lineID]
	if !ok {
		return lineError("set", lineID, "line not claimed", nil)
	}
	if !line.Output {
		return lineError("set", lineID, "line is not an output", nil)
	}
	if line.On != on {
		line.Toggles++
	}
	line.On = on
	d.logger.Debug("Line %s on=%t", lineID, on)
	return nil
}

// Release forgets the line.
func (d *SimDriver) Release(lineID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lines, lineID)
}

// Line returns a copy of a claimed line's state.
func (d *SimDriver) Line(lineID string) (SimLine, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, ok := d.lines[lineID]
	if !ok {
		return SimLine{}, false
	}
	return *line, true
}

// Lines returns every claimed line sorted by id.
func (d *SimDriver) Lines() []SimLine {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]SimLine, 0, len(d.lines))
	for _, line := range d.lines {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
