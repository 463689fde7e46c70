package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// DefaultSysfsRoot is the LED class directory.
const DefaultSysfsRoot = "/sys/class/leds"

// SysfsDriver drives LEDs exposed under /sys/class/leds. Line ids are LED
// names such as "green:status".
type SysfsDriver struct {
	mu     sync.Mutex
	root   string
	leds   map[string]*sysfsLED
	logger *utils.Logger
}

type sysfsLED struct {
	path          string
	maxBrightness int
	priorTrigger  string
}

var _ types.LineDriver = (*SysfsDriver)(nil)

// NewSysfsDriver creates a driver rooted at root, or DefaultSysfsRoot when empty.
func NewSysfsDriver(root string, logger *utils.Logger) *SysfsDriver {
	if root == "" {
		root = DefaultSysfsRoot
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &SysfsDriver{
		root:   root,
		leds:   make(map[string]*sysfsLED),
		logger: logger.WithComponent("gpio").WithField("driver", KindSysfs),
	}
}

// Claim checks the LED exists and records its current trigger.
func (d *SysfsDriver) Claim(lineID, label string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, held := d.leds[lineID]; held {
		return lineError("claim", lineID, "led already claimed", nil)
	}
	if err := utils.ValidateName(lineID); err != nil {
		return lineError("claim", lineID, "invalid led name", err)
	}
	path, err := utils.SecureJoin(d.root, lineID)
	if err != nil {
		return lineError("claim", lineID, "invalid led name", err)
	}

	led := &sysfsLED{path: path, maxBrightness: 1}
	if _, err := os.Stat(led.path); err != nil {
		return lineError("claim", lineID, "led not found", err)
	}

	if value, err := led.read("max_brightness"); err == nil {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			led.maxBrightness = n
		}
	}
	if value, err := led.read("trigger"); err == nil {
		led.priorTrigger = activeTrigger(value)
	}

	d.leds[lineID] = led
	d.logger.Info("Claimed led %s as %q", lineID, label)
	return nil
}

// ConfigureOutput detaches any trigger and sets the initial brightness.
func (d *SysfsDriver) ConfigureOutput(lineID string, initialOn bool) error {
	led, err := d.led("configure", lineID)
	if err != nil {
		return err
	}
	if err := led.write("trigger", "none"); err != nil {
		return lineError("configure", lineID, "failed to clear trigger", err)
	}
	if err := led.setLevel(initialOn); err != nil {
		return lineError("configure", lineID, "failed to set brightness", err)
	}
	return nil
}

// SetLevel writes max_brightness for on and 0 for off.
func (d *SysfsDriver) SetLevel(lineID string, on bool) error {
	led, err := d.led("set", lineID)
	if err != nil {
		return err
	}
	if err := led.setLevel(on); err != nil {
		return lineError("set", lineID, "failed to set brightness", err)
	}
	return nil
}

// Release restores the trigger the LED had when it was claimed.
func (d *SysfsDriver) Release(lineID string) {
	d.mu.Lock()
	led, ok := d.leds[lineID]
	delete(d.leds, lineID)
	d.mu.Unlock()

	if !ok || led.priorTrigger == "" || led.priorTrigger == "none" {
		return
	}
	if err := led.write("trigger", led.priorTrigger); err != nil {
		d.logger.Warn("Failed to restore trigger %s on %s: %v", led.priorTrigger, lineID, err)
	}
}

func (d *SysfsDriver) led(operation, lineID string) (*sysfsLED, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	led, ok := d.leds[lineID]
	if !ok {
		return nil, lineError(operation, lineID, "led not claimed", nil)
	}
	return led, nil
}

func (l *sysfsLED) setLevel(on bool) error {
	brightness := 0
	if on {
		brightness = l.maxBrightness
	}
	return l.write("brightness", fmt.Sprintf("%d", brightness))
}

func (l *sysfsLED) write(file, value string) error {
	return os.WriteFile(filepath.Join(l.path, file), []byte(value), 0644)
}

func (l *sysfsLED) read(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.path, file))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// activeTrigger picks the bracketed entry from a trigger listing such as
// "none [heartbeat] timer".
func activeTrigger(listing string) string {
	for _, field := range strings.Fields(listing) {
		if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
			return strings.Trim(field, "[]")
		}
	}
	return ""
}
