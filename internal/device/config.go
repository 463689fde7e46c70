package device

import (
	"fmt"

	"github.com/ledgate/ledgate/pkg/errors"
)

// Config holds the controller settings.
type Config struct {
	// Name is the device and node name.
	Name string `yaml:"name" json:"name"`

	// ClassName is the class the node is published under.
	ClassName string `yaml:"class_name" json:"class_name"`

	// Major selects a static identity when non-zero. Zero asks the registrar
	// for any free major.
	Major uint32 `yaml:"major" json:"major"`
	Minor uint32 `yaml:"minor" json:"minor"`
	Count int    `yaml:"count" json:"count"`

	LineID    string `yaml:"line_id" json:"line_id"`
	LineLabel string `yaml:"line_label" json:"line_label"`
	InitialOn bool   `yaml:"initial_on" json:"initial_on"`

	CommandBufferSize int `yaml:"command_buffer_size" json:"command_buffer_size"`
	MessageCapacity   int `yaml:"message_capacity" json:"message_capacity"`
}

// DefaultConfig returns the settings of the stock board: one green LED on
// GPIO 535.
func DefaultConfig() Config {
	return Config{
		Name:              "jimbob_led",
		ClassName:         "jimbob_led",
		Minor:             0,
		Count:             1,
		LineID:            "535",
		LineLabel:         "GREEN LED",
		CommandBufferSize: DefaultCommandCapacity,
		MessageCapacity:   DefaultMessageCapacity,
	}
}

// Validate checks the settings before any resource is acquired.
func (c Config) Validate() error {
	var problems []string
	if c.Name == "" {
		problems = append(problems, "name is required")
	}
	if c.ClassName == "" {
		problems = append(problems, "class name is required")
	}
	if c.Count < 1 {
		problems = append(problems, fmt.Sprintf("count must be at least 1, got %d", c.Count))
	}
	if c.LineID == "" {
		problems = append(problems, "line id is required")
	}
	if c.CommandBufferSize < 1 {
		problems = append(problems, fmt.Sprintf("command buffer size must be at least 1, got %d", c.CommandBufferSize))
	}
	if c.MessageCapacity < len("I have been read 1 times.\n") {
		problems = append(problems, fmt.Sprintf("message capacity %d cannot hold a status message", c.MessageCapacity))
	}

	if len(problems) > 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, "invalid device configuration").
			WithComponent("controller").
			WithDetail("problems", problems)
	}
	return nil
}
