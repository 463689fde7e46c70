package types

import (
	"fmt"
	"time"
)

// DeviceID identifies the device within the host's namespace.
type DeviceID struct {
	Major uint32 `json:"major" yaml:"major"`
	Minor uint32 `json:"minor" yaml:"minor"`
}

// String renders the id the way /proc/devices and ls -l do.
func (d DeviceID) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// IsZero reports whether the id was never assigned.
func (d DeviceID) IsZero() bool {
	return d.Major == 0 && d.Minor == 0
}

// Dev packs the id into a Linux dev_t value.
func (d DeviceID) Dev() uint64 {
	major := uint64(d.Major)
	minor := uint64(d.Minor)
	return (minor & 0xff) | ((major & 0xfff) << 8) | ((minor &^ 0xff) << 12) | ((major &^ 0xfff) << 32)
}

// ClassHandle is returned by Publisher.CreateClass.
type ClassHandle struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// NodeHandle is returned by Publisher.CreateNode.
type NodeHandle struct {
	Class ClassHandle `json:"class"`
	ID    DeviceID    `json:"id"`
	Name  string      `json:"name"`
	Path  string      `json:"path,omitempty"`
}

// SessionHandle is handed to the caller of a successful open.
type SessionHandle struct {
	ID       string    `json:"id"`
	Sequence uint64    `json:"sequence"`
	OpenedAt time.Time `json:"opened_at"`
}

// IsZero reports whether the handle is empty.
func (h SessionHandle) IsZero() bool {
	return h.ID == "" && h.Sequence == 0
}

// AccessState is the state of the exclusive-open gate.
type AccessState int32

const (
	AccessFree AccessState = iota
	AccessBound
)

// String returns the string representation of the access state
func (s AccessState) String() string {
	switch s {
	case AccessFree:
		return "free"
	case AccessBound:
		return "bound"
	default:
		return "unknown"
	}
}

// Lifecycle is the state of the device controller.
type Lifecycle int

const (
	LifecycleUninitialized Lifecycle = iota
	LifecycleReady
	LifecycleOpen
)

// String returns the string representation of the lifecycle
func (l Lifecycle) String() string {
	switch l {
	case LifecycleUninitialized:
		return "uninitialized"
	case LifecycleReady:
		return "ready"
	case LifecycleOpen:
		return "open"
	default:
		return "unknown"
	}
}

// DeviceStatus is a point-in-time snapshot of the controller.
type DeviceStatus struct {
	Name            string    `json:"name"`
	Lifecycle       string    `json:"lifecycle"`
	Access          string    `json:"access"`
	Identity        *DeviceID `json:"identity,omitempty"`
	Sessions        uint64    `json:"sessions"`
	Message         string    `json:"message"`
	LineOn          bool      `json:"line_on"`
	HeldSteps       []string  `json:"held_steps"`
	Node            string    `json:"node,omitempty"`
	CommandCapacity int       `json:"command_capacity"`
	ObservedAt      time.Time `json:"observed_at"`
}
