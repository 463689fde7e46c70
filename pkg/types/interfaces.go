package types

import (
	"errors"
	"fmt"
	"time"
)

// Registrar allocates and releases device identities
type Registrar interface {
	// RegisterStatic reserves count minors starting at minor under an explicit major.
	RegisterStatic(major, minor uint32, count int, name string) (DeviceID, error)

	// AllocateDynamic reserves count minors under any free major.
	AllocateDynamic(minor uint32, count int, name string) (DeviceID, error)

	// Unregister releases an identity returned by RegisterStatic or AllocateDynamic.
	Unregister(id DeviceID, count int)
}

// Publisher makes the device visible in a namespace
type Publisher interface {
	CreateClass(name string) (ClassHandle, error)
	DestroyClass(class ClassHandle)
	CreateNode(class ClassHandle, id DeviceID, name string) (NodeHandle, error)
	DestroyNode(class ClassHandle, id DeviceID)
}

// LineDriver drives one or more binary output lines
type LineDriver interface {
	Claim(lineID, label string) error
	ConfigureOutput(lineID string, initialOn bool) error
	SetLevel(lineID string, on bool) error
	Release(lineID string)
}

// Transfer moves bytes across the caller boundary
type Transfer interface {
	// CopyOut copies len(src) bytes from src into dst.
	CopyOut(dst, src []byte) error

	// CopyIn copies len(dst) bytes from src into dst.
	CopyIn(dst, src []byte) error
}

// DeviceFile is the open/read/write/release contract a transport exposes
type DeviceFile interface {
	Open() (SessionHandle, error)
	Read(handle SessionHandle, offset int64) ([]byte, error)
	Write(handle SessionHandle, data []byte) (int, error)
	Close(handle SessionHandle) error
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordOpen(result string)
	RecordCommand(command string)
	RecordLadderStep(step string, success bool)
	SetLineLevel(on bool)
	SetAccessBound(bound bool)
	SetSessions(count uint64)
}

// ErrShortBuffer is returned by DirectTransfer when a destination cannot hold the source.
var ErrShortBuffer = errors.New("short buffer")

// DirectTransfer copies between in-process slices
type DirectTransfer struct{}

// CopyOut copies src into dst
func (DirectTransfer) CopyOut(dst, src []byte) error {
	if len(dst) < len(src) {
		return fmt.Errorf("copy out %d bytes into %d: %w", len(src), len(dst), ErrShortBuffer)
	}
	copy(dst, src)
	return nil
}

// CopyIn fills dst from src
func (DirectTransfer) CopyIn(dst, src []byte) error {
	if len(src) < len(dst) {
		return fmt.Errorf("copy in %d bytes from %d: %w", len(dst), len(src), ErrShortBuffer)
	}
	copy(dst, src)
	return nil
}
