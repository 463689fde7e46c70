package device

import (
	"fmt"
	"sync"
)

const messageFormat = "I have been read %d times.\n"

// DefaultMessageCapacity is the size of the status message buffer.
const DefaultMessageCapacity = 80

// SessionCounter counts successful opens and keeps the status message that
// reports the count. Increment and reformat happen under one lock so a reader
// never sees a half-written message.
type SessionCounter struct {
	mu     sync.RWMutex
	count  uint64
	buf    []byte
	length int
}

// NewSessionCounter creates a counter whose message never exceeds capacity bytes.
func NewSessionCounter(capacity int) *SessionCounter {
	if capacity <= 0 {
		capacity = DefaultMessageCapacity
	}
	return &SessionCounter{buf: make([]byte, capacity)}
}

// Record increments the count and rewrites the status message. The message
// is truncated at capacity. It returns the new count.
func (s *SessionCounter) Record() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.length = copy(s.buf, fmt.Sprintf(messageFormat, s.count))
	return s.count
}

// Count returns the number of recorded opens.
func (s *SessionCounter) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Message returns the current status message. It is empty before the first open.
func (s *SessionCounter) Message() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return string(s.buf[:s.length])
}

// Snapshot returns a copy of the message bytes from offset to the end, or
// nil when offset is at or past the end.
func (s *SessionCounter) Snapshot(offset int64) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 || offset >= int64(s.length) {
		return nil
	}
	out := make([]byte, int64(s.length)-offset)
	copy(out, s.buf[offset:s.length])
	return out
}
