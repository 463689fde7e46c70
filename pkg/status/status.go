// Package status tracks device sessions opened through the direct API and keeps a bounded history of closed ones
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/health"
	"github.com/ledgate/ledgate/pkg/types"
)

// SessionState represents where a tracked session is in its life
type SessionState int

const (
	// StateOpen indicates the session holds the device
	StateOpen SessionState = iota

	// StateClosed indicates the session was closed by its owner
	StateClosed

	// StateFailed indicates the session ended after an error
	StateFailed
)

// String returns the string representation of a session state
func (s SessionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a tracked device session
type Session struct {
	ID           string              `json:"id"`
	Transport    string              `json:"transport"`
	Handle       types.SessionHandle `json:"handle"`
	State        SessionState        `json:"state"`
	OpenedAt     time.Time           `json:"opened_at"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
	Reads        int64               `json:"reads"`
	Writes       int64               `json:"writes"`
	BytesRead    int64               `json:"bytes_read"`
	BytesWritten int64               `json:"bytes_written"`
	LastCommand  string              `json:"last_command,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func (s *Session) copy() *Session {
	out := *s
	if s.ClosedAt != nil {
		closed := *s.ClosedAt
		out.ClosedAt = &closed
	}
	return &out
}

// Tracker tracks open sessions and the history of finished ones
type Tracker struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	history       []*Session
	maxHistory    int
	healthTracker *health.Tracker
}

// TrackerConfig configures session tracking behavior
type TrackerConfig struct {
	MaxHistorySize int             `json:"max_history_size"`
	HealthTracker  *health.Tracker `json:"-"`
}

// DefaultTrackerConfig returns default configuration
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxHistorySize: 100,
	}
}

// NewTracker creates a new session tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = DefaultTrackerConfig().MaxHistorySize
	}

	return &Tracker{
		sessions:      make(map[string]*Session),
		history:       make([]*Session, 0, config.MaxHistorySize),
		maxHistory:    config.MaxHistorySize,
		healthTracker: config.HealthTracker,
	}
}

// Track starts tracking handle under its session id
func (t *Tracker) Track(handle types.SessionHandle, transport string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := &Session{
		ID:        handle.ID,
		Transport: transport,
		Handle:    handle,
		State:     StateOpen,
		OpenedAt:  handle.OpenedAt,
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now()
	}

	t.sessions[session.ID] = session
	return session.copy()
}

// Handle returns the device handle of an open session
func (t *Tracker) Handle(id string) (types.SessionHandle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	session, exists := t.sessions[id]
	if !exists {
		return types.SessionHandle{}, notFound(id)
	}
	return session.Handle, nil
}

// RecordRead adds a read of n bytes to the session
func (t *Tracker) RecordRead(id string, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[id]
	if !exists {
		return notFound(id)
	}
	session.Reads++
	session.BytesRead += int64(n)
	return nil
}

// RecordWrite adds a write of n accepted bytes carrying command to the session
func (t *Tracker) RecordWrite(id string, n int, command string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[id]
	if !exists {
		return notFound(id)
	}
	session.Writes++
	session.BytesWritten += int64(n)
	session.LastCommand = command
	return nil
}

// Complete marks the session closed and moves it to history
func (t *Tracker) Complete(id string) error {
	return t.finish(id, StateClosed, nil)
}

// Fail marks the session failed with err and moves it to history
func (t *Tracker) Fail(id string, err error) error {
	return t.finish(id, StateFailed, err)
}

func (t *Tracker) finish(id string, state SessionState, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[id]
	if !exists {
		return notFound(id)
	}

	now := time.Now()
	session.State = state
	session.ClosedAt = &now
	if cause != nil {
		session.Error = cause.Error()
	}

	delete(t.sessions, id)
	t.moveToHistory(session)
	return nil
}

// Get returns a session by id, open or finished
func (t *Tracker) Get(id string) (*Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if session, exists := t.sessions[id]; exists {
		return session.copy(), nil
	}
	for _, session := range t.history {
		if session.ID == id {
			return session.copy(), nil
		}
	}
	return nil, notFound(id)
}

// Active returns all open sessions, oldest first
func (t *Tracker) Active() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Session, 0, len(t.sessions))
	for _, session := range t.sessions {
		out = append(out, session.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// History returns finished sessions, newest first
func (t *Tracker) History(limit int) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}

	result := make([]*Session, limit)
	for i := range result {
		result[i] = t.history[i].copy()
	}
	return result
}

// Summary returns session counts and overall health
func (t *Tracker) Summary() *Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := &Summary{
		Timestamp:           time.Now(),
		ActiveSessions:      len(t.sessions),
		FinishedSessions:    len(t.history),
		SessionsByTransport: make(map[string]int),
	}

	for _, session := range t.sessions {
		summary.SessionsByTransport[session.Transport]++
	}

	if t.healthTracker != nil {
		report := t.healthTracker.Report()
		summary.HealthState = report.Overall
		summary.Components = report.Components
	}

	return summary
}

// Summary is the session overview served by the API
type Summary struct {
	Timestamp           time.Time                 `json:"timestamp"`
	ActiveSessions      int                       `json:"active_sessions"`
	FinishedSessions    int                       `json:"finished_sessions"`
	SessionsByTransport map[string]int            `json:"sessions_by_transport"`
	HealthState         health.HealthState        `json:"health_state"`
	Components          []*health.ComponentHealth `json:"components,omitempty"`
}

// moveToHistory prepends a session to history (must be called with lock held)
func (t *Tracker) moveToHistory(session *Session) {
	t.history = append([]*Session{session}, t.history...)
	if len(t.history) > t.maxHistory {
		t.history = t.history[:t.maxHistory]
	}
}

func notFound(id string) error {
	return errors.NewError(errors.ErrCodeSessionNotFound, "session not found").
		WithComponent("status").
		WithContext("session_id", id)
}
