package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ledgate/ledgate/pkg/types"
)

// journal records collaborator calls in order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

func (j *journal) entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = nil
}

// fakeHost implements every collaborator and fails the operations named in fail.
type fakeHost struct {
	*journal
	fail   map[string]error
	nextID types.DeviceID
	levels map[string]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		journal: &journal{},
		fail:    make(map[string]error),
		nextID:  types.DeviceID{Major: 240, Minor: 0},
		levels:  make(map[string]bool),
	}
}

func (h *fakeHost) collaborators() Collaborators {
	return Collaborators{Registrar: h, Publisher: h, Line: h}
}

func (h *fakeHost) RegisterStatic(major, minor uint32, count int, name string) (types.DeviceID, error) {
	h.add("register-static %d:%d", major, minor)
	if err := h.fail["register"]; err != nil {
		return types.DeviceID{}, err
	}
	return types.DeviceID{Major: major, Minor: minor}, nil
}

func (h *fakeHost) AllocateDynamic(minor uint32, count int, name string) (types.DeviceID, error) {
	h.add("allocate %d", minor)
	if err := h.fail["register"]; err != nil {
		return types.DeviceID{}, err
	}
	return types.DeviceID{Major: h.nextID.Major, Minor: minor}, nil
}

func (h *fakeHost) Unregister(id types.DeviceID, count int) {
	h.add("unregister %s", id)
}

func (h *fakeHost) CreateClass(name string) (types.ClassHandle, error) {
	h.add("create-class %s", name)
	if err := h.fail["class"]; err != nil {
		return types.ClassHandle{}, err
	}
	return types.ClassHandle{Name: name, Path: "/run/ledgate/" + name}, nil
}

func (h *fakeHost) DestroyClass(class types.ClassHandle) {
	h.add("destroy-class %s", class.Name)
}

func (h *fakeHost) CreateNode(class types.ClassHandle, id types.DeviceID, name string) (types.NodeHandle, error) {
	h.add("create-node %s %s", name, id)
	if err := h.fail["node"]; err != nil {
		return types.NodeHandle{}, err
	}
	return types.NodeHandle{Class: class, ID: id, Name: name, Path: class.Path + "/" + name}, nil
}

func (h *fakeHost) DestroyNode(class types.ClassHandle, id types.DeviceID) {
	h.add("destroy-node %s", id)
}

func (h *fakeHost) Claim(lineID, label string) error {
	h.add("claim %s %s", lineID, label)
	return h.fail["claim"]
}

func (h *fakeHost) ConfigureOutput(lineID string, initialOn bool) error {
	h.add("configure %s %t", lineID, initialOn)
	if err := h.fail["configure"]; err != nil {
		return err
	}
	h.mu.Lock()
	h.levels[lineID] = initialOn
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) SetLevel(lineID string, on bool) error {
	h.add("set %s %t", lineID, on)
	if err := h.fail["set"]; err != nil {
		return err
	}
	h.mu.Lock()
	h.levels[lineID] = on
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) Release(lineID string) {
	h.add("release %s", lineID)
}

func (h *fakeHost) level(lineID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.levels[lineID]
}

// failingTransfer fails every copy.
type failingTransfer struct{}

func (failingTransfer) CopyOut(dst, src []byte) error { return fmt.Errorf("bad address") }
func (failingTransfer) CopyIn(dst, src []byte) error  { return fmt.Errorf("bad address") }

// mockMetrics is a testify mock of types.MetricsCollector.
type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	m.Called(operation, duration, size, success)
}

func (m *mockMetrics) RecordOpen(result string) {
	m.Called(result)
}

func (m *mockMetrics) RecordCommand(command string) {
	m.Called(command)
}

func (m *mockMetrics) RecordLadderStep(step string, success bool) {
	m.Called(step, success)
}

func (m *mockMetrics) SetLineLevel(on bool) {
	m.Called(on)
}

func (m *mockMetrics) SetAccessBound(bound bool) {
	m.Called(bound)
}

func (m *mockMetrics) SetSessions(count uint64) {
	m.Called(count)
}
