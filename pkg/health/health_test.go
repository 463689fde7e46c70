package health

import (
	"context"
	"encoding/json"
	stderr "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgate/ledgate/pkg/errors"
)

func newTestTracker() *Tracker {
	return NewTracker(TrackerConfig{
		ErrorThreshold:       2,
		UnavailableThreshold: 4,
		HealthCheckInterval:  10 * time.Millisecond,
	})
}

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentLadder)
	tracker.SetComponentMetadata(ComponentLadder, "step", "identity")
	tracker.RegisterComponent(ComponentLadder)

	health, err := tracker.GetComponentHealth(ComponentLadder)
	require.NoError(t, err)
	assert.Equal(t, StateHealthy, health.State)
	assert.Equal(t, "identity", health.Metadata["step"], "re-registering keeps existing state")
}

func TestTracker_RecordError_Degraded(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentTransfer)

	fault := errors.NewIOFault("read", stderr.New("bad address"))
	tracker.RecordError(ComponentTransfer, fault)
	assert.Equal(t, StateHealthy, tracker.GetState(ComponentTransfer))

	tracker.RecordError(ComponentTransfer, fault)
	assert.Equal(t, StateDegraded, tracker.GetState(ComponentTransfer))

	health, err := tracker.GetComponentHealth(ComponentTransfer)
	require.NoError(t, err)
	assert.Equal(t, 2, health.ConsecutiveErrors)
	assert.Equal(t, "IO_FAULT", health.LastErrorCode)
	assert.Contains(t, health.LastErrorMessage, "bad address")
}

func TestTracker_RecordError_ReadOnly(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentLine)

	lineErr := errors.NewError(errors.ErrCodeLineFailed, "set level failed")
	tracker.RecordError(ComponentLine, lineErr)
	tracker.RecordError(ComponentLine, lineErr)

	assert.Equal(t, StateReadOnly, tracker.GetState(ComponentLine))
	assert.True(t, tracker.CanReadStatus(ComponentLine))
	assert.False(t, tracker.CanDriveLine(ComponentLine))
}

func TestTracker_RecordError_Unavailable(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentLine)

	for i := 0; i < 4; i++ {
		tracker.RecordError(ComponentLine, stderr.New("line gone"))
	}

	assert.Equal(t, StateUnavailable, tracker.GetState(ComponentLine))
	assert.False(t, tracker.CanReadStatus(ComponentLine))
	assert.NotEqual(t, StateHealthy, tracker.GetState(ComponentLine))
}

func TestTracker_RecordSuccess_Recovers(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentTransfer)

	tracker.RecordError(ComponentTransfer, stderr.New("x"))
	tracker.RecordError(ComponentTransfer, stderr.New("x"))
	require.Equal(t, StateDegraded, tracker.GetState(ComponentTransfer))

	tracker.RecordSuccess(ComponentTransfer)

	health, err := tracker.GetComponentHealth(ComponentTransfer)
	require.NoError(t, err)
	assert.Equal(t, StateHealthy, health.State)
	assert.Zero(t, health.ConsecutiveErrors)
	assert.Empty(t, health.LastErrorMessage)
	assert.Empty(t, health.LastErrorCode)
}

func TestTracker_UnknownComponent(t *testing.T) {
	tracker := newTestTracker()

	tracker.RecordError("registrar", stderr.New("ignored"))
	tracker.RecordSuccess("registrar")

	assert.Equal(t, StateUnavailable, tracker.GetState("registrar"))
	_, err := tracker.GetComponentHealth("registrar")
	assert.Error(t, err)
}

func TestTracker_OverallAndReport(t *testing.T) {
	tracker := newTestTracker()
	assert.Equal(t, StateHealthy, tracker.GetOverallHealth())

	tracker.RegisterComponent(ComponentTransfer)
	tracker.RegisterComponent(ComponentLadder)
	tracker.RegisterComponent(ComponentLine)

	lineErr := errors.NewError(errors.ErrCodeLineFailed, "set level failed")
	tracker.RecordError(ComponentLine, lineErr)
	tracker.RecordError(ComponentLine, lineErr)

	assert.Equal(t, StateReadOnly, tracker.GetOverallHealth())

	report := tracker.Report()
	assert.Equal(t, StateReadOnly, report.Overall)
	require.Len(t, report.Components, 3)
	assert.Equal(t, ComponentLadder, report.Components[0].Name)
	assert.Equal(t, ComponentLine, report.Components[1].Name)
	assert.Equal(t, ComponentTransfer, report.Components[2].Name)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"overall":"read-only"`)
}

func TestTracker_ComponentHealthIsCopy(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentGate)
	tracker.SetComponentMetadata(ComponentGate, "state", "free")

	health, err := tracker.GetComponentHealth(ComponentGate)
	require.NoError(t, err)
	health.Metadata["state"] = "bound"
	health.State = StateUnavailable

	again, err := tracker.GetComponentHealth(ComponentGate)
	require.NoError(t, err)
	assert.Equal(t, "free", again.Metadata["state"])
	assert.Equal(t, StateHealthy, again.State)
}

func TestTracker_OnStateChange(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentLine)

	type transition struct {
		component string
		from, to  HealthState
	}
	var mu sync.Mutex
	var seen []transition
	tracker.OnStateChange(func(component string, oldState, newState HealthState, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, transition{component, oldState, newState})
	})

	tracker.RecordError(ComponentLine, stderr.New("x"))
	tracker.RecordError(ComponentLine, stderr.New("x"))
	tracker.RecordSuccess(ComponentLine)
	tracker.RecordSuccess(ComponentLine)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []transition{
		{ComponentLine, StateHealthy, StateDegraded},
		{ComponentLine, StateDegraded, StateHealthy},
	}, seen)
}

func TestTracker_StartHealthChecks(t *testing.T) {
	tracker := newTestTracker()
	tracker.RegisterComponent(ComponentLadder)
	tracker.RegisterComponent(ComponentLine)

	var checks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.StartHealthChecks(ctx, func(component string) error {
			checks.Add(1)
			if component == ComponentLine {
				return stderr.New("probe failed")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return tracker.GetState(ComponentLine) == StateUnavailable
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, StateHealthy, tracker.GetState(ComponentLadder))
	assert.GreaterOrEqual(t, checks.Load(), int32(7))
}

func TestNewTracker_NormalizesThresholds(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 5, UnavailableThreshold: 1})
	tracker.RegisterComponent(ComponentGate)

	for i := 0; i < 4; i++ {
		tracker.RecordError(ComponentGate, stderr.New("x"))
	}
	assert.Equal(t, StateHealthy, tracker.GetState(ComponentGate))

	tracker.RecordError(ComponentGate, stderr.New("x"))
	assert.Equal(t, StateUnavailable, tracker.GetState(ComponentGate))
}

func TestHealthState_String(t *testing.T) {
	assert.Equal(t, "healthy", StateHealthy.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "read-only", StateReadOnly.String())
	assert.Equal(t, "unavailable", StateUnavailable.String())
	assert.Equal(t, "unknown", HealthState(99).String())
}
