package device

import (
	"sync/atomic"

	"github.com/ledgate/ledgate/pkg/types"
)

// AccessGate admits at most one open at a time.
type AccessGate struct {
	state atomic.Int32
}

// TryClaim moves the gate from free to bound. It returns false and leaves the
// gate untouched when it is already bound.
func (g *AccessGate) TryClaim() bool {
	return g.state.CompareAndSwap(int32(types.AccessFree), int32(types.AccessBound))
}

// Release frees the gate unconditionally. Ownership is not checked.
func (g *AccessGate) Release() {
	g.state.Store(int32(types.AccessFree))
}

// State returns the current gate state.
func (g *AccessGate) State() types.AccessState {
	return types.AccessState(g.state.Load())
}

// Bound reports whether the gate is claimed.
func (g *AccessGate) Bound() bool {
	return g.State() == types.AccessBound
}
