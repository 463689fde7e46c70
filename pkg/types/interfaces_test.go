package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectTransfer_CopyOut(t *testing.T) {
	var tr Transfer = DirectTransfer{}

	dst := make([]byte, 4)
	require.NoError(t, tr.CopyOut(dst, []byte("abcd")))
	assert.Equal(t, []byte("abcd"), dst)

	err := tr.CopyOut(make([]byte, 2), []byte("abcd"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestDirectTransfer_CopyIn(t *testing.T) {
	tr := DirectTransfer{}

	dst := make([]byte, 2)
	require.NoError(t, tr.CopyIn(dst, []byte("1\n extra")))
	assert.Equal(t, []byte("1\n"), dst)

	err := tr.CopyIn(make([]byte, 3), []byte("1"))
	assert.ErrorIs(t, err, ErrShortBuffer)

	require.NoError(t, tr.CopyIn(nil, nil))
}

func TestDeviceID(t *testing.T) {
	id := DeviceID{Major: 240, Minor: 0}
	assert.Equal(t, "240:0", id.String())
	assert.False(t, id.IsZero())
	assert.True(t, DeviceID{}.IsZero())

	// glibc makedev layout: high minor bits sit above the 12-bit major
	assert.Equal(t, uint64(0xf000), id.Dev())
	assert.Equal(t, uint64(0x10012c), DeviceID{Major: 1, Minor: 300}.Dev())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "free", AccessFree.String())
	assert.Equal(t, "bound", AccessBound.String())
	assert.Equal(t, "unknown", AccessState(7).String())

	assert.Equal(t, "uninitialized", LifecycleUninitialized.String())
	assert.Equal(t, "ready", LifecycleReady.String())
	assert.Equal(t, "open", LifecycleOpen.String())
	assert.Equal(t, "unknown", Lifecycle(9).String())
}

func TestSessionHandle_IsZero(t *testing.T) {
	assert.True(t, SessionHandle{}.IsZero())
	assert.False(t, SessionHandle{ID: "x", Sequence: 1, OpenedAt: time.Now()}.IsZero())
}
