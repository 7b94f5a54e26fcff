package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

func newBareHost() *Host {
	return &Host{active: make(map[uint64]*Dispatcher), nextID: 1}
}

func TestHost_AllocateID_Increments(t *testing.T) {
	h := newBareHost()
	id1, err := h.allocateID()
	require.NoError(t, err)
	id2, err := h.allocateID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
}

func TestHost_AllocateID_RejectsWhenDisposed(t *testing.T) {
	h := newBareHost()
	h.disposed = true
	_, err := h.allocateID()
	assert.ErrorIs(t, err, ErrHostDisposed)
}

func TestHost_Release_ResetsCounterWhenEmpty(t *testing.T) {
	h := newBareHost()
	id1, _ := h.allocateID()
	id2, _ := h.allocateID()
	h.active[id1] = &Dispatcher{}
	h.active[id2] = &Dispatcher{}

	h.release(id1)
	assert.Equal(t, 3, int(h.nextID)) // still one active, no reset

	h.release(id2)
	assert.Equal(t, uint64(1), h.nextID) // empty again, reset to 1
}

func TestResponseToResult_Success(t *testing.T) {
	resp := &wire.CompileResponse{Success: &wire.CompileSuccess{CSS: "css"}}
	result, err := responseToResult(resp)
	require.NoError(t, err)
	assert.Equal(t, "css", result.CSS)
}

func TestResponseToResult_Failure(t *testing.T) {
	resp := &wire.CompileResponse{Failure: &wire.CompileFailure{Message: "nope"}}
	_, err := responseToResult(resp)
	require.Error(t, err)
}

func TestHost_RouteHandshake_DeliversToWaitingCall(t *testing.T) {
	h := newBareHost()
	h.versionCh = make(chan *wire.VersionResponse, 1)

	h.routeHandshake(&wire.VersionResponse{ID: 0, CompilerVersion: "1.2.3", ImplementationName: "fake"})

	select {
	case resp := <-h.versionCh:
		assert.Equal(t, "1.2.3", resp.CompilerVersion)
	default:
		t.Fatal("expected version response to be delivered")
	}
}

func TestHost_RouteHandshake_IgnoresWhenNoOneWaiting(t *testing.T) {
	h := newBareHost()
	// No panic, no channel: just a no-op.
	h.routeHandshake(&wire.VersionResponse{ID: 0})
}
