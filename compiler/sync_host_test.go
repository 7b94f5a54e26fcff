package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncHost_CompileRejectsWhenInFlight(t *testing.T) {
	sh := &SyncHost{inFlight: true}
	_, err := sh.Compile("x.scss", nil)
	assert.ErrorIs(t, err, ErrSyncReentrant)
}

func TestSyncHost_CompileRejectsWhenDisposed(t *testing.T) {
	sh := &SyncHost{disposed: true}
	_, err := sh.Compile("x.scss", nil)
	assert.ErrorIs(t, err, ErrHostDisposed)
}

func TestMailbox_PostAndYield(t *testing.T) {
	m := newMailbox()
	m.post(mailboxEvent{stdout: []byte("hi")})
	ev, ok := m.yield()
	assert.True(t, ok)
	assert.Equal(t, []byte("hi"), ev.stdout)
}

func TestMailbox_CloseUnblocksYield(t *testing.T) {
	m := newMailbox()
	m.close()
	_, ok := m.yield()
	assert.False(t, ok)
}

func TestMailbox_OrdersEventsFIFO(t *testing.T) {
	m := newMailbox()
	m.post(mailboxEvent{stdout: []byte("1")})
	m.post(mailboxEvent{stdout: []byte("2")})

	first, ok := m.yield()
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), first.stdout)

	second, ok := m.yield()
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), second.stdout)
}
