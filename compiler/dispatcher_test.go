package compiler

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []wire.Message
}

func (w *fakeWriter) Write(compilationID uint64, msg wire.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	return nil
}

func (w *fakeWriter) last() wire.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.messages) == 0 {
		return nil
	}
	return w.messages[len(w.messages)-1]
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter)
	return logrus.NewEntry(l)
}

func TestDispatcher_SendCompileRequest_Success(t *testing.T) {
	w := &fakeWriter{}
	importers, err := NewImporterRegistry(nil, nil)
	require.NoError(t, err)
	functions := NewFunctionRegistry(nil)
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, nil)

	done := make(chan struct{})
	var resp *wire.CompileResponse
	var sendErr error
	go func() {
		resp, sendErr = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: "a{b:c}"}})
		close(done)
	}()

	// Wait for the request to actually have been written before replying.
	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)

	d.Handle(&wire.CompileResponse{ID: 1, Success: &wire.CompileSuccess{CSS: "a{b:c}"}})
	<-done

	require.NoError(t, sendErr)
	require.NotNil(t, resp)
	assert.Equal(t, "a{b:c}", resp.Success.CSS)
}

func TestDispatcher_ProtocolErrorFromChildTerminates(t *testing.T) {
	w := &fakeWriter{}
	importers, _ := NewImporterRegistry(nil, nil)
	functions := NewFunctionRegistry(nil)
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, nil)

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: "a{b:c}"}})
		close(done)
	}()

	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)
	d.Handle(&wire.ProtocolError{ID: 0, Message: "bad frame"})
	<-done

	require.Error(t, sendErr)
	var perr *ProtocolError
	require.ErrorAs(t, sendErr, &perr)
	assert.True(t, perr.FromChild)
}

func TestDispatcher_CanonicalizeRequestGetsReplied(t *testing.T) {
	w := &fakeWriter{}
	imp := &Importer{
		Canonicalize: func(url string, ctx CanonicalizeContext) (string, error) { return "foo:canonical", nil },
		Load:         func(string) (*LoadResult, error) { return &LoadResult{Contents: "x"}, nil },
	}
	importers, err := NewImporterRegistry([]*Importer{imp}, nil)
	require.NoError(t, err)
	functions := NewFunctionRegistry(nil)
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, nil)

	go func() {
		_, _ = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
	}()
	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)

	d.Handle(&wire.CanonicalizeRequest{ID: 9, ImporterID: 0, URL: "foo:x"})

	require.Eventually(t, func() bool {
		resp, ok := w.last().(*wire.CanonicalizeResponse)
		return ok && resp.ID == 9
	}, testEventuallyWait, testEventuallyTick)
}

func TestDispatcher_EnqueueHandlesAsynchronously(t *testing.T) {
	w := &fakeWriter{}
	imp := &Importer{
		Canonicalize: func(url string, ctx CanonicalizeContext) (string, error) { return "foo:canonical", nil },
		Load:         func(string) (*LoadResult, error) { return &LoadResult{Contents: "x"}, nil },
	}
	importers, err := NewImporterRegistry([]*Importer{imp}, nil)
	require.NoError(t, err)
	functions := NewFunctionRegistry(nil)
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, nil)

	go func() {
		_, _ = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
	}()
	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)

	d.Enqueue(&wire.CanonicalizeRequest{ID: 9, ImporterID: 0, URL: "foo:x"})

	require.Eventually(t, func() bool {
		resp, ok := w.last().(*wire.CanonicalizeResponse)
		return ok && resp.ID == 9
	}, testEventuallyWait, testEventuallyTick)
}

// TestDispatcher_EnqueueIsolatesSlowCallbackAcrossDispatchers guards the
// §8 isolation property: a slow callback blocked on one dispatcher must
// not delay another dispatcher's messages, since each now runs its own
// inbox worker instead of sharing one reader goroutine.
func TestDispatcher_EnqueueIsolatesSlowCallbackAcrossDispatchers(t *testing.T) {
	block := make(chan struct{})
	w1 := &fakeWriter{}
	slowImp := &Importer{
		Canonicalize: func(string, CanonicalizeContext) (string, error) {
			<-block
			return "foo:slow", nil
		},
		Load: func(string) (*LoadResult, error) { return &LoadResult{Contents: "x"}, nil },
	}
	importers1, err := NewImporterRegistry([]*Importer{slowImp}, nil)
	require.NoError(t, err)
	d1 := NewDispatcher(1, w1, importers1, NewFunctionRegistry(nil), testLogger(), false, false, nil)
	go func() {
		_, _ = d1.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
	}()
	require.Eventually(t, func() bool { return w1.last() != nil }, testEventuallyWait, testEventuallyTick)
	d1.Enqueue(&wire.CanonicalizeRequest{ID: 9, ImporterID: 0, URL: "x"})

	w2 := &fakeWriter{}
	fastImp := &Importer{
		Canonicalize: func(string, CanonicalizeContext) (string, error) { return "foo:fast", nil },
		Load:         func(string) (*LoadResult, error) { return &LoadResult{Contents: "y"}, nil },
	}
	importers2, err := NewImporterRegistry([]*Importer{fastImp}, nil)
	require.NoError(t, err)
	d2 := NewDispatcher(2, w2, importers2, NewFunctionRegistry(nil), testLogger(), false, false, nil)
	go func() {
		_, _ = d2.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
	}()
	require.Eventually(t, func() bool { return w2.last() != nil }, testEventuallyWait, testEventuallyTick)
	d2.Enqueue(&wire.CanonicalizeRequest{ID: 10, ImporterID: 0, URL: "x"})

	require.Eventually(t, func() bool {
		resp, ok := w2.last().(*wire.CanonicalizeResponse)
		return ok && resp.ID == 10
	}, testEventuallyWait, testEventuallyTick)

	close(block)
	require.Eventually(t, func() bool {
		resp, ok := w1.last().(*wire.CanonicalizeResponse)
		return ok && resp.ID == 9
	}, testEventuallyWait, testEventuallyTick)
}

func TestDispatcher_DuplicateInboundRequestIDIsProtocolError(t *testing.T) {
	w := &fakeWriter{}
	importers, _ := NewImporterRegistry(nil, nil)
	functions := NewFunctionRegistry(nil)
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, nil)
	d.state.Store(int32(stateRunning))

	require.True(t, d.trackInbound(9, wire.KindCanonicalizeResponse))
	assert.False(t, d.trackInbound(9, wire.KindCanonicalizeResponse))

	select {
	case <-d.Done():
	case <-done1s():
		t.Fatal("expected dispatcher to fail on duplicate inbound request id")
	}
	var perr *ProtocolError
	require.ErrorAs(t, d.Err(), &perr)
}

func TestDispatcher_LogEventDeliveredOnChannel(t *testing.T) {
	w := &fakeWriter{}
	importers, _ := NewImporterRegistry(nil, nil)
	functions := NewFunctionRegistry(nil)
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, nil)

	go func() {
		_, _ = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
	}()
	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)

	d.Handle(&wire.LogEvent{Type: wire.LogEventWarning, Message: "careful"})

	select {
	case ev := <-d.LogEvents():
		assert.Equal(t, "careful", ev.Message)
	case <-done1s():
		t.Fatal("timed out waiting for log event")
	}
}

func TestDispatcher_LateLogEventAfterDoneIsCountedNotFatal(t *testing.T) {
	w := &fakeWriter{}
	importers, _ := NewImporterRegistry(nil, nil)
	functions := NewFunctionRegistry(nil)
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, nil)

	done := make(chan struct{})
	go func() {
		_, _ = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
		close(done)
	}()
	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)
	d.Handle(&wire.CompileResponse{ID: 1, Success: &wire.CompileSuccess{CSS: ""}})
	<-done

	d.Handle(&wire.LogEvent{Type: wire.LogEventDebug, Message: "late"})
	assert.Equal(t, int64(1), d.LateLogEventCount())
}

func TestDispatcher_FatalDeprecationTerminatesCompilation(t *testing.T) {
	w := &fakeWriter{}
	importers, _ := NewImporterRegistry(nil, nil)
	functions := NewFunctionRegistry(nil)
	policy := NewDeprecationPolicy(&Options{FatalDeprecations: []wire.DeprecationID{"slash-div"}})
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, policy)

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
		close(done)
	}()
	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)

	d.Handle(&wire.LogEvent{Type: wire.LogEventDeprecationWarning, DeprecationType: "slash-div", Message: "use math.div"})
	<-done

	require.Error(t, sendErr)
	var compErr *CompilationError
	require.ErrorAs(t, sendErr, &compErr)
	assert.Equal(t, "use math.div", compErr.Message)
}

func TestDispatcher_SilencedDeprecationNeverReachesLogChannel(t *testing.T) {
	w := &fakeWriter{}
	importers, _ := NewImporterRegistry(nil, nil)
	functions := NewFunctionRegistry(nil)
	policy := NewDeprecationPolicy(&Options{SilenceDeprecations: []wire.DeprecationID{"slash-div"}})
	d := NewDispatcher(1, w, importers, functions, testLogger(), false, false, policy)

	go func() {
		_, _ = d.SendCompileRequest(&wire.CompileRequest{ID: 1, String: &wire.StringInput{Source: ""}})
	}()
	require.Eventually(t, func() bool { return w.last() != nil }, testEventuallyWait, testEventuallyTick)

	d.Handle(&wire.LogEvent{Type: wire.LogEventDeprecationWarning, DeprecationType: "slash-div", Message: "use math.div"})
	d.Handle(&wire.CompileResponse{ID: 1, Success: &wire.CompileSuccess{CSS: ""}})

	select {
	case ev, ok := <-d.LogEvents():
		if ok {
			t.Fatalf("expected silenced deprecation to be dropped, got %v", ev)
		}
	case <-done1s():
		t.Fatal("timed out waiting for log channel to close")
	}
}
