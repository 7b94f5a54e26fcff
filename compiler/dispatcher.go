package compiler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sasscontrib/embedded-host-go/internal/reqtracker"
	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

type dispatcherState int32

const (
	stateIdle dispatcherState = iota
	stateRunning
	stateDone
	stateFailed
)

// Writer sends a message to the compiler child on behalf of a compilation.
type Writer interface {
	Write(compilationID uint64, msg wire.Message) error
}

// Dispatcher is the state machine and routing logic for exactly one
// compilation (spec.md §4.4). Grounded on bifaci.Host's
// handleRelayFrame/handlePluginFrame routing switch and its "wait for the
// matching response" shape around PluginResponse, generalized from one
// dispatcher per plugin process to one dispatcher per compilation id,
// with inbound compiler-issued requests answered via registered Go
// callbacks instead of forwarded to a second process. Handle itself runs
// on this dispatcher's own goroutine (see Enqueue), so a callback is free
// to block on another compilation without touching the host's reader
// pump.
type Dispatcher struct {
	compilationID uint64
	writer        Writer
	tracker       *reqtracker.Tracker[uint64, wire.Kind]
	importers     *ImporterRegistry
	functions     *FunctionRegistry
	log           *logrus.Entry
	legacyURLs    bool
	silent        bool
	deprecations  *DeprecationPolicy

	state atomic.Int32

	mu           sync.Mutex
	compileID    uint64
	result       *wire.CompileResponse
	termErr      error
	doneCh       chan struct{}
	doneOnce     sync.Once
	logEventsCh  chan *wire.LogEvent
	lateLogCount atomic.Int64

	// inbox decouples inbound-message handling (callback invocation plus
	// response write) from whatever goroutine calls Enqueue, so a
	// re-entrant compile or a slow callback on one compilation can never
	// block another's reader pump (spec.md §5 Re-entrancy, §8 isolation;
	// SPEC_FULL.md §9). Host uses Enqueue; SyncHost calls Handle directly
	// since it only ever has one compilation in flight on its own
	// goroutine and already decouples raw I/O via its own mailbox.
	inboxMu     sync.Mutex
	inboxQueue  []wire.Message
	inboxClosed bool
	inboxSignal chan struct{}
	inboxOnce   sync.Once
}

// NewDispatcher builds a Dispatcher bound to compilationID.
func NewDispatcher(compilationID uint64, writer Writer, importers *ImporterRegistry, functions *FunctionRegistry, log *logrus.Entry, legacyURLs, silent bool, deprecations *DeprecationPolicy) *Dispatcher {
	if deprecations == nil {
		deprecations = NewDeprecationPolicy(nil)
	}
	return &Dispatcher{
		compilationID: compilationID,
		writer:        writer,
		tracker:       reqtracker.New[uint64, wire.Kind](),
		importers:     importers,
		functions:     functions,
		log:           log.WithFields(logrus.Fields{"compilation_id": compilationID, "trace_id": uuid.NewString()}),
		legacyURLs:    legacyURLs,
		silent:        silent,
		deprecations:  deprecations,
		doneCh:        make(chan struct{}),
		logEventsCh:   make(chan *wire.LogEvent, 16),
		inboxSignal:   make(chan struct{}, 1),
	}
}

// Enqueue queues msg for processing on this dispatcher's own goroutine
// instead of handling it inline on the caller's goroutine. The host's
// reader pump uses this so that a callback invoked while handling msg can
// never block the pump that would have to deliver the response unblocking
// it (the re-entrancy deadlock) and so a slow callback on this
// compilation never delays another compilation's messages.
func (d *Dispatcher) Enqueue(msg wire.Message) {
	d.inboxOnce.Do(func() { go d.runInbox() })
	d.inboxMu.Lock()
	d.inboxQueue = append(d.inboxQueue, msg)
	d.inboxMu.Unlock()
	select {
	case d.inboxSignal <- struct{}{}:
	default:
	}
}

// stopInbox tells the inbox worker to exit once it has drained whatever
// is already queued. Called once the dispatcher is no longer reachable
// through the host's routing table, so no further Enqueue calls for it
// are possible.
func (d *Dispatcher) stopInbox() {
	d.inboxMu.Lock()
	d.inboxClosed = true
	d.inboxMu.Unlock()
	select {
	case d.inboxSignal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) runInbox() {
	for {
		d.inboxMu.Lock()
		if len(d.inboxQueue) > 0 {
			msg := d.inboxQueue[0]
			d.inboxQueue = d.inboxQueue[1:]
			d.inboxMu.Unlock()
			d.Handle(msg)
			continue
		}
		closed := d.inboxClosed
		d.inboxMu.Unlock()
		if closed {
			return
		}
		<-d.inboxSignal
	}
}

// SendCompileRequest writes req to the child and blocks until either a
// matching CompileResponse arrives or the dispatcher terminates with an
// error. Callable once per dispatcher.
func (d *Dispatcher) SendCompileRequest(req *wire.CompileRequest) (*wire.CompileResponse, error) {
	if !d.state.CompareAndSwap(int32(stateIdle), int32(stateRunning)) {
		return nil, fmt.Errorf("compiler: dispatcher %d already used", d.compilationID)
	}
	d.compileID = req.ID
	if err := d.tracker.Add(req.ID, wire.KindCompileResponse); err != nil {
		return nil, err
	}
	if err := d.writer.Write(d.compilationID, req); err != nil {
		d.fail(err)
		return nil, err
	}

	<-d.doneCh
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result, d.termErr
}

// LogEvents returns the channel LogEvent records for this compilation
// are delivered on. It is closed when the dispatcher terminates.
func (d *Dispatcher) LogEvents() <-chan *wire.LogEvent {
	return d.logEventsCh
}

// Err returns the dispatcher's terminal error, if any, after Done closes.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.termErr
}

// Done reports the channel that closes once the dispatcher has reached a
// terminal state.
func (d *Dispatcher) Done() <-chan struct{} { return d.doneCh }

// Handle routes one inbound (compiler -> host) message already filtered
// to this compilation id by the host's reader pump.
func (d *Dispatcher) Handle(msg wire.Message) {
	if dispatcherState(d.state.Load()) != stateRunning {
		if dispatcherState(d.state.Load()) == stateIdle {
			d.log.Warn("compiler: message received before compile request sent")
			return
		}
		// A LogEvent arriving after the compile response is the one case
		// spec.md §9 leaves open ("the source silently drops it"); every
		// other late message is a correlation violation.
		if _, ok := msg.(*wire.LogEvent); ok {
			d.recordLateLogEvent()
			return
		}
		d.log.WithField("kind", msg.Kind()).Error("compiler: message received after dispatcher terminated")
		return
	}

	switch m := msg.(type) {
	case *wire.LogEvent:
		d.handleLogEvent(m)

	case *wire.CompileResponse:
		if err := d.tracker.Resolve(m.ID, wire.KindCompileResponse); err != nil {
			d.fail(&ProtocolError{Message: err.Error()})
			return
		}
		d.mu.Lock()
		d.result = m
		d.mu.Unlock()
		d.finish(stateDone, nil)

	case *wire.CanonicalizeRequest:
		if !d.trackInbound(m.ID, wire.KindCanonicalizeResponse) {
			return
		}
		resp := d.importers.HandleCanonicalize(m)
		d.resolveInbound(m.ID, wire.KindCanonicalizeResponse)
		d.reply(wire.KindCanonicalizeResponse, resp)

	case *wire.ImportRequest:
		if !d.trackInbound(m.ID, wire.KindImportResponse) {
			return
		}
		resp := d.importers.HandleImport(m)
		d.resolveInbound(m.ID, wire.KindImportResponse)
		d.reply(wire.KindImportResponse, resp)

	case *wire.FileImportRequest:
		if !d.trackInbound(m.ID, wire.KindFileImportResponse) {
			return
		}
		resp := d.importers.HandleFileImport(m)
		d.resolveInbound(m.ID, wire.KindFileImportResponse)
		d.reply(wire.KindFileImportResponse, resp)

	case *wire.FunctionCallRequest:
		if !d.trackInbound(m.ID, wire.KindFunctionCallResponse) {
			return
		}
		resp := d.functions.Handle(m)
		d.resolveInbound(m.ID, wire.KindFunctionCallResponse)
		d.reply(wire.KindFunctionCallResponse, resp)

	case *wire.ProtocolError:
		d.fail(&ProtocolError{FromChild: true, Message: m.Message})

	default:
		d.fail(&ProtocolError{Message: fmt.Sprintf("unknown message kind %v", msg.Kind())})
	}
}

// trackInbound records an inbound compiler-issued request's id against
// its expected response kind (spec.md §4.4), failing the dispatcher on a
// duplicate id the way Handle already does for a CompileResponse whose id
// is not outstanding.
func (d *Dispatcher) trackInbound(id uint64, kind wire.Kind) bool {
	if err := d.tracker.Add(id, kind); err != nil {
		d.fail(&ProtocolError{Message: err.Error()})
		return false
	}
	return true
}

// resolveInbound consumes the tracked entry trackInbound recorded. A
// mismatch here would mean this dispatcher itself replied with the wrong
// kind, which is a bug rather than something the child could trigger.
func (d *Dispatcher) resolveInbound(id uint64, kind wire.Kind) {
	if err := d.tracker.Resolve(id, kind); err != nil {
		d.log.WithError(err).Error("compiler: inbound request tracking mismatch")
	}
}

func (d *Dispatcher) reply(kind wire.Kind, resp wire.Message) {
	if err := d.writer.Write(d.compilationID, resp); err != nil {
		d.fail(err)
		return
	}
	_ = kind
}

// handleLogEvent implements spec.md §4.4.1: strip legacy-importer URL
// prefixes when running in legacy mode, then route by severity.
func (d *Dispatcher) handleLogEvent(ev *wire.LogEvent) {
	if d.legacyURLs && ev.Span != nil {
		ev.Span.URL = stripLegacyPrefix(ev.Span.URL)
	}

	entry := d.log
	if ev.Span != nil {
		entry = entry.WithField("span", ev.Span.Text)
	}

	if ev.Type == wire.LogEventDeprecationWarning {
		fatal, silenced := d.deprecations.Classify(ev.DeprecationType)
		if fatal {
			d.fail(&CompilationError{
				Message:     ev.Message,
				SassMessage: ev.Message,
				Span:        ev.Span,
			})
			return
		}
		if silenced {
			return
		}
	}

	switch ev.Type {
	case wire.LogEventDebug:
		if !d.silent {
			entry.Debug(ev.Message)
		}
	case wire.LogEventWarning:
		if !d.silent {
			entry.Warn(ev.Message)
		}
	case wire.LogEventDeprecationWarning:
		if !d.silent {
			entry.WithField("deprecation", ev.DeprecationType).Warn(ev.Message)
		}
	}

	select {
	case d.logEventsCh <- ev:
	default:
		d.log.Warn("compiler: log event channel full, dropping this event")
	}
}

func stripLegacyPrefix(url string) string {
	su, err := ParseSourceURL(url)
	if err != nil || !su.IsLegacyImporter() {
		return url
	}
	inner, _, ok := decodeLegacyURL(su)
	if !ok {
		return url
	}
	return inner
}

func (d *Dispatcher) fail(err error) {
	d.mu.Lock()
	d.termErr = err
	d.mu.Unlock()
	d.finish(stateFailed, err)
}

func (d *Dispatcher) finish(to dispatcherState, err error) {
	d.state.Store(int32(to))
	d.doneOnce.Do(func() {
		close(d.logEventsCh)
		close(d.doneCh)
	})
}

// recordLateLogEvent is called when a LogEvent arrives for a compilation
// id that has already reached a terminal state. spec.md §9 leaves this
// ambiguous ("the source silently drops it"); the decision recorded in
// DESIGN.md is to drop it but count it for tests.
func (d *Dispatcher) recordLateLogEvent() {
	d.lateLogCount.Add(1)
}

// LateLogEventCount reports how many LogEvent records arrived after
// termination and were silently dropped.
func (d *Dispatcher) LateLogEventCount() int64 {
	return d.lateLogCount.Load()
}
