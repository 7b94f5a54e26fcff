package compiler

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sasscontrib/embedded-host-go/internal/framer"
	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

// CompileResult is the successful outcome of a compile (spec.md §6.3).
type CompileResult struct {
	CSS        string
	LoadedURLs []string
	SourceMap  string
}

// Host is the long-lived owner of the compiler child process (spec.md
// §4.7). Grounded on bifaci.PluginHost: os/exec.Cmd with stdin/stdout
// pipes, a reader goroutine pumping frames and a writer goroutine
// serializing writes, with child death tearing down every outstanding
// request. Generalized from "one PluginHost per set of plugins serving
// capability calls" to "one Host per compiler child serving compilation
// ids," and from a hand-rolled wait-group to golang.org/x/sync/errgroup
// for coordinating the stdout pump, stderr pump and child-wait goroutines.
// Dispose awaits active compilations through each dispatcher's Done
// channel, not through the errgroup.
type Host struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	log    *logrus.Entry
	legacy bool

	mu            sync.Mutex
	nextID        uint64
	active        map[uint64]*Dispatcher
	disposed      bool
	writeMu       sync.Mutex
	group         *errgroup.Group
	childExitErr  error
	childExitedCh chan struct{}

	versionMu     sync.Mutex
	versionCh     chan *wire.VersionResponse
	versionCached *VersionInfo
}

// VersionInfo answers CompilerVersionInfo (SPEC_FULL.md §12): the child's
// self-reported protocol and implementation versions.
type VersionInfo struct {
	ProtocolVersion       string
	CompilerVersion       string
	ImplementationVersion string
	ImplementationName    string
}

// NewHost resolves the compiler binary under binaryDir, spawns it with
// the --embedded argument and cwd set to the resolved binary's own
// directory (spec.md §4.7 "so cwd removals do not kill it"), and starts
// the stdout reader pump.
func NewHost(binaryDir string, log *logrus.Entry) (*Host, error) {
	path, err := ResolveCompilerPath(binaryDir)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, "--embedded")
	cmd.Dir = filepath.Dir(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("compiler: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("compiler: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("compiler: stderr pipe: %w", err)
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("compiler: start child: %w", err)
	}

	h := &Host{
		cmd:           cmd,
		stdin:         stdin,
		log:           log,
		active:        make(map[uint64]*Dispatcher),
		nextID:        1,
		childExitedCh: make(chan struct{}),
	}

	var group errgroup.Group
	h.group = &group
	group.Go(func() error { return h.pumpStdout(stdout) })
	group.Go(func() error { h.pumpStderr(stderr); return nil })
	group.Go(func() error { return h.waitChild() })

	return h, nil
}

// pumpStdout is the single reader: it frames the child's stdout, decodes
// each packet into (compilationId, message), and routes it to the
// matching dispatcher. Only the host's reader goroutine ever touches the
// child's stdout, matching spec.md §4.7 "single-reader for outbound."
func (h *Host) pumpStdout(stdout io.Reader) error {
	fr := framer.New()
	buf := make([]byte, 64*1024)
	r := bufio.NewReader(stdout)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			payloads, ferr := fr.Feed(buf[:n])
			if ferr != nil {
				h.failAll(&ProtocolError{Message: ferr.Error()})
				return ferr
			}
			for _, payload := range payloads {
				h.routePayload(payload)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (h *Host) routePayload(payload []byte) {
	compilationID, msg, err := wire.Decode(payload)
	if err != nil {
		h.failAll(&ProtocolError{Message: err.Error()})
		return
	}
	if compilationID == 0 {
		h.routeHandshake(msg)
		return
	}

	h.mu.Lock()
	d, ok := h.active[compilationID]
	h.mu.Unlock()
	if !ok {
		h.log.WithField("compilation_id", compilationID).Warn("compiler: message for unknown or finished compilation")
		return
	}
	d.Enqueue(msg)
}

// routeHandshake handles messages on the reserved compilation id 0, which
// belongs to no compilation: a standalone ProtocolError fails every active
// compilation, and a VersionResponse is delivered to whichever
// CompilerVersionInfo call is waiting on it, if any.
func (h *Host) routeHandshake(msg wire.Message) {
	if perr, ok := msg.(*wire.ProtocolError); ok {
		h.failAll(&ProtocolError{FromChild: true, Message: perr.Message})
		return
	}
	resp, ok := msg.(*wire.VersionResponse)
	if !ok {
		h.log.WithField("kind", msg.Kind()).Warn("compiler: unexpected message on reserved compilation id 0")
		return
	}
	h.versionMu.Lock()
	ch := h.versionCh
	h.versionMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// CompilerVersionInfo asks the child to identify itself, caching the
// result for subsequent calls (SPEC_FULL.md §12).
func (h *Host) CompilerVersionInfo() (*VersionInfo, error) {
	h.versionMu.Lock()
	if h.versionCached != nil {
		info := h.versionCached
		h.versionMu.Unlock()
		return info, nil
	}
	if h.versionCh == nil {
		h.versionCh = make(chan *wire.VersionResponse, 1)
	}
	ch := h.versionCh
	h.versionMu.Unlock()

	if err := h.Write(0, &wire.VersionRequest{ID: 0}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		info := &VersionInfo{
			ProtocolVersion:       resp.ProtocolVersion,
			CompilerVersion:       resp.CompilerVersion,
			ImplementationVersion: resp.ImplementationVersion,
			ImplementationName:    resp.ImplementationName,
		}
		h.versionMu.Lock()
		h.versionCached = info
		h.versionMu.Unlock()
		return info, nil
	case <-h.childExitedCh:
		return nil, ErrChildExited
	}
}

func (h *Host) pumpStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		h.log.WithField("source", "child-stderr").Info(scanner.Text())
	}
}

func (h *Host) waitChild() error {
	err := h.cmd.Wait()
	close(h.childExitedCh)
	h.mu.Lock()
	h.childExitErr = err
	h.mu.Unlock()
	h.failAll(ErrChildExited)
	return nil
}

func (h *Host) failAll(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.active {
		d.fail(err)
	}
}

// Write implements Writer: it writes an inbound (host -> compiler)
// message for compilationID to the child's stdin. The host serializes
// all inbound writes, matching spec.md §4.7 "single-writer for inbound."
func (h *Host) Write(compilationID uint64, msg wire.Message) error {
	payload, err := wire.Encode(compilationID, msg)
	if err != nil {
		return err
	}
	framed, err := framer.Frame(payload)
	if err != nil {
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err = h.stdin.Write(framed)
	return err
}

func (h *Host) allocateID() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return 0, ErrHostDisposed
	}
	id := h.nextID
	h.nextID++
	return id, nil
}

func (h *Host) release(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, id)
	// spec.md §3 invariant: the host resets its next-id counter to 1
	// when the set of active compilations becomes empty.
	if len(h.active) == 0 {
		h.nextID = 1
	}
}

// compile is the shared implementation behind Compile, CompileString, and
// their *Legacy counterparts. legacy is nil for a modern-mode compile.
func (h *Host) compile(input func(id uint64) *wire.CompileRequest, opts *Options, legacy *LegacyImporter) (*CompileResult, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	id, err := h.allocateID()
	if err != nil {
		return nil, err
	}

	importers := opts.Importers
	if legacy != nil {
		importers = append([]*Importer{legacy.AsImporter()}, importers...)
	}
	importerRegistry, err := NewImporterRegistry(importers, opts.LoadPaths)
	if err != nil {
		h.release(id)
		return nil, err
	}
	functionRegistry := NewFunctionRegistry(opts.Functions)

	dispatcher := NewDispatcher(id, h, importerRegistry, functionRegistry, h.log, legacy != nil, opts.Silent, NewDeprecationPolicy(opts))

	h.mu.Lock()
	h.active[id] = dispatcher
	h.mu.Unlock()
	defer h.release(id)
	defer dispatcher.stopInbox()

	req := input(id)
	req.Options = opts.toWire(importerRegistry.WireImporterRefs(), functionRegistry.GlobalFunctionNames())

	resp, err := dispatcher.SendCompileRequest(req)
	if err != nil {
		return nil, err
	}
	return responseToResult(resp)
}

func responseToResult(resp *wire.CompileResponse) (*CompileResult, error) {
	if resp.Failure != nil {
		return nil, formatCompilationError(resp.Failure)
	}
	return &CompileResult{
		CSS:        resp.Success.CSS,
		LoadedURLs: resp.Success.LoadedURLs,
		SourceMap:  resp.Success.SourceMap,
	}, nil
}

// Compile compiles the stylesheet at path.
func (h *Host) Compile(path string, opts *Options) (*CompileResult, error) {
	return h.compile(func(id uint64) *wire.CompileRequest {
		return &wire.CompileRequest{ID: id, Path: &wire.PathInput{Path: path}}
	}, opts, nil)
}

// CompileString compiles source directly.
func (h *Host) CompileString(source string, syntax wire.Syntax, opts *Options) (*CompileResult, error) {
	return h.compile(func(id uint64) *wire.CompileRequest {
		return &wire.CompileRequest{ID: id, String: &wire.StringInput{Source: source, Syntax: syntax}}
	}, opts, nil)
}

// CompileLegacy compiles the stylesheet at path in legacy mode: legacy is
// adapted into a Canonical importer ahead of opts.Importers, and the
// dispatcher strips legacy-importer URL prefixes from log events (spec.md
// §9 "Legacy-importer façade").
func (h *Host) CompileLegacy(path string, legacy *LegacyImporter, opts *Options) (*CompileResult, error) {
	return h.compile(func(id uint64) *wire.CompileRequest {
		return &wire.CompileRequest{ID: id, Path: &wire.PathInput{Path: path}}
	}, opts, legacy)
}

// CompileStringLegacy compiles source directly in legacy mode.
func (h *Host) CompileStringLegacy(source string, syntax wire.Syntax, legacy *LegacyImporter, opts *Options) (*CompileResult, error) {
	return h.compile(func(id uint64) *wire.CompileRequest {
		return &wire.CompileRequest{ID: id, String: &wire.StringInput{Source: source, Syntax: syntax}}
	}, opts, legacy)
}

// Dispose marks the host disposed, refusing new compiles, then waits for
// every in-flight compilation to terminate before closing stdin and
// waiting for the child to exit (spec.md §4.7 Dispose).
func (h *Host) Dispose() error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil
	}
	h.disposed = true
	pending := make([]*Dispatcher, 0, len(h.active))
	for _, d := range h.active {
		pending = append(pending, d)
	}
	h.mu.Unlock()

	for _, d := range pending {
		<-d.Done()
	}

	if err := h.stdin.Close(); err != nil {
		return fmt.Errorf("compiler: close stdin: %w", err)
	}
	<-h.childExitedCh
	return h.group.Wait()
}
