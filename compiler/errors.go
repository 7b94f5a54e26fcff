package compiler

import (
	"errors"
	"fmt"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

// Sentinel errors for conditions that are not attached to compiler output
// (spec.md §7).
var (
	// ErrHostDisposed is returned by any Host operation attempted after
	// Dispose has been called.
	ErrHostDisposed = errors.New("compiler: host is disposed")
	// ErrChildExited is delivered to every active dispatcher when the
	// child process exits before their compile completed.
	ErrChildExited = errors.New("compiler: child process exited unexpectedly")
	// ErrSyncReentrant is returned by SyncHost.Compile when called while
	// another compile on the same SyncHost is already in flight.
	ErrSyncReentrant = errors.New("compiler: sync host does not support re-entrant compile calls")
)

// CompilationError reports that the compiler successfully processed the
// request but the stylesheet itself failed to compile (spec.md §7
// CompilationFailure).
type CompilationError struct {
	Message     string
	Formatted   string
	SassMessage string
	SassStack   string
	Span        *wire.Span
}

func (e *CompilationError) Error() string {
	if e.Formatted != "" {
		return e.Formatted
	}
	return "Error: " + e.Message
}

// ProtocolError reports a violation of the wire protocol, either
// detected locally (bad varint, unknown tag, missing mandatory field,
// duplicate or unknown id — CompilerProtocolError) or reported by the
// child as a standalone ProtocolError message (HostProtocolError).
type ProtocolError struct {
	// FromChild is true for a HostProtocolError (the child told us about
	// a violation) and false for a CompilerProtocolError (we detected the
	// violation ourselves while decoding or routing the child's output).
	FromChild bool
	Message   string
}

func (e *ProtocolError) Error() string {
	if e.FromChild {
		return "Compiler reported error: " + e.Message
	}
	return "Compiler caused error: " + e.Message
}

// CallbackError reports a panic recovered from a user-provided importer
// or function callback by invokeCallback. Like an error the callback
// returns (which is passed on unwrapped), its text is serialized onto the
// wire as an {error: string} response rather than killing the dispatcher.
type CallbackError struct {
	Err error
}

func (e *CallbackError) Error() string { return e.Err.Error() }
func (e *CallbackError) Unwrap() error { return e.Err }

// invokeCallback runs fn and recovers a panic into a *CallbackError
// instead of letting it cross the importer/function registry boundary
// (SPEC_FULL.md §10.2: "a callback panic is recovered at the dispatch
// site and turned into a CallbackError"). This is the dispatch site: the
// one place registry code calls directly into user-supplied closures.
func invokeCallback(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

// InvalidOptionError is returned before a compile request is sent, when
// CompileOptions fails validation (spec.md §7 InvalidOption).
type InvalidOptionError struct {
	Field  string
	Reason string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("compiler: invalid option %q: %s", e.Field, e.Reason)
}

// formatCompilationError builds the user-visible toString() text spec.md
// §7 specifies: the formatted text if the compiler supplied one, else a
// message with a leading "Error:".
func formatCompilationError(failure *wire.CompileFailure) *CompilationError {
	return &CompilationError{
		Message:     failure.Message,
		Formatted:   failure.Formatted,
		SassMessage: failure.SassMessage,
		SassStack:   failure.SassStack,
		Span:        failure.Span,
	}
}
