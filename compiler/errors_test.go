package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

func TestCompilationError_ErrorUsesFormattedWhenPresent(t *testing.T) {
	err := &CompilationError{Message: "bad", Formatted: "Error: bad thing happened"}
	assert.Equal(t, "Error: bad thing happened", err.Error())
}

func TestCompilationError_ErrorFallsBackToLeadingErrorPrefix(t *testing.T) {
	err := &CompilationError{Message: "bad thing"}
	assert.Equal(t, "Error: bad thing", err.Error())
}

func TestProtocolError_LabelsDiffer(t *testing.T) {
	hostErr := &ProtocolError{FromChild: true, Message: "oops"}
	assert.Contains(t, hostErr.Error(), "Compiler reported error")

	compilerErr := &ProtocolError{FromChild: false, Message: "oops"}
	assert.Contains(t, compilerErr.Error(), "Compiler caused error")
}

func TestCallbackError_Unwraps(t *testing.T) {
	inner := assert.AnError
	err := &CallbackError{Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestFormatCompilationError(t *testing.T) {
	failure := &wire.CompileFailure{Message: "m", SassMessage: "sm", SassStack: "stack"}
	err := formatCompilationError(failure)
	assert.Equal(t, "m", err.Message)
	assert.Equal(t, "sm", err.SassMessage)
	assert.Equal(t, "stack", err.SassStack)
}

func TestInvalidOptionError_Message(t *testing.T) {
	err := &InvalidOptionError{Field: "style", Reason: "unknown"}
	assert.Contains(t, err.Error(), "style")
	assert.Contains(t, err.Error(), "unknown")
}
