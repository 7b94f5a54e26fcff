package compiler

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

// Function is a user-provided custom function callable from the
// stylesheet language (spec.md §4.6). Signature is the stylesheet-facing
// declaration, e.g. "my-func($a, $b: 1)".
type Function struct {
	Signature string
	Call      func(args []wire.Value) (wire.Value, error)
}

// newHostFunctionID allocates an opaque id for a function value that
// only exists at runtime (e.g. one returned from another function call),
// as opposed to a globally registered function looked up by name
// (spec.md §4.6 "identified either by stylesheet-known signature or by
// opaque host-allocated id"). Grounded on the teacher's use of
// google/uuid for plugin-scoped opaque ids, repurposed here: a uuid is
// generated for uniqueness and folded down to the uint64 the wire format
// carries by taking its first 8 bytes.
func newHostFunctionID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// FunctionRegistry is the per-compilation table of registered and
// runtime-allocated functions (spec.md §4.6). Grounded on
// bifaci.PluginRuntime's HandlerFunc dispatch table (name/id -> handler),
// generalized from plugin capability handlers to stylesheet functions.
type FunctionRegistry struct {
	byName map[string]*Function
	byID   map[uint64]*Function
}

// NewFunctionRegistry registers fns by their signature's function name
// (the text before the first '(').
func NewFunctionRegistry(fns []*Function) *FunctionRegistry {
	r := &FunctionRegistry{byName: make(map[string]*Function), byID: make(map[uint64]*Function)}
	for _, fn := range fns {
		r.byName[functionName(fn.Signature)] = fn
	}
	return r
}

func functionName(signature string) string {
	for i, c := range signature {
		if c == '(' {
			return signature[:i]
		}
	}
	return signature
}

// GlobalFunctionNames lists the signatures to advertise on the compile
// request's globalFunctions option.
func (r *FunctionRegistry) GlobalFunctionNames() []string {
	names := make([]string, 0, len(r.byName))
	for _, fn := range r.byName {
		names = append(names, fn.Signature)
	}
	return names
}

// RegisterRuntimeFunction allocates a fresh opaque id for fn (a function
// value returned from a previous call that the compiler may invoke
// later) and returns the FunctionRef the response should carry.
func (r *FunctionRegistry) RegisterRuntimeFunction(fn *Function) wire.FunctionRef {
	id := newHostFunctionID()
	r.byID[id] = fn
	return wire.FunctionRef{HostID: &id}
}

// Handle answers an inbound FunctionCallRequest (spec.md §4.6 Dispatch).
func (r *FunctionRegistry) Handle(req *wire.FunctionCallRequest) *wire.FunctionCallResponse {
	resp := &wire.FunctionCallResponse{ID: req.ID}

	var fn *Function
	switch {
	case req.FunctionID != nil:
		fn = r.byID[*req.FunctionID]
	case req.Name != "":
		fn = r.byName[req.Name]
	}
	if fn == nil {
		resp.Error = fmt.Sprintf("compiler: no function registered for call %v", req)
		return resp
	}

	var result wire.Value
	err := invokeCallback(func() error {
		var callErr error
		result, callErr = fn.Call(req.Arguments)
		return callErr
	})
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	resp.Result = result
	resp.AccessedArgumentLists = anyArgumentListKeywordsAccessed(req.Arguments)
	return resp
}

func anyArgumentListKeywordsAccessed(args []wire.Value) bool {
	for _, a := range args {
		if al, ok := a.(*wire.ArgumentList); ok && al.KeywordsAccessed {
			return true
		}
	}
	return false
}
