// Package wire implements the message codec: the conversion between a
// packet payload and a (compilationId, message) pair, where message is one
// variant of the tagged-union protocol record set spec.md §3 defines.
//
// Grounded on the teacher's bifaci.Frame / bifaci.EncodeFrame / DecodeFrame
// (small-integer CBOR map keys for a flat frame struct); here the union is
// a real Go interface with one struct per kind instead of one struct with
// every kind's fields, because spec.md's message set is a genuine tagged
// union rather than one wire shape reused for every direction.
package wire

import "fmt"

// Kind discriminates the tagged-union message variants.
type Kind uint8

const (
	KindCompileRequest Kind = iota + 1
	KindCompileResponse
	KindImportRequest
	KindImportResponse
	KindFileImportRequest
	KindFileImportResponse
	KindCanonicalizeRequest
	KindCanonicalizeResponse
	KindFunctionCallRequest
	KindFunctionCallResponse
	KindLogEvent
	KindProtocolError
	KindVersionRequest
	KindVersionResponse
)

func (k Kind) String() string {
	switch k {
	case KindCompileRequest:
		return "CompileRequest"
	case KindCompileResponse:
		return "CompileResponse"
	case KindImportRequest:
		return "ImportRequest"
	case KindImportResponse:
		return "ImportResponse"
	case KindFileImportRequest:
		return "FileImportRequest"
	case KindFileImportResponse:
		return "FileImportResponse"
	case KindCanonicalizeRequest:
		return "CanonicalizeRequest"
	case KindCanonicalizeResponse:
		return "CanonicalizeResponse"
	case KindFunctionCallRequest:
		return "FunctionCallRequest"
	case KindFunctionCallResponse:
		return "FunctionCallResponse"
	case KindLogEvent:
		return "LogEvent"
	case KindProtocolError:
		return "ProtocolError"
	case KindVersionRequest:
		return "VersionRequest"
	case KindVersionResponse:
		return "VersionResponse"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Message is implemented by every wire-protocol record.
type Message interface {
	Kind() Kind
}

// Span describes a source location, per spec.md §6.3.
type Span struct {
	Text  string
	Start Location
	End   Location
	URL   string
	// Context is extra surrounding source text supplied by the compiler.
	Context string
}

// Location is a single offset/line/column triple within a Span.
type Location struct {
	Offset int
	Line   int
	Column int
}

// Syntax identifies the stylesheet syntax of an input or loaded file.
type Syntax string

const (
	SyntaxSCSS     Syntax = "scss"
	SyntaxIndented Syntax = "indented"
	SyntaxCSS      Syntax = "css"
)

// OutputStyle controls generated CSS formatting.
type OutputStyle string

const (
	StyleExpanded   OutputStyle = "expanded"
	StyleCompressed OutputStyle = "compressed"
)

// DeprecationID names a single deprecated stylesheet-language feature,
// used by the fatalDeprecations/silenceDeprecations/futureDeprecations
// option lists (spec.md §3 CompileRequest options table).
type DeprecationID string

// PathInput is the path-input variant of CompileRequest.
type PathInput struct {
	Path string
}

// StringInput is the string-input variant of CompileRequest.
type StringInput struct {
	Source   string
	Syntax   Syntax
	URL      string
	Importer *ImporterRef
}

// ImporterRef identifies a registered importer entry on the wire by its
// ImporterID. Load paths are not expressed as ImporterRefs here; they
// travel separately in CompileOptions.LoadPaths.
type ImporterRef struct {
	ImporterID *uint32
	// NonCanonicalSchemes lists schemes this importer claims that should
	// never be treated as canonical on their own (spec.md §3 Importer).
	NonCanonicalSchemes []string
}

// CompileOptions mirrors the shared options table in spec.md §3.
type CompileOptions struct {
	Importers                []ImporterRef
	LoadPaths                []string
	GlobalFunctions          []string
	SourceMap                bool
	SourceMapIncludeSources  bool
	AlertColor               bool
	AlertAscii               bool
	QuietDeps                bool
	Verbose                  bool
	Silent                   bool
	Charset                  bool
	Style                    OutputStyle
	FatalDeprecations        []DeprecationID
	SilenceDeprecations      []DeprecationID
	FutureDeprecations       []DeprecationID
}

// CompileRequest is the inbound host->compiler request that starts a
// compilation (spec.md §3). The only other host-issued request is
// VersionRequest.
type CompileRequest struct {
	ID      uint64
	Path    *PathInput
	String  *StringInput
	Options CompileOptions
}

func (*CompileRequest) Kind() Kind { return KindCompileRequest }

// CompileSuccess is the success variant of CompileResponse.Result.
type CompileSuccess struct {
	CSS        string
	LoadedURLs []string
	SourceMap  string // raw JSON text; CompileResult.SourceMap carries it unparsed
}

// CompileFailure is the failure variant of CompileResponse.Result.
type CompileFailure struct {
	Message     string
	Formatted   string
	SassMessage string
	SassStack   string
	Span        *Span
}

// CompileResponse is the compiler's answer to a CompileRequest.
type CompileResponse struct {
	ID      uint64
	Success *CompileSuccess
	Failure *CompileFailure
}

func (*CompileResponse) Kind() Kind { return KindCompileResponse }

// HasResult reports whether the codec-mandated "result must be set"
// invariant (spec.md §4.2) holds for this response.
func (m *CompileResponse) HasResult() bool {
	return m.Success != nil || m.Failure != nil
}

// ImportRequest asks the host to load a canonical URL (spec.md §4.5).
type ImportRequest struct {
	ID         uint64
	ImporterID uint32
	URL        string
}

func (*ImportRequest) Kind() Kind { return KindImportRequest }

// ImportResponse answers an ImportRequest.
type ImportResponse struct {
	ID           uint64
	Contents     *string
	Syntax       Syntax
	SourceMapURL string
	Error        string
	// None is set when the importer's load callback returned nil.
	None bool
}

func (*ImportResponse) Kind() Kind { return KindImportResponse }

// FileImportRequest asks a file-importer to resolve a URL to a file: URL.
type FileImportRequest struct {
	ID            uint64
	ImporterID    uint32
	URL           string
	FromImport    bool
	ContainingURL string
}

func (*FileImportRequest) Kind() Kind { return KindFileImportRequest }

// FileImportResponse answers a FileImportRequest.
type FileImportResponse struct {
	ID      uint64
	FileURL string
	Error   string
	None    bool
}

func (*FileImportResponse) Kind() Kind { return KindFileImportResponse }

// CanonicalizeRequest asks an importer to canonicalize a URL.
type CanonicalizeRequest struct {
	ID            uint64
	ImporterID    uint32
	URL           string
	FromImport    bool
	ContainingURL string
}

func (*CanonicalizeRequest) Kind() Kind { return KindCanonicalizeRequest }

// CanonicalizeResponse answers a CanonicalizeRequest.
type CanonicalizeResponse struct {
	ID   uint64
	URL  string
	None bool
	Error string
	// ContainingURLAccessed reports whether the handler read the
	// containingUrl of the CanonicalizeContext it was given (spec.md §3).
	ContainingURLAccessed bool
}

func (*CanonicalizeResponse) Kind() Kind { return KindCanonicalizeResponse }

// FunctionCallRequest invokes a custom function (spec.md §4.6).
type FunctionCallRequest struct {
	ID         uint64
	Name       string
	FunctionID *uint64
	Arguments  []Value
}

func (*FunctionCallRequest) Kind() Kind { return KindFunctionCallRequest }

// HasIdentifier reports whether the codec-mandated "identifier must be
// set" invariant (spec.md §4.2) holds: either Name or FunctionID.
func (m *FunctionCallRequest) HasIdentifier() bool {
	return m.Name != "" || m.FunctionID != nil
}

// FunctionCallResponse answers a FunctionCallRequest.
type FunctionCallResponse struct {
	ID                    uint64
	Result                Value
	Error                 string
	AccessedArgumentLists bool
}

func (*FunctionCallResponse) Kind() Kind { return KindFunctionCallResponse }

// LogEventType distinguishes a LogEvent's severity/kind.
type LogEventType uint8

const (
	LogEventDebug LogEventType = iota
	LogEventWarning
	LogEventDeprecationWarning
)

// LogEvent is an unsolicited diagnostic from the compiler (spec.md §4.4.1).
type LogEvent struct {
	Type            LogEventType
	Message         string
	Formatted       string
	Span            *Span
	StackTrace      string
	DeprecationType DeprecationID
}

func (*LogEvent) Kind() Kind { return KindLogEvent }

// ProtocolError is a standalone error not attributable to a request
// (compilation id 0) or a compilation-scoped protocol violation report.
type ProtocolError struct {
	ID      uint64
	Message string
}

func (*ProtocolError) Kind() Kind { return KindProtocolError }

// VersionRequest asks the compiler to identify itself. The host sends it
// on compilation id 0 the first time Host.CompilerVersionInfo is called,
// independently of any CompileRequest, and caches the answer.
type VersionRequest struct {
	ID uint64
}

func (*VersionRequest) Kind() Kind { return KindVersionRequest }

// VersionResponse answers a VersionRequest.
type VersionResponse struct {
	ID                    uint64
	ProtocolVersion       string
	CompilerVersion       string
	ImplementationVersion string
	ImplementationName    string
}

func (*VersionResponse) Kind() Kind { return KindVersionResponse }
