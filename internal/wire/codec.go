package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Sentinel decode errors, named directly in spec.md §4.2.
var (
	ErrInvalidCompilationID = errors.New("wire: invalid compilation id")
	ErrInvalidMessage       = errors.New("wire: invalid message")
	ErrMalformedMessage     = errors.New("wire: malformed message")
)

// Encode converts (compilationId, message) into a packet payload: a varint
// compilationId followed by the CBOR-encoded tagged-union message
// (spec.md §4.2).
func Encode(compilationID uint64, msg Message) ([]byte, error) {
	var idBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(idBuf[:], compilationID)

	body, err := encodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode message: %w", err)
	}

	out := make([]byte, 0, n+len(body))
	out = append(out, idBuf[:n]...)
	out = append(out, body...)
	return out, nil
}

// Decode splits a packet payload back into (compilationId, message).
func Decode(payload []byte) (uint64, Message, error) {
	compilationID, n := binary.Uvarint(payload)
	if n <= 0 {
		return 0, nil, ErrInvalidCompilationID
	}

	msg, err := decodeMessage(payload[n:])
	if err != nil {
		return 0, nil, err
	}
	return compilationID, msg, nil
}

// Message-level CBOR keys. Key 0 always carries the Kind discriminator;
// key 1 always carries the message's id (when it has one), matching the
// teacher's convention (bifaci.Frame) of small reserved integer keys
// shared across every variant before variant-specific keys begin.
const (
	fkKind = 0
	fkID   = 1
)

func encodeMessage(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}

	m := map[int]interface{}{fkKind: uint8(msg.Kind())}

	switch v := msg.(type) {
	case *CompileRequest:
		m[fkID] = v.ID
		m[2] = encodeCompileRequestInput(v)
		m[3] = encodeCompileOptions(v.Options)

	case *CompileResponse:
		m[fkID] = v.ID
		if !v.HasResult() {
			return nil, fmt.Errorf("%w: CompileResponse missing result", ErrMalformedMessage)
		}
		if v.Success != nil {
			m[2] = map[int]interface{}{
				0: v.Success.CSS,
				1: v.Success.LoadedURLs,
				2: v.Success.SourceMap,
			}
		}
		if v.Failure != nil {
			m[3] = encodeCompileFailure(v.Failure)
		}

	case *ImportRequest:
		m[fkID] = v.ID
		m[2] = v.ImporterID
		m[3] = v.URL

	case *ImportResponse:
		m[fkID] = v.ID
		if v.None {
			m[2] = true
		} else if v.Error != "" {
			m[3] = v.Error
		} else if v.Contents != nil {
			entry := map[int]interface{}{0: *v.Contents, 1: string(v.Syntax)}
			if v.SourceMapURL != "" {
				entry[2] = v.SourceMapURL
			}
			m[4] = entry
		}

	case *FileImportRequest:
		m[fkID] = v.ID
		m[2] = v.ImporterID
		m[3] = v.URL
		m[4] = v.FromImport
		if v.ContainingURL != "" {
			m[5] = v.ContainingURL
		}

	case *FileImportResponse:
		m[fkID] = v.ID
		if v.None {
			m[2] = true
		} else if v.Error != "" {
			m[3] = v.Error
		} else {
			m[4] = v.FileURL
		}

	case *CanonicalizeRequest:
		m[fkID] = v.ID
		m[2] = v.ImporterID
		m[3] = v.URL
		m[4] = v.FromImport
		if v.ContainingURL != "" {
			m[5] = v.ContainingURL
		}

	case *CanonicalizeResponse:
		m[fkID] = v.ID
		if v.None {
			m[2] = true
		} else if v.Error != "" {
			m[3] = v.Error
		} else {
			m[4] = v.URL
		}
		m[6] = v.ContainingURLAccessed

	case *FunctionCallRequest:
		m[fkID] = v.ID
		if !v.HasIdentifier() {
			return nil, fmt.Errorf("%w: FunctionCallRequest missing identifier", ErrMalformedMessage)
		}
		if v.FunctionID != nil {
			m[2] = *v.FunctionID
		} else {
			m[3] = v.Name
		}
		args := make([]interface{}, len(v.Arguments))
		for i, a := range v.Arguments {
			enc, err := encodeValue(a)
			if err != nil {
				return nil, err
			}
			args[i] = enc
		}
		m[4] = args

	case *FunctionCallResponse:
		m[fkID] = v.ID
		if v.Error != "" {
			m[2] = v.Error
		} else {
			enc, err := encodeValue(v.Result)
			if err != nil {
				return nil, err
			}
			m[3] = enc
		}
		m[5] = v.AccessedArgumentLists

	case *LogEvent:
		m[2] = uint8(v.Type)
		m[3] = v.Message
		if v.Formatted != "" {
			m[4] = v.Formatted
		}
		if v.Span != nil {
			m[5] = encodeSpan(v.Span)
		}
		if v.StackTrace != "" {
			m[6] = v.StackTrace
		}
		if v.DeprecationType != "" {
			m[7] = string(v.DeprecationType)
		}

	case *ProtocolError:
		m[fkID] = v.ID
		m[2] = v.Message

	case *VersionRequest:
		m[fkID] = v.ID

	case *VersionResponse:
		m[fkID] = v.ID
		m[2] = v.ProtocolVersion
		m[3] = v.CompilerVersion
		m[4] = v.ImplementationVersion
		m[5] = v.ImplementationName

	default:
		return nil, fmt.Errorf("%w: unknown message type %T", ErrMalformedMessage, msg)
	}

	return cbor.Marshal(m)
}

func decodeMessage(data []byte) (Message, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	kindVal, ok := intKey(m, fkKind)
	if !ok {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	}
	kind := Kind(kindVal)
	id, _ := uintKey(m, fkID)

	switch kind {
	case KindCompileRequest:
		req := &CompileRequest{ID: id}
		if err := decodeCompileRequestInput(m, req); err != nil {
			return nil, err
		}
		if optsRaw, ok := m[3]; ok {
			opts, err := decodeCompileOptions(optsRaw)
			if err != nil {
				return nil, err
			}
			req.Options = opts
		}
		return req, nil

	case KindCompileResponse:
		resp := &CompileResponse{ID: id}
		if successRaw, ok := m[2]; ok {
			sm, err := toIntMap(successRaw)
			if err != nil {
				return nil, err
			}
			css, _ := sm[0].(string)
			var urls []string
			if raw, ok := sm[1]; ok {
				urls = toStringSlice(raw)
			}
			sourceMap, _ := sm[2].(string)
			resp.Success = &CompileSuccess{CSS: css, LoadedURLs: urls, SourceMap: sourceMap}
		}
		if failureRaw, ok := m[3]; ok {
			failure, err := decodeCompileFailure(failureRaw)
			if err != nil {
				return nil, err
			}
			resp.Failure = failure
		}
		if !resp.HasResult() {
			return nil, fmt.Errorf("%w: CompileResponse missing result", ErrMalformedMessage)
		}
		return resp, nil

	case KindImportRequest:
		importerID, _ := uintKey(m, 2)
		url, _ := m[3].(string)
		return &ImportRequest{ID: id, ImporterID: uint32(importerID), URL: url}, nil

	case KindImportResponse:
		resp := &ImportResponse{ID: id}
		if _, ok := m[2]; ok {
			resp.None = true
		} else if errStr, ok := m[3].(string); ok {
			resp.Error = errStr
		} else if entryRaw, ok := m[4]; ok {
			em, err := toIntMap(entryRaw)
			if err != nil {
				return nil, err
			}
			contents, _ := em[0].(string)
			resp.Contents = &contents
			syntax, _ := em[1].(string)
			resp.Syntax = Syntax(syntax)
			if smu, ok := em[2].(string); ok {
				resp.SourceMapURL = smu
			}
		}
		return resp, nil

	case KindFileImportRequest:
		importerID, _ := uintKey(m, 2)
		url, _ := m[3].(string)
		fromImport, _ := m[4].(bool)
		containing, _ := m[5].(string)
		return &FileImportRequest{ID: id, ImporterID: uint32(importerID), URL: url, FromImport: fromImport, ContainingURL: containing}, nil

	case KindFileImportResponse:
		resp := &FileImportResponse{ID: id}
		if _, ok := m[2]; ok {
			resp.None = true
		} else if errStr, ok := m[3].(string); ok {
			resp.Error = errStr
		} else if url, ok := m[4].(string); ok {
			resp.FileURL = url
		}
		return resp, nil

	case KindCanonicalizeRequest:
		importerID, _ := uintKey(m, 2)
		url, _ := m[3].(string)
		fromImport, _ := m[4].(bool)
		containing, _ := m[5].(string)
		return &CanonicalizeRequest{ID: id, ImporterID: uint32(importerID), URL: url, FromImport: fromImport, ContainingURL: containing}, nil

	case KindCanonicalizeResponse:
		resp := &CanonicalizeResponse{ID: id}
		if _, ok := m[2]; ok {
			resp.None = true
		} else if errStr, ok := m[3].(string); ok {
			resp.Error = errStr
		} else if url, ok := m[4].(string); ok {
			resp.URL = url
		}
		resp.ContainingURLAccessed, _ = m[6].(bool)
		return resp, nil

	case KindFunctionCallRequest:
		req := &FunctionCallRequest{ID: id}
		if fid, ok := uintKey(m, 2); ok {
			req.FunctionID = &fid
		}
		if name, ok := m[3].(string); ok {
			req.Name = name
		}
		if !req.HasIdentifier() {
			return nil, fmt.Errorf("%w: FunctionCallRequest missing identifier", ErrMalformedMessage)
		}
		if argsRaw, ok := m[4]; ok {
			argsSlice, ok := argsRaw.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: FunctionCallRequest.arguments not a list", ErrMalformedMessage)
			}
			args := make([]Value, len(argsSlice))
			for i, raw := range argsSlice {
				v, err := decodeValue(raw)
				if err != nil {
					return nil, err
				}
				args[i] = v
			}
			req.Arguments = args
		}
		return req, nil

	case KindFunctionCallResponse:
		resp := &FunctionCallResponse{ID: id}
		if errStr, ok := m[2].(string); ok {
			resp.Error = errStr
		} else if raw, ok := m[3]; ok {
			v, err := decodeValue(raw)
			if err != nil {
				return nil, err
			}
			resp.Result = v
		}
		resp.AccessedArgumentLists, _ = m[5].(bool)
		return resp, nil

	case KindLogEvent:
		ev := &LogEvent{}
		if t, ok := intKey(m, 2); ok {
			ev.Type = LogEventType(t)
		}
		ev.Message, _ = m[3].(string)
		ev.Formatted, _ = m[4].(string)
		if spanRaw, ok := m[5]; ok {
			span, err := decodeSpan(spanRaw)
			if err != nil {
				return nil, err
			}
			ev.Span = span
		}
		ev.StackTrace, _ = m[6].(string)
		if dt, ok := m[7].(string); ok {
			ev.DeprecationType = DeprecationID(dt)
		}
		return ev, nil

	case KindProtocolError:
		msgStr, _ := m[2].(string)
		return &ProtocolError{ID: id, Message: msgStr}, nil

	case KindVersionRequest:
		return &VersionRequest{ID: id}, nil

	case KindVersionResponse:
		resp := &VersionResponse{ID: id}
		resp.ProtocolVersion, _ = m[2].(string)
		resp.CompilerVersion, _ = m[3].(string)
		resp.ImplementationVersion, _ = m[4].(string)
		resp.ImplementationName, _ = m[5].(string)
		return resp, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, kindVal)
	}
}

func encodeCompileRequestInput(v *CompileRequest) map[int]interface{} {
	if v.Path != nil {
		return map[int]interface{}{0: v.Path.Path}
	}
	s := v.String
	entry := map[int]interface{}{
		1: s.Source,
		2: string(s.Syntax),
	}
	if s.URL != "" {
		entry[3] = s.URL
	}
	if s.Importer != nil {
		entry[4] = encodeImporterRef(*s.Importer)
	}
	return map[int]interface{}{5: entry}
}

func decodeCompileRequestInput(m map[int]interface{}, req *CompileRequest) error {
	inputRaw, ok := m[2]
	if !ok {
		return fmt.Errorf("%w: CompileRequest missing input", ErrMalformedMessage)
	}
	im, err := toIntMap(inputRaw)
	if err != nil {
		return err
	}
	if path, ok := im[0].(string); ok {
		req.Path = &PathInput{Path: path}
		return nil
	}
	entryRaw, ok := im[5]
	if !ok {
		return fmt.Errorf("%w: CompileRequest input has neither path nor string", ErrMalformedMessage)
	}
	em, err := toIntMap(entryRaw)
	if err != nil {
		return err
	}
	source, _ := em[1].(string)
	syntax, _ := em[2].(string)
	in := &StringInput{Source: source, Syntax: Syntax(syntax)}
	if url, ok := em[3].(string); ok {
		in.URL = url
	}
	if refRaw, ok := em[4]; ok {
		ref, err := decodeImporterRef(refRaw)
		if err != nil {
			return err
		}
		in.Importer = ref
	}
	req.String = in
	return nil
}

func encodeImporterRef(ref ImporterRef) map[int]interface{} {
	m := map[int]interface{}{}
	if ref.ImporterID != nil {
		m[0] = *ref.ImporterID
	}
	if len(ref.NonCanonicalSchemes) > 0 {
		m[1] = ref.NonCanonicalSchemes
	}
	return m
}

func decodeImporterRef(raw interface{}) (*ImporterRef, error) {
	m, err := toIntMap(raw)
	if err != nil {
		return nil, err
	}
	ref := &ImporterRef{}
	if id, ok := uintKey(m, 0); ok {
		id32 := uint32(id)
		ref.ImporterID = &id32
	}
	if schemes, ok := m[1]; ok {
		ref.NonCanonicalSchemes = toStringSlice(schemes)
	}
	return ref, nil
}

func encodeCompileOptions(o CompileOptions) map[int]interface{} {
	m := map[int]interface{}{}
	if len(o.Importers) > 0 {
		refs := make([]interface{}, len(o.Importers))
		for i, r := range o.Importers {
			refs[i] = encodeImporterRef(r)
		}
		m[0] = refs
	}
	if len(o.LoadPaths) > 0 {
		m[1] = o.LoadPaths
	}
	if len(o.GlobalFunctions) > 0 {
		m[2] = o.GlobalFunctions
	}
	m[3] = o.SourceMap
	m[4] = o.SourceMapIncludeSources
	m[5] = o.AlertColor
	m[6] = o.AlertAscii
	m[7] = o.QuietDeps
	m[8] = o.Verbose
	m[9] = o.Silent
	m[10] = o.Charset
	if o.Style != "" {
		m[11] = string(o.Style)
	}
	if len(o.FatalDeprecations) > 0 {
		m[12] = deprecationStrings(o.FatalDeprecations)
	}
	if len(o.SilenceDeprecations) > 0 {
		m[13] = deprecationStrings(o.SilenceDeprecations)
	}
	if len(o.FutureDeprecations) > 0 {
		m[14] = deprecationStrings(o.FutureDeprecations)
	}
	return m
}

func decodeCompileOptions(raw interface{}) (CompileOptions, error) {
	m, err := toIntMap(raw)
	if err != nil {
		return CompileOptions{}, err
	}
	var o CompileOptions
	if refsRaw, ok := m[0]; ok {
		refsSlice, _ := refsRaw.([]interface{})
		for _, r := range refsSlice {
			ref, err := decodeImporterRef(r)
			if err != nil {
				return o, err
			}
			o.Importers = append(o.Importers, *ref)
		}
	}
	if lp, ok := m[1]; ok {
		o.LoadPaths = toStringSlice(lp)
	}
	if gf, ok := m[2]; ok {
		o.GlobalFunctions = toStringSlice(gf)
	}
	o.SourceMap, _ = m[3].(bool)
	o.SourceMapIncludeSources, _ = m[4].(bool)
	o.AlertColor, _ = m[5].(bool)
	o.AlertAscii, _ = m[6].(bool)
	o.QuietDeps, _ = m[7].(bool)
	o.Verbose, _ = m[8].(bool)
	o.Silent, _ = m[9].(bool)
	o.Charset, _ = m[10].(bool)
	if style, ok := m[11].(string); ok {
		o.Style = OutputStyle(style)
	}
	if fd, ok := m[12]; ok {
		o.FatalDeprecations = toDeprecationSlice(fd)
	}
	if sd, ok := m[13]; ok {
		o.SilenceDeprecations = toDeprecationSlice(sd)
	}
	if futd, ok := m[14]; ok {
		o.FutureDeprecations = toDeprecationSlice(futd)
	}
	return o, nil
}

func deprecationStrings(ids []DeprecationID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toDeprecationSlice(raw interface{}) []DeprecationID {
	strs := toStringSlice(raw)
	out := make([]DeprecationID, len(strs))
	for i, s := range strs {
		out[i] = DeprecationID(s)
	}
	return out
}

func encodeCompileFailure(f *CompileFailure) map[int]interface{} {
	m := map[int]interface{}{
		0: f.Message,
		1: f.Formatted,
		2: f.SassMessage,
		3: f.SassStack,
	}
	if f.Span != nil {
		m[4] = encodeSpan(f.Span)
	}
	return m
}

func decodeCompileFailure(raw interface{}) (*CompileFailure, error) {
	m, err := toIntMap(raw)
	if err != nil {
		return nil, err
	}
	f := &CompileFailure{}
	f.Message, _ = m[0].(string)
	f.Formatted, _ = m[1].(string)
	f.SassMessage, _ = m[2].(string)
	f.SassStack, _ = m[3].(string)
	if spanRaw, ok := m[4]; ok {
		span, err := decodeSpan(spanRaw)
		if err != nil {
			return nil, err
		}
		f.Span = span
	}
	return f, nil
}

func encodeSpan(s *Span) map[int]interface{} {
	m := map[int]interface{}{
		0: s.Text,
		1: encodeLocation(s.Start),
		2: encodeLocation(s.End),
	}
	if s.URL != "" {
		m[3] = s.URL
	}
	if s.Context != "" {
		m[4] = s.Context
	}
	return m
}

func decodeSpan(raw interface{}) (*Span, error) {
	m, err := toIntMap(raw)
	if err != nil {
		return nil, err
	}
	span := &Span{}
	span.Text, _ = m[0].(string)
	if startRaw, ok := m[1]; ok {
		loc, err := decodeLocation(startRaw)
		if err != nil {
			return nil, err
		}
		span.Start = loc
	}
	if endRaw, ok := m[2]; ok {
		loc, err := decodeLocation(endRaw)
		if err != nil {
			return nil, err
		}
		span.End = loc
	}
	span.URL, _ = m[3].(string)
	span.Context, _ = m[4].(string)
	return span, nil
}

func encodeLocation(l Location) map[int]interface{} {
	return map[int]interface{}{0: uint64(l.Offset), 1: uint64(l.Line), 2: uint64(l.Column)}
}

func decodeLocation(raw interface{}) (Location, error) {
	m, err := toIntMap(raw)
	if err != nil {
		return Location{}, err
	}
	offset, _ := uintKey(m, 0)
	line, _ := uintKey(m, 1)
	column, _ := uintKey(m, 2)
	return Location{Offset: int(offset), Line: int(line), Column: int(column)}, nil
}

// --- helpers for the loosely-typed CBOR decode shape ---

func toIntMap(raw interface{}) (map[int]interface{}, error) {
	switch v := raw.(type) {
	case map[int]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[int]interface{}, len(v))
		for k, val := range v {
			ik, err := toInt(k)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
			}
			out[ik] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected map, got %T", ErrMalformedMessage, raw)
	}
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("not an int: %T", v)
	}
}

func intKey(m map[int]interface{}, key int) (int, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func uintKey(m map[int]interface{}, key int) (uint64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case float64:
		return uint64(n), true
	default:
		return 0, false
	}
}

func toStringSlice(raw interface{}) []string {
	slice, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
