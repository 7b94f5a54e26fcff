package compiler

import (
	"fmt"
	"sync/atomic"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

// CanonicalizeContext is passed to a Canonical importer's Canonicalize
// callback. ContainingURL is only materialized from its string form on
// first access, and the registry reports that bit back to the compiler
// (spec.md §3 CanonicalizeContext).
type CanonicalizeContext struct {
	containingURL string
	fromImport    bool
	accessed      *atomic.Bool
}

// ContainingURL returns the URL of the stylesheet that triggered this
// load, marking the "containing URL accessed" bit.
func (c CanonicalizeContext) ContainingURL() string {
	if c.accessed != nil {
		c.accessed.Store(true)
	}
	return c.containingURL
}

// FromImport reports whether this load originated from an @import rather
// than @use/@forward.
func (c CanonicalizeContext) FromImport() bool { return c.fromImport }

// LoadResult is what a Canonical importer's Load callback returns.
type LoadResult struct {
	Contents     string
	Syntax       wire.Syntax
	SourceMapURL string
}

// Importer is the tagged union spec.md §3 describes: a Canonical
// importer (canonicalize+load), a File importer (findFileUrl), or a
// Package importer (entryPointDirectory). Exactly one of Canonicalize
// or FindFileURL may be set; setting both is an InvalidOptionError.
type Importer struct {
	// Canonicalize resolves a URL to a canonical form, or returns ("",
	// nil) to mean "no match, try the next importer."
	Canonicalize func(url string, ctx CanonicalizeContext) (string, error)
	// Load returns the contents for a URL Canonicalize already resolved.
	Load func(canonicalURL string) (*LoadResult, error)
	// FindFileURL resolves url to a file: URL on disk, or ("", nil) to
	// mean "no match, try the next importer." Mutually exclusive with
	// Canonicalize/Load.
	FindFileURL func(url string, ctx CanonicalizeContext) (string, error)
	// EntryPointDirectory marks this a Package importer; it is resolved
	// entirely inside the compiler child and the host never receives a
	// callback for it.
	EntryPointDirectory string
	// NonCanonicalSchemes lists schemes this importer claims that should
	// never be treated as already-canonical on their own.
	NonCanonicalSchemes []string
}

// reservedSchemes are the schemes the host itself gives meaning to; an
// importer cannot also claim one of them as "non-canonical" (spec.md §3
// Importer, §9 legacy-importer façade).
var reservedSchemes = []string{schemeFile, schemeLegacyImporter, schemeLegacyImporterFile}

// Validate enforces spec.md §3's "an importer may not mix canonicalize
// and findFileUrl."
func (i *Importer) Validate() error {
	hasCanonical := i.Canonicalize != nil || i.Load != nil
	hasFile := i.FindFileURL != nil
	hasPackage := i.EntryPointDirectory != ""

	count := 0
	for _, b := range []bool{hasCanonical, hasFile, hasPackage} {
		if b {
			count++
		}
	}
	if count == 0 {
		return &InvalidOptionError{Field: "importer", Reason: "must be one of canonical, file, or package"}
	}
	if count > 1 {
		return &InvalidOptionError{Field: "importer", Reason: "canonicalize/findFileUrl/entryPointDirectory are mutually exclusive"}
	}
	if hasCanonical && (i.Canonicalize == nil || i.Load == nil) {
		return &InvalidOptionError{Field: "importer", Reason: "a canonical importer needs both canonicalize and load"}
	}
	for _, s := range i.NonCanonicalSchemes {
		if nonCanonical(s, reservedSchemes) {
			return &InvalidOptionError{Field: "importer", Reason: fmt.Sprintf("%q is a reserved scheme and cannot be claimed as non-canonical", s)}
		}
	}
	return nil
}

// registeredImporter is an Importer bound to its stable per-compilation id.
type registeredImporter struct {
	id       uint32
	importer *Importer
}

// ImporterRegistry is the per-compilation table of user-provided
// importers, numbered 0,1,2,... in registration order (spec.md §4.5).
// Grounded on bifaci.Host's capTable/findPluginForCapLocked pattern of a
// numbered lookup table guarded against unknown ids, generalized from
// capability URNs to importer ids and, for Canonical/File importers,
// from a catalog match to a direct id-indexed call.
type ImporterRegistry struct {
	entries []registeredImporter
}

// NewImporterRegistry builds a registry from the importers list and
// load-paths option, appending load paths as synthetic File importers
// exactly as spec.md §4.5 describes ("appended as synthetic
// path-importers").
func NewImporterRegistry(importers []*Importer, loadPaths []string) (*ImporterRegistry, error) {
	r := &ImporterRegistry{}
	for _, imp := range importers {
		if err := imp.Validate(); err != nil {
			return nil, err
		}
		r.entries = append(r.entries, registeredImporter{id: uint32(len(r.entries)), importer: imp})
	}
	for _, path := range loadPaths {
		p := path
		loadPathImporter := &Importer{
			FindFileURL: func(url string, ctx CanonicalizeContext) (string, error) {
				return resolveLoadPath(p, url)
			},
		}
		r.entries = append(r.entries, registeredImporter{id: uint32(len(r.entries)), importer: loadPathImporter})
	}
	return r, nil
}

// resolveLoadPath is the filesystem-root handling for a loadPaths entry.
// It is intentionally narrow: the actual file-existence probing and
// partial/extension resolution rules belong to the compiler child for
// every other importer; a load-path importer only needs to hand back a
// candidate file: URL built from joining root and url, spec.md §4.5's
// "canonical handling is performed inside the child."
func resolveLoadPath(root, url string) (string, error) {
	return "file://" + root + "/" + url, nil
}

// WireImporterRefs converts the registry to the ImporterRef list carried
// on a CompileRequest.
func (r *ImporterRegistry) WireImporterRefs() []wire.ImporterRef {
	refs := make([]wire.ImporterRef, len(r.entries))
	for i, e := range r.entries {
		id := e.id
		refs[i] = wire.ImporterRef{ImporterID: &id, NonCanonicalSchemes: e.importer.NonCanonicalSchemes}
	}
	return refs
}

func (r *ImporterRegistry) lookup(id uint32) (*Importer, error) {
	for _, e := range r.entries {
		if e.id == id {
			return e.importer, nil
		}
	}
	return nil, fmt.Errorf("compiler: unknown importer id %d", id)
}

// HandleCanonicalize answers an inbound CanonicalizeRequest.
func (r *ImporterRegistry) HandleCanonicalize(req *wire.CanonicalizeRequest) *wire.CanonicalizeResponse {
	resp := &wire.CanonicalizeResponse{ID: req.ID}
	imp, err := r.lookup(req.ImporterID)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	var accessed atomic.Bool
	ctx := CanonicalizeContext{containingURL: req.ContainingURL, fromImport: req.FromImport, accessed: &accessed}

	var url string
	err = invokeCallback(func() error {
		var callErr error
		switch {
		case imp.Canonicalize != nil:
			url, callErr = imp.Canonicalize(req.URL, ctx)
		case imp.FindFileURL != nil:
			url, callErr = imp.FindFileURL(req.URL, ctx)
		default:
			callErr = fmt.Errorf("compiler: package importer cannot canonicalize directly")
		}
		return callErr
	})

	resp.ContainingURLAccessed = accessed.Load()
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if url == "" {
		resp.None = true
		return resp
	}
	resp.URL = url
	return resp
}

// HandleImport answers an inbound ImportRequest (spec.md §4.5 "Import
// (load) handler").
func (r *ImporterRegistry) HandleImport(req *wire.ImportRequest) *wire.ImportResponse {
	resp := &wire.ImportResponse{ID: req.ID}
	imp, err := r.lookup(req.ImporterID)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if imp.Load == nil {
		resp.Error = fmt.Sprintf("compiler: importer %d has no load handler", req.ImporterID)
		return resp
	}
	var result *LoadResult
	err = invokeCallback(func() error {
		var callErr error
		result, callErr = imp.Load(req.URL)
		return callErr
	})
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if result == nil {
		resp.None = true
		return resp
	}
	if result.SourceMapURL != "" {
		if _, perr := ParseSourceURL(result.SourceMapURL); perr != nil {
			resp.Error = fmt.Sprintf("compiler: sourceMapUrl must be absolute, got %q", result.SourceMapURL)
			return resp
		}
	}
	contents := result.Contents
	resp.Contents = &contents
	resp.Syntax = result.Syntax
	resp.SourceMapURL = result.SourceMapURL
	return resp
}

// HandleFileImport answers an inbound FileImportRequest (spec.md §4.5
// "File-import handler").
func (r *ImporterRegistry) HandleFileImport(req *wire.FileImportRequest) *wire.FileImportResponse {
	resp := &wire.FileImportResponse{ID: req.ID}
	imp, err := r.lookup(req.ImporterID)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if imp.FindFileURL == nil {
		resp.Error = fmt.Sprintf("compiler: importer %d has no findFileUrl handler", req.ImporterID)
		return resp
	}

	var accessed atomic.Bool
	ctx := CanonicalizeContext{containingURL: req.ContainingURL, fromImport: req.FromImport, accessed: &accessed}

	var fileURL string
	err = invokeCallback(func() error {
		var callErr error
		fileURL, callErr = imp.FindFileURL(req.URL, ctx)
		return callErr
	})
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if fileURL == "" {
		resp.None = true
		return resp
	}
	if su, parseErr := ParseSourceURL(fileURL); parseErr != nil || !su.IsFile() {
		resp.Error = fmt.Sprintf("compiler: findFileUrl must return a file: URL, got %q", fileURL)
		return resp
	}
	resp.FileURL = fileURL
	return resp
}
