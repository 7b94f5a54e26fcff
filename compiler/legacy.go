package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

// legacyStackSep joins the stack of previous URLs encoded into a
// legacy-importer: URL's body. It must never appear in a real URL
// component, so it is chosen from outside the URL-safe character set.
const legacyStackSep = "\x00"

// LegacyImportResult is what a legacy-style importer callback returns:
// either a resolved file on disk, literal contents, or neither (meaning
// "pass to the next importer").
type LegacyImportResult struct {
	File     string
	Contents *string
}

// LegacyLoad is the old-style importer signature: given the URL being
// loaded and the URL that loaded it, resolve a file or produce contents.
type LegacyLoad func(url, prev string) (*LegacyImportResult, error)

// LegacyImporter adapts a LegacyLoad callback to the modern Canonical
// importer shape (spec.md §9 "Legacy-importer façade"). It is a
// deliberate compatibility quirk: bookkeeping that a modern importer
// would carry in Go values instead gets mangled into the canonical URL
// itself, using the two reserved schemes legacy-importer: and
// legacy-importer-file:, so that a later canonicalize/load round trip can
// recover the caller's "previous URL" stack purely from the URL string.
type LegacyImporter struct {
	Load LegacyLoad
}

// encodeLegacyURL packs url onto the front of the previous-URL stack and
// encodes the whole thing as a legacy-importer: (or legacy-importer-file:
// for a file result) URL body.
func encodeLegacyURL(scheme, url string, stack []string) string {
	parts := append([]string{url}, stack...)
	return scheme + ":" + strings.Join(parts, legacyStackSep)
}

// decodeLegacyURL splits a legacy-importer:/legacy-importer-file: URL
// back into the URL being resolved and the previous-URL stack beneath it.
func decodeLegacyURL(u SourceURL) (url string, stack []string, ok bool) {
	if !u.IsLegacyImporter() {
		return "", nil, false
	}
	parts := strings.Split(u.Body, legacyStackSep)
	if len(parts) == 0 {
		return "", nil, false
	}
	return parts[0], parts[1:], true
}

// Canonicalize implements the Canonical importer variant. The containing
// URL, if it is itself a legacy-importer URL, supplies the "prev" stack
// so the underlying LegacyLoad sees the same (url, prev) pair an
// old-style importer API expects.
func (l *LegacyImporter) Canonicalize(url string, ctx CanonicalizeContext) (string, error) {
	prev := ""
	var stack []string
	if containing := ctx.ContainingURL(); containing != "" {
		if cu, err := ParseSourceURL(containing); err == nil {
			if p, s, ok := decodeLegacyURL(cu); ok {
				prev = p
				stack = s
			}
		}
	}

	result, err := l.Load(url, prev)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	var newStack []string
	if prev != "" {
		newStack = append([]string{prev}, stack...)
	}
	if result.File != "" {
		return encodeLegacyURL(schemeLegacyImporterFile, result.File, newStack), nil
	}
	return encodeLegacyURL(schemeLegacyImporter, url, newStack), nil
}

// LoadContents re-runs the legacy callback to retrieve contents for a
// legacy-importer: URL. It does not handle the legacy-importer-file:
// case; that is handled one layer up, in AsImporter's load, which reads
// the resolved file directly instead of re-invoking the callback.
func (l *LegacyImporter) LoadContents(canonicalURL string) (*LegacyImportResult, error) {
	su, err := ParseSourceURL(canonicalURL)
	if err != nil {
		return nil, err
	}
	url, stack, ok := decodeLegacyURL(su)
	if !ok {
		return nil, fmt.Errorf("compiler: %q is not a legacy-importer URL", canonicalURL)
	}
	prev := ""
	if len(stack) > 0 {
		prev = stack[0]
	}
	return l.Load(url, prev)
}

// AsImporter adapts l into the Canonical importer shape a compile
// actually registers (spec.md §9 "Legacy-importer façade").
func (l *LegacyImporter) AsImporter() *Importer {
	return &Importer{Canonicalize: l.Canonicalize, Load: l.load}
}

// load is the Canonical importer's load half. A legacy-importer-file:
// URL means Canonicalize already resolved the request to a real file on
// disk, so the file is read directly here; any other legacy-importer:
// URL re-runs the legacy callback via LoadContents to recover the
// in-memory contents it produced.
func (l *LegacyImporter) load(canonicalURL string) (*LoadResult, error) {
	su, err := ParseSourceURL(canonicalURL)
	if err != nil {
		return nil, err
	}
	if su.Scheme == schemeLegacyImporterFile {
		path, _, ok := decodeLegacyURL(su)
		if !ok {
			return nil, fmt.Errorf("compiler: %q is not a legacy-importer URL", canonicalURL)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &LoadResult{Contents: string(data), Syntax: syntaxForLegacyFile(path)}, nil
	}

	result, err := l.LoadContents(canonicalURL)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if result.Contents == nil {
		return nil, fmt.Errorf("compiler: legacy importer returned neither file nor contents")
	}
	return &LoadResult{Contents: *result.Contents, Syntax: wire.SyntaxSCSS}, nil
}

// syntaxForLegacyFile guesses a loaded file's syntax from its extension,
// since the legacy callback shape has no way to report it directly.
func syntaxForLegacyFile(path string) wire.Syntax {
	switch filepath.Ext(path) {
	case ".sass":
		return wire.SyntaxIndented
	case ".css":
		return wire.SyntaxCSS
	default:
		return wire.SyntaxSCSS
	}
}
