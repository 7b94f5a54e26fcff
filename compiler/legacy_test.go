package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

func TestLegacyImporter_CanonicalizeRoundTrip(t *testing.T) {
	li := &LegacyImporter{
		Load: func(url, prev string) (*LegacyImportResult, error) {
			contents := "a { b: c; }"
			return &LegacyImportResult{Contents: &contents}, nil
		},
	}

	canonical, err := li.Canonicalize("foo", CanonicalizeContext{})
	require.NoError(t, err)

	su, err := ParseSourceURL(canonical)
	require.NoError(t, err)
	assert.True(t, su.IsLegacyImporter())

	url, stack, ok := decodeLegacyURL(su)
	require.True(t, ok)
	assert.Equal(t, "foo", url)
	assert.Empty(t, stack)
}

func TestLegacyImporter_StackAccumulatesAcrossLoads(t *testing.T) {
	li := &LegacyImporter{
		Load: func(url, prev string) (*LegacyImportResult, error) {
			contents := ""
			return &LegacyImportResult{Contents: &contents}, nil
		},
	}

	first, err := li.Canonicalize("a", CanonicalizeContext{})
	require.NoError(t, err)

	su, err := ParseSourceURL(first)
	require.NoError(t, err)
	ctx := CanonicalizeContext{containingURL: su.String()}

	second, err := li.Canonicalize("b", ctx)
	require.NoError(t, err)

	su2, err := ParseSourceURL(second)
	require.NoError(t, err)
	url, stack, ok := decodeLegacyURL(su2)
	require.True(t, ok)
	assert.Equal(t, "b", url)
	assert.Equal(t, []string{"a"}, stack)
}

func TestLegacyImporter_FileResultUsesFileScheme(t *testing.T) {
	li := &LegacyImporter{
		Load: func(url, prev string) (*LegacyImportResult, error) {
			return &LegacyImportResult{File: "/tmp/x.scss"}, nil
		},
	}
	canonical, err := li.Canonicalize("foo", CanonicalizeContext{})
	require.NoError(t, err)
	su, err := ParseSourceURL(canonical)
	require.NoError(t, err)
	assert.Equal(t, schemeLegacyImporterFile, su.Scheme)
}

func TestLegacyImporter_NilResultPassesThrough(t *testing.T) {
	li := &LegacyImporter{
		Load: func(url, prev string) (*LegacyImportResult, error) {
			return nil, nil
		},
	}
	canonical, err := li.Canonicalize("foo", CanonicalizeContext{})
	require.NoError(t, err)
	assert.Empty(t, canonical)
}

func TestLegacyImporter_LoadContents_RejectsNonLegacyURL(t *testing.T) {
	li := &LegacyImporter{Load: func(url, prev string) (*LegacyImportResult, error) { return nil, nil }}
	_, err := li.LoadContents("file:///x.scss")
	assert.Error(t, err)
}

func TestLegacyImporter_AsImporter_ContentsRoundTrip(t *testing.T) {
	li := &LegacyImporter{
		Load: func(url, prev string) (*LegacyImportResult, error) {
			contents := "a { b: c; }"
			return &LegacyImportResult{Contents: &contents}, nil
		},
	}
	imp := li.AsImporter()

	canonical, err := imp.Canonicalize("foo", CanonicalizeContext{})
	require.NoError(t, err)

	result, err := imp.Load(canonical)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "a { b: c; }", result.Contents)
	assert.Equal(t, wire.SyntaxSCSS, result.Syntax)
}

func TestLegacyImporter_AsImporter_FileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.sass")
	require.NoError(t, os.WriteFile(path, []byte("a\n  b: c"), 0o644))

	li := &LegacyImporter{
		Load: func(url, prev string) (*LegacyImportResult, error) {
			return &LegacyImportResult{File: path}, nil
		},
	}
	imp := li.AsImporter()

	canonical, err := imp.Canonicalize("foo", CanonicalizeContext{})
	require.NoError(t, err)

	result, err := imp.Load(canonical)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "a\n  b: c", result.Contents)
	assert.Equal(t, wire.SyntaxIndented, result.Syntax)
}

func TestLegacyImporter_AsImporter_NeitherFileNorContentsIsError(t *testing.T) {
	li := &LegacyImporter{
		Load: func(url, prev string) (*LegacyImportResult, error) {
			return &LegacyImportResult{}, nil
		},
	}
	imp := li.AsImporter()

	canonical, err := imp.Canonicalize("foo", CanonicalizeContext{})
	require.NoError(t, err)

	_, err = imp.Load(canonical)
	assert.Error(t, err)
}

func TestSyntaxForLegacyFile(t *testing.T) {
	assert.Equal(t, wire.SyntaxIndented, syntaxForLegacyFile("x.sass"))
	assert.Equal(t, wire.SyntaxCSS, syntaxForLegacyFile("x.css"))
	assert.Equal(t, wire.SyntaxSCSS, syntaxForLegacyFile("x.scss"))
}
