package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceURL(t *testing.T) {
	u, err := ParseSourceURL("file:///a/b.scss")
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)
	assert.Equal(t, "///a/b.scss", u.Body)
	assert.True(t, u.IsFile())
	assert.Equal(t, "file:///a/b.scss", u.String())
}

func TestParseSourceURL_RejectsRelative(t *testing.T) {
	_, err := ParseSourceURL("not-a-url")
	assert.Error(t, err)
}

func TestSourceURL_IsLegacyImporter(t *testing.T) {
	u, err := ParseSourceURL("legacy-importer:foo")
	require.NoError(t, err)
	assert.True(t, u.IsLegacyImporter())

	u2, err := ParseSourceURL("legacy-importer-file:foo")
	require.NoError(t, err)
	assert.True(t, u2.IsLegacyImporter())

	u3, err := ParseSourceURL("custom:foo")
	require.NoError(t, err)
	assert.False(t, u3.IsLegacyImporter())
}

func TestNonCanonical(t *testing.T) {
	assert.True(t, nonCanonical("foo", []string{"foo", "bar"}))
	assert.False(t, nonCanonical("baz", []string{"foo", "bar"}))
}
