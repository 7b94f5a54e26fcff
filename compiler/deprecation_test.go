package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

func TestDeprecationPolicy_FatalTakesPrecedenceOverSilence(t *testing.T) {
	p := NewDeprecationPolicy(&Options{
		FatalDeprecations:   []wire.DeprecationID{"slash-div"},
		SilenceDeprecations: []wire.DeprecationID{"slash-div"},
	})
	fatal, silenced := p.Classify("slash-div")
	assert.True(t, fatal)
	assert.False(t, silenced)
}

func TestDeprecationPolicy_SilencedWithoutFatal(t *testing.T) {
	p := NewDeprecationPolicy(&Options{SilenceDeprecations: []wire.DeprecationID{"import"}})
	fatal, silenced := p.Classify("import")
	assert.False(t, fatal)
	assert.True(t, silenced)
}

func TestDeprecationPolicy_UnknownIDIsOrdinary(t *testing.T) {
	p := NewDeprecationPolicy(&Options{})
	fatal, silenced := p.Classify("unlisted")
	assert.False(t, fatal)
	assert.False(t, silenced)
}

func TestDeprecationPolicy_NilOptionsIsPermissive(t *testing.T) {
	p := NewDeprecationPolicy(nil)
	fatal, silenced := p.Classify("anything")
	assert.False(t, fatal)
	assert.False(t, silenced)
}
