package framer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_EmptyPayload(t *testing.T) {
	f := New()
	header := make([]byte, HeaderLen) // length 0
	out, err := f.Feed(header)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0], 0)
}

func TestFramer_ChunkSplitAcrossBoundary(t *testing.T) {
	// 300-byte payload of 0x01 bytes, framed to 304 bytes and fed as three
	// chunks of 172, 2 and 130 bytes, so both chunk boundaries fall inside
	// the payload.
	payload := bytes.Repeat([]byte{1}, 300)
	framed, err := Frame(payload)
	require.NoError(t, err)
	require.Len(t, framed, 304)

	chunks := [][]byte{
		framed[:172],
		framed[172:174],
		framed[174:],
	}

	f := New()
	var got [][]byte
	for _, c := range chunks {
		out, err := f.Feed(c)
		require.NoError(t, err)
		got = append(got, out...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestFramer_MultipleFramesInOneChunk(t *testing.T) {
	a, err := Frame([]byte("hello"))
	require.NoError(t, err)
	b, err := Frame([]byte("world!"))
	require.NoError(t, err)

	f := New()
	out, err := f.Feed(append(a, b...))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []byte("hello"), out[0])
	assert.Equal(t, []byte("world!"), out[1])
}

func TestFramer_ByteAtATime(t *testing.T) {
	payload := []byte("the quick brown fox")
	framed, err := Frame(payload)
	require.NoError(t, err)

	f := New()
	var got [][]byte
	for i := range framed {
		out, err := f.Feed(framed[i : i+1])
		require.NoError(t, err)
		got = append(got, out...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestFrame_RejectsOversizedPayload(t *testing.T) {
	_, err := Frame(make([]byte, MaxPayloadLen+1))
	require.Error(t, err)
}

func TestFramer_RoundTripVariousLengths(t *testing.T) {
	lengths := []int{0, 1, 2, 3, 4, 5, 255, 256, 65535, 65536, 1 << 20}
	for _, n := range lengths {
		payload := bytes.Repeat([]byte{0xAB}, n)
		framed, err := Frame(payload)
		require.NoError(t, err)

		f := New()
		out, err := f.Feed(framed)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, payload, out[0], "length %d", n)
	}
}
