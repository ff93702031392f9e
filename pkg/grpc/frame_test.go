package grpc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/polyd/pkg/protocol"
)

func TestFrame_EncodeLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&Frame{Payload: []byte("abc")}).Encode(&buf))
	assert.Equal(t, []byte{0, 0, 0, 0, 3, 'a', 'b', 'c'}, buf.Bytes())
}

func TestFrame_DecodeNeedsWholeFrame(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, (&Frame{Payload: []byte("hello")}).Encode(&wire))
	full := wire.Bytes()

	for n := 0; n < len(full); n++ {
		in := bytes.NewBuffer(append([]byte(nil), full[:n]...))
		var f Frame
		ok, err := f.Decode(in)
		require.NoError(t, err)
		assert.False(t, ok, "prefix of %d bytes", n)
		assert.Equal(t, n, in.Len(), "input untouched")
	}
}

func TestFrame_DecodeConsumesOneFrame(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, (&Frame{Payload: []byte("one")}).Encode(&wire))
	require.NoError(t, (&Frame{Payload: []byte("two"), Compressed: true}).Encode(&wire))

	var f Frame
	ok, err := f.Decode(&wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(f.Payload))
	assert.False(t, f.Compressed)

	ok, err = f.Decode(&wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(f.Payload))
	assert.True(t, f.Compressed)
	assert.Equal(t, 0, wire.Len())
}

func TestFrame_DecodeErrors(t *testing.T) {
	var f Frame
	_, err := f.Decode(bytes.NewBuffer([]byte{2, 0, 0, 0, 0}))
	assert.Equal(t, protocol.KindMalformedFrame, protocol.KindOf(err))

	f = Frame{Limit: 4}
	_, err = f.Decode(bytes.NewBuffer([]byte{0, 0, 0, 0, 5}))
	assert.Equal(t, protocol.KindPayloadTooLarge, protocol.KindOf(err))
}

func TestParseTimeout(t *testing.T) {
	d, err := parseTimeout("100m")
	require.NoError(t, err)
	assert.Equal(t, "100ms", d.String())

	d, err = parseTimeout("2S")
	require.NoError(t, err)
	assert.Equal(t, "2s", d.String())

	for _, bad := range []string{"", "1", "10x", "m", "1234567890S"} {
		_, err := parseTimeout(bad)
		assert.Error(t, err, bad)
	}
}

func TestEncodeMessage(t *testing.T) {
	assert.Equal(t, "plain text", encodeMessage("plain text"))
	assert.Equal(t, "100%25 bad%0Aline", encodeMessage("100% bad\nline"))
}
