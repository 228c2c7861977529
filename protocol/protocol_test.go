package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{CodecType: CodecTypeBinary, MsgType: MsgTypeData}
	body := []byte(`{"id":1,"call":"GetMapCenter"}`)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	got, gotBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, header.CodecType, got.CodecType)
	assert.Equal(t, header.MsgType, got.MsgType)
	assert.Equal(t, uint32(len(body)), got.BodyLen)
	assert.Equal(t, body, gotBody)
}

func TestHeartbeatHasNoBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil))
	got, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeHeartbeat, got.MsgType)
	assert.Empty(t, body)
}

func TestFramesStayInOrder(t *testing.T) {
	var buf bytes.Buffer
	for _, b := range []string{"first", "second", "third"} {
		require.NoError(t, Encode(&buf, &Header{}, []byte(b)))
	}
	for _, want := range []string{"first", "second", "third"} {
		_, body, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(body))
	}
	_, _, err := Decode(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeInvalidMagic(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeData), 0x00, 0x00, 0x00, 0x02, 'h', 'i'}
	_, _, err := Decode(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecodeInvalidVersion(t *testing.T) {
	raw := []byte{MagicNumber, MagicByte2, MagicByte3, 0x09, CodecTypeJSON, byte(MsgTypeData), 0x00, 0x00, 0x00, 0x00}
	_, _, err := Decode(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	raw := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypeData), 0xff, 0xff, 0xff, 0xff}
	_, _, err := Decode(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{}, []byte("hello world")))
	truncated := buf.Bytes()[:buf.Len()-4]
	_, _, err := Decode(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
