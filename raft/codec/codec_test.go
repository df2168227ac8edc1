package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	type payload struct {
		A int
		B string
	}
	Register(payload{})

	want := payload{A: 7, B: "hello"}
	blob, err := EncodeValue(want)
	require.NoError(t, err)

	var got payload
	require.NoError(t, DecodeValue(blob, &got))
	require.Equal(t, want, got)
}

func TestWriteReadRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVersion(&buf))
	require.NoError(t, WriteRecord(&buf, 1, 2, []byte("abc")))
	require.NoError(t, WriteRecord(&buf, 2, 2, nil))

	require.NoError(t, ReadVersion(&buf))

	index, term, blob, err := ReadRecord(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)
	require.Equal(t, uint64(2), term)
	require.Equal(t, []byte("abc"), blob)

	index, term, blob, err = ReadRecord(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
	require.Equal(t, uint64(2), term)
	require.Nil(t, blob)

	_, _, _, err = ReadRecord(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadVersionRejectsUnknown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, 99, 0, nil)) // first 8 bytes decode as version 99, not Version
	err := ReadVersion(&buf)
	require.Error(t, err)
}

func TestWriteRecordRejectsOversizeBlob(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, 1<<16)
	err := WriteRecord(&buf, 1, 1, big)
	require.Error(t, err)
}
