package network

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

func TestWriteReadDataChunkRoundTripsTextPayload(t *testing.T) {
	chunk := types.NewDataChunk("node-1", "captioner")
	chunk.Add("caption", []byte("a red car"), types.ContentText)

	var buf bytes.Buffer
	require.NoError(t, WriteDataChunk(&buf, chunk))

	got, err := ReadDataChunk(&buf)
	require.NoError(t, err)

	assert.Equal(t, chunk.OwnerID, got.OwnerID)
	assert.Equal(t, chunk.OwnerName, got.OwnerName)
	assert.Equal(t, chunk.Timestamp.UnixNano(), got.Timestamp.UnixNano())
	require.Contains(t, got.Payload, "caption")
	assert.Equal(t, chunk.Payload["caption"].Value, got.Payload["caption"].Value)
	assert.Equal(t, types.ContentText, got.Payload["caption"].ContentType)
}

func TestWriteReadDataChunkRoundTripsImagePayload(t *testing.T) {
	chunk := types.NewDataChunk("node-1", "camera")
	frame := bytes.Repeat([]byte{0xFF, 0x00, 0x10}, 1024)
	chunk.Add("frame", frame, types.ContentImage)

	var buf bytes.Buffer
	require.NoError(t, WriteDataChunk(&buf, chunk))

	got, err := ReadDataChunk(&buf)
	require.NoError(t, err)

	require.Contains(t, got.Payload, "frame")
	assert.Equal(t, frame, got.Payload["frame"].Value)
	assert.Equal(t, types.ContentImage, got.Payload["frame"].ContentType)
}

func TestWriteReadDataChunkRoundTripsMultipleEntries(t *testing.T) {
	chunk := types.NewDataChunk("node-1", "multi")
	chunk.Add("frame", []byte{1, 2, 3}, types.ContentImage)
	chunk.Add("caption", []byte("hello"), types.ContentText)
	chunk.Add("embedding", []byte{0, 0, 0, 0}, types.ContentTensor)

	var buf bytes.Buffer
	require.NoError(t, WriteDataChunk(&buf, chunk))

	got, err := ReadDataChunk(&buf)
	require.NoError(t, err)
	assert.Len(t, got.Payload, 3)
	for name, entry := range chunk.Payload {
		require.Contains(t, got.Payload, name)
		assert.Equal(t, entry.Value, got.Payload[name].Value)
		assert.Equal(t, entry.ContentType, got.Payload[name].ContentType)
	}
}

func TestReadDataChunkRejectsTruncatedStream(t *testing.T) {
	chunk := types.NewDataChunk("node-1", "cam")
	chunk.Add("frame", []byte{1, 2, 3, 4}, types.ContentImage)

	var buf bytes.Buffer
	require.NoError(t, WriteDataChunk(&buf, chunk))

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, err := ReadDataChunk(truncated)
	assert.Error(t, err)
}
