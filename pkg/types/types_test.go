package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialCompletionOk(t *testing.T) {
	p := NewPartialCompletion()
	assert.True(t, p.Ok())

	p.Succeeded = append(p.Succeeded, "worker-1")
	assert.True(t, p.Ok())

	p.Failed["worker-2"] = "unreachable"
	assert.False(t, p.Ok())
}

func TestNewDataChunkAddRoundTrips(t *testing.T) {
	chunk := NewDataChunk("node-1", "camera")
	chunk.Add("frame", []byte{1, 2, 3}, ContentImage)
	chunk.Add("caption", []byte("hello"), ContentText)

	require.Len(t, chunk.Payload, 2)
	assert.Equal(t, ContentImage, chunk.Payload["frame"].ContentType)
	assert.Equal(t, []byte{1, 2, 3}, chunk.Payload["frame"].Value)
	assert.Equal(t, ContentText, chunk.Payload["caption"].ContentType)
	assert.Equal(t, "node-1", chunk.OwnerID)
	assert.Equal(t, "camera", chunk.OwnerName)
	assert.False(t, chunk.Timestamp.IsZero())
}

func TestNewNodeStateStartsNull(t *testing.T) {
	ns := NewNodeState("n1", "cam")
	assert.Equal(t, FSMNull, ns.FSM)
	assert.NotNil(t, ns.RegisteredMethods)
}

func TestNewWorkerStateStartsEmpty(t *testing.T) {
	ws := NewWorkerState("w1", "edge-box")
	assert.Empty(t, ws.Nodes)
}

func TestNewManagerStateStartsEmpty(t *testing.T) {
	ms := NewManagerState("m1")
	assert.Equal(t, "m1", ms.ID)
	assert.Empty(t, ms.Workers)
}
