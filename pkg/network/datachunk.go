package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// frameHeader is the JSON-serialized shape written after the
// 4-byte length prefix: payload names and content types, with the
// raw bytes appended immediately after in declaration order. This
// keeps large binary payloads (image/audio/tensor bytes) out of the
// JSON entirely.
type frameHeader struct {
	OwnerID   string              `json:"owner_id"`
	OwnerName string              `json:"owner_name"`
	Timestamp int64               `json:"timestamp_unix_nano"`
	Entries   []frameHeaderEntry  `json:"entries"`
}

type frameHeaderEntry struct {
	Name        string            `json:"name"`
	ContentType types.ContentType `json:"content_type"`
	Length      int               `json:"length"`
}

const maxFrameHeaderBytes = 1 << 20 // 1 MiB of header JSON is already generous
const maxFramePayloadBytes = 512 << 20

// WriteDataChunk serializes chunk onto w as:
//
//	4 bytes: big-endian length of the header JSON that follows
//	N bytes: header JSON (frameHeader)
//	remaining bytes: each entry's raw value, concatenated in header order
//
// This is the wire framing spec.md's data plane uses for every
// Publisher -> Subscriber send.
func WriteDataChunk(w io.Writer, chunk *types.DataChunk) error {
	names := make([]string, 0, len(chunk.Payload))
	for name := range chunk.Payload {
		names = append(names, name)
	}

	header := frameHeader{
		OwnerID:   chunk.OwnerID,
		OwnerName: chunk.OwnerName,
		Timestamp: chunk.Timestamp.UnixNano(),
		Entries:   make([]frameHeaderEntry, 0, len(names)),
	}
	for _, name := range names {
		entry := chunk.Payload[name]
		header.Entries = append(header.Entries, frameHeaderEntry{
			Name:        name,
			ContentType: entry.ContentType,
			Length:      len(entry.Value),
		})
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("network: marshal data chunk header: %w", err)
	}
	if len(headerBytes) > maxFrameHeaderBytes {
		return &types.ProtocolError{Detail: "data chunk header exceeds maximum size"}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("network: write frame length: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("network: write frame header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(chunk.Payload[name].Value); err != nil {
			return fmt.Errorf("network: write frame payload %q: %w", name, err)
		}
	}
	return nil
}

// ReadDataChunk parses one frame written by WriteDataChunk from r.
func ReadDataChunk(r io.Reader) (*types.DataChunk, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	headerLen := binary.BigEndian.Uint32(lenBuf[:])
	if headerLen > maxFrameHeaderBytes {
		return nil, &types.ProtocolError{Detail: "data chunk header exceeds maximum size"}
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("network: read frame header: %w", err)
	}

	var header frameHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, &types.ProtocolError{Detail: fmt.Sprintf("malformed data chunk header: %v", err)}
	}

	chunk := types.NewDataChunk(header.OwnerID, header.OwnerName)
	chunk.Timestamp = timeFromUnixNano(header.Timestamp)

	for _, entry := range header.Entries {
		if entry.Length < 0 || entry.Length > maxFramePayloadBytes {
			return nil, &types.ProtocolError{Detail: fmt.Sprintf("entry %q declares invalid length %d", entry.Name, entry.Length)}
		}
		buf := make([]byte, entry.Length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("network: read frame payload %q: %w", entry.Name, err)
		}
		chunk.Add(entry.Name, buf, entry.ContentType)
	}
	return chunk, nil
}
