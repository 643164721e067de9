package record

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// JSONWriter appends one JSON object per line to a file, the
// record-plane equivalent of a .jsonl stream.
type JSONWriter struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewJSONWriter creates (or truncates) path and returns a Writer
// backed by it.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	return &JSONWriter{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write implements Writer.
func (w *JSONWriter) Write(entry types.RecordEntry) error {
	return w.enc.Encode(entry)
}

// Close implements Writer.
func (w *JSONWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
