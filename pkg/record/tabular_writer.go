package record

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// TabularWriter writes each RecordEntry's payload as a CSV row,
// lazily writing a header from the field names of the first
// payload it sees. Every subsequent payload must carry the same
// field set.
type TabularWriter struct {
	file    *os.File
	w       *csv.Writer
	header  []string
	started bool
}

// NewTabularWriter creates (or truncates) path and returns a Writer
// backed by it.
func NewTabularWriter(path string) (*TabularWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &TabularWriter{file: f, w: csv.NewWriter(f)}, nil
}

// Write implements Writer.
func (w *TabularWriter) Write(entry types.RecordEntry) error {
	var fields map[string]any
	if err := json.Unmarshal(entry.Payload, &fields); err != nil {
		return fmt.Errorf("tabular writer: payload is not an object: %w", err)
	}

	if !w.started {
		w.header = make([]string, 0, len(fields)+1)
		w.header = append(w.header, "timestamp")
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		w.header = append(w.header, names...)
		if err := w.w.Write(w.header); err != nil {
			return err
		}
		w.started = true
	}

	row := make([]string, len(w.header))
	row[0] = entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")
	for i, name := range w.header[1:] {
		row[i+1] = fmt.Sprint(fields[name])
	}
	return w.w.Write(row)
}

// Close implements Writer.
func (w *TabularWriter) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
