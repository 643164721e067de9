/*
Package session writes the flat session archive described in
spec.md §6.6: a logdir/session_name directory holding a meta.json
index plus one file per Node per recorded stream. There is no
database; the archive is the Manager's durable record of a run.
*/
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StreamFile describes one recorded stream file inside a session
// archive.
type StreamFile struct {
	NodeID   string `json:"node_id"`
	Stream   string `json:"stream"`
	Filename string `json:"filename"`
}

// Meta is the top-level index written to meta.json.
type Meta struct {
	Name      string       `json:"name"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
	Streams   []StreamFile `json:"streams"`
}

// Archive manages one session's directory on disk.
type Archive struct {
	dir  string
	meta Meta
}

// Create makes a new session directory under logdir named name and
// returns an Archive ready to register streams.
func Create(logdir, name string) (*Archive, error) {
	dir := filepath.Join(logdir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", dir, err)
	}
	return &Archive{
		dir:  dir,
		meta: Meta{Name: name, StartedAt: time.Now()},
	}, nil
}

// Dir returns the archive's root directory.
func (a *Archive) Dir() string { return a.dir }

// StreamPath returns the path a Node's stream file should be
// written to and registers it in the archive's meta index.
func (a *Archive) StreamPath(nodeID, stream, ext string) string {
	filename := fmt.Sprintf("%s_%s%s", nodeID, stream, ext)
	a.meta.Streams = append(a.meta.Streams, StreamFile{
		NodeID:   nodeID,
		Stream:   stream,
		Filename: filename,
	})
	return filepath.Join(a.dir, filename)
}

// Finalize stamps the end time and writes meta.json. Callers call
// this once every Node has finished collecting.
func (a *Archive) Finalize() error {
	a.meta.EndedAt = time.Now()
	data, err := json.MarshalIndent(a.meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(a.dir, "meta.json"), data, 0o644)
}

// Load reads an existing session archive's meta.json.
func Load(logdir, name string) (*Meta, error) {
	path := filepath.Join(logdir, name, "meta.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
