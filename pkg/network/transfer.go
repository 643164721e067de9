package network

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Transfer tracks one incoming file upload by filename, the shape
// the Worker's /packages/load route uses to let the Manager block
// until a named package's upload is complete.
type Transfer struct {
	DstFilepath string
	Size        int64
	Complete    bool
}

// TransferTable tracks in-flight and completed uploads keyed by
// filename, one table per uploading sender.
type TransferTable struct {
	mu      sync.RWMutex
	entries map[string]*Transfer
}

// NewTransferTable creates an empty TransferTable.
func NewTransferTable() *TransferTable {
	return &TransferTable{entries: make(map[string]*Transfer)}
}

// Receive reads body into dstDir/filename, recording the transfer as
// in-progress and then complete once fully written.
func (t *TransferTable) Receive(dstDir, filename string, body io.Reader) error {
	dst := filepath.Join(dstDir, filename)

	t.mu.Lock()
	t.entries[filename] = &Transfer{DstFilepath: dst}
	t.mu.Unlock()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, body)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.entries[filename] = &Transfer{DstFilepath: dst, Size: n, Complete: true}
	t.mu.Unlock()
	return nil
}

// Lookup returns the transfer record for filename, if any.
func (t *TransferTable) Lookup(filename string) (Transfer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[filename]
	if !ok {
		return Transfer{}, false
	}
	return *entry, true
}
