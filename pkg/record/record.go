/*
Package record implements the pluggable record writers a Node's
record queue drains into: a single producer (the Node's step loop)
feeding a single consumer (the Writer) per stream, append-only, and
durable once Close returns.

Concrete writers cover the two structured formats the core runtime
needs natively, JSON-lines and tabular (CSV); media formats (video,
audio, image) implement the same Writer contract from an external
codec and are out of scope here.
*/
package record

import (
	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// Writer durably persists RecordEntry values for one stream of one
// Node. Implementations are not required to be safe for concurrent
// use; the record queue guarantees single-producer/single-consumer
// delivery per stream.
type Writer interface {
	// Write appends entry to the stream. Callers must not reuse
	// entry.Payload's backing array after Write returns.
	Write(entry types.RecordEntry) error
	// Close flushes and closes the underlying file. After Close
	// returns successfully every prior Write is durable.
	Close() error
}

// Queue buffers RecordEntry values produced by a Node and drains
// them to a Writer on its own goroutine, so a slow writer never
// blocks the Node's step loop.
type Queue struct {
	writer Writer
	ch     chan types.RecordEntry
	done   chan struct{}
	errCh  chan error
}

// NewQueue starts a Queue draining into writer with the given
// buffer depth.
func NewQueue(writer Writer, depth int) *Queue {
	q := &Queue{
		writer: writer,
		ch:     make(chan types.RecordEntry, depth),
		done:   make(chan struct{}),
		errCh:  make(chan error, 1),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for entry := range q.ch {
		if err := q.writer.Write(entry); err != nil {
			select {
			case q.errCh <- err:
			default:
			}
		}
	}
}

// Enqueue submits entry for writing. It blocks only if the queue's
// buffer is full, applying natural backpressure to the Node.
func (q *Queue) Enqueue(entry types.RecordEntry) {
	q.ch <- entry
}

// Err returns the first write error encountered, if any, without
// blocking.
func (q *Queue) Err() error {
	select {
	case err := <-q.errCh:
		return err
	default:
		return nil
	}
}

// Close stops accepting new entries, waits for the drain goroutine
// to finish the backlog, and closes the underlying Writer.
func (q *Queue) Close() error {
	close(q.ch)
	<-q.done
	return q.writer.Close()
}
