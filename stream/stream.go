// Package stream implements the bounded, backpressured channel pump that
// carries a streamed handler response from the script runtime to the
// native HTTP response writer (spec §4.8): stream_start carries the
// status/headers, each stream_chunk is forwarded as it arrives, and
// stream_end closes the pump, whether or not it is flagged cancelled.
package stream

import (
	"sync"
	"time"

	"github.com/zapjs/zap/proto"

	zap "github.com/zapjs/zap"
)

// ChunkBufferSize bounds how many unconsumed chunks may queue before a
// producer's Chunk call blocks, giving the transport backpressure
// (spec §4.8).
const ChunkBufferSize = 16

// pump is one in-flight stream, keyed by its id (the originating
// request_id, reused as the stream_id — spec decision recorded in
// DESIGN.md: streaming responses correlate by the same id that identified
// the triggering InvokeHandler, avoiding a second handshake).
type pump struct {
	start  chan *proto.StreamStart
	chunks chan []byte
	closed chan struct{}
}

// Table tracks in-flight stream pumps by id.
type Table struct {
	mu    sync.Mutex
	pumps map[string]*pump
}

// NewTable returns an empty stream table.
func NewTable() *Table {
	return &Table{pumps: make(map[string]*pump)}
}

func (t *Table) get(id string) *pump {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pumps[id]
	if !ok {
		p = &pump{
			start:  make(chan *proto.StreamStart, 1),
			chunks: make(chan []byte, ChunkBufferSize),
			closed: make(chan struct{}),
		}
		t.pumps[id] = p
	}
	return p
}

func (t *Table) delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pumps, id)
}

// Start records a stream_start envelope, unblocking any Await call
// waiting on id.
func (t *Table) Start(s *proto.StreamStart) {
	p := t.get(s.StreamID)
	select {
	case p.start <- s:
	default:
	}
}

// Chunk forwards one stream_chunk's payload to id's consumer, blocking
// the producer if the consumer hasn't kept up (spec §4.8 backpressure).
func (t *Table) Chunk(c *proto.StreamChunk) {
	p := t.get(c.StreamID)
	select {
	case p.chunks <- c.Data:
	case <-p.closed:
	}
}

// End closes id's chunk channel, signaling the consumer there is no more
// data; it also releases the table entry.
func (t *Table) End(e *proto.StreamEnd) {
	p := t.get(e.StreamID)
	close(p.chunks)
	t.delete(e.StreamID)
}

// Await blocks for id's stream_start, then returns it along with the
// chunk channel the caller should range over. It fails with IpcTimeout if
// stream_start never arrives within timeout.
func (t *Table) Await(id string, timeout time.Duration) (*proto.StreamStart, <-chan []byte, error) {
	p := t.get(id)
	select {
	case s := <-p.start:
		return s, p.chunks, nil
	case <-time.After(timeout):
		t.delete(id)
		return nil, nil, &zap.IpcError{Kind: zap.IpcTimeout, Message: "stream_start not received"}
	}
}

// Cancel tears down id's pump without waiting for stream_end, used when
// the native side's writer fails mid-stream.
func (t *Table) Cancel(id string) {
	p := t.get(id)
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	t.delete(id)
}
