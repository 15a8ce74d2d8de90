package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/zapjs/zap/proto"

	zap "github.com/zapjs/zap"
)

func TestTable_StartThenChunksThenEnd(t *testing.T) {
	tbl := NewTable()

	go func() {
		tbl.Start(&proto.StreamStart{StreamID: "r1", Status: 200})
		tbl.Chunk(&proto.StreamChunk{StreamID: "r1", Data: []byte("a")})
		tbl.Chunk(&proto.StreamChunk{StreamID: "r1", Data: []byte("b")})
		tbl.End(&proto.StreamEnd{StreamID: "r1"})
	}()

	start, chunks, err := tbl.Await("r1", time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if start.Status != 200 {
		t.Fatalf("got status %d", start.Status)
	}

	var got []byte
	for c := range chunks {
		got = append(got, c...)
	}
	if string(got) != "ab" {
		t.Fatalf("got %q", got)
	}
}

func TestTable_Await_TimesOutWithoutStart(t *testing.T) {
	tbl := NewTable()
	_, _, err := tbl.Await("never", 20*time.Millisecond)

	var ie *zap.IpcError
	if !errors.As(err, &ie) || ie.Kind != zap.IpcTimeout {
		t.Fatalf("want IpcTimeout, got %v", err)
	}
}

func TestTable_Cancel_UnblocksProducer(t *testing.T) {
	tbl := NewTable()
	tbl.Start(&proto.StreamStart{StreamID: "r2", Status: 200})

	// Fill the buffer, then cancel; a blocked Chunk call must return.
	for i := 0; i < ChunkBufferSize; i++ {
		tbl.Chunk(&proto.StreamChunk{StreamID: "r2", Data: []byte("x")})
	}

	done := make(chan struct{})
	go func() {
		tbl.Chunk(&proto.StreamChunk{StreamID: "r2", Data: []byte("blocked")})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.Cancel("r2")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Chunk did not unblock after Cancel")
	}
}
