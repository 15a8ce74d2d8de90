package ipc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/zapjs/zap/frame"
	"github.com/zapjs/zap/proto"

	zap "github.com/zapjs/zap"
)

// pipeConn adapts one side of a net.Pipe into io.ReadWriteCloser, which is
// already satisfied by net.Conn.
func pipePair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestConn_InvokeHandler_CorrelatesResponse(t *testing.T) {
	nSide, sSide := pipePair()
	defer nSide.Close()
	defer sSide.Close()

	n := NewConn(nSide, frame.FormBinary, Handlers{})
	go func() { _ = n.Serve(context.Background()) }()

	sReader := frame.NewReader(sSide)
	sWriter := frame.NewWriter(sSide, frame.FormBinary)

	go func() {
		var inv proto.InvokeHandler
		if err := sReader.ReadValue(&inv); err != nil {
			return
		}
		_ = sWriter.WriteValue(&proto.HandlerResponse{
			Type:      proto.TypeHandlerResponse,
			HandlerID: inv.HandlerID,
			RequestID: inv.Request.RequestID,
			Status:    200,
			Body:      "ok",
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := n.InvokeHandler(ctx, &proto.InvokeHandler{
		HandlerID: "h1",
		Request:   proto.Request{RequestID: "r1", Method: "GET", Path: "/x"},
	}, time.Second)
	if err != nil {
		t.Fatalf("InvokeHandler: %v", err)
	}
	if resp.Status != 200 || resp.Body != "ok" {
		t.Fatalf("got %+v", resp)
	}
}

func TestConn_InvokeHandler_TimesOut(t *testing.T) {
	nSide, sSide := pipePair()
	defer nSide.Close()
	defer sSide.Close()

	n := NewConn(nSide, frame.FormBinary, Handlers{})
	// sSide never replies.
	go func() {
		r := frame.NewReader(sSide)
		var inv proto.InvokeHandler
		_ = r.ReadValue(&inv)
	}()

	ctx := context.Background()
	_, err := n.InvokeHandler(ctx, &proto.InvokeHandler{
		HandlerID: "h1",
		Request:   proto.Request{RequestID: "r2", Method: "GET", Path: "/x"},
	}, 30*time.Millisecond)

	var ie *zap.IpcError
	if !errors.As(err, &ie) || ie.Kind != zap.IpcTimeout {
		t.Fatalf("want IpcTimeout, got %v", err)
	}
}

func TestConn_LateResponse_IsDroppedNotDoubleResolved(t *testing.T) {
	nSide, sSide := pipePair()
	defer nSide.Close()
	defer sSide.Close()

	n := NewConn(nSide, frame.FormBinary, Handlers{})
	go func() { _ = n.Serve(context.Background()) }()

	sWriter := frame.NewWriter(sSide, frame.FormBinary)

	// Resolve the id once, out of band, before anyone awaits it: the
	// resolve should report false and must not panic on a nil channel
	// send when nothing is registered.
	resolved := n.pending.resolve("ghost", &proto.HandlerResponse{}, nil)
	if resolved {
		t.Fatal("resolve on unknown id should report false")
	}

	// A real in-band late response after the waiter gave up must not
	// block the reader goroutine forever: register, let it time out,
	// then deliver the response anyway.
	slot := n.pending.register("late", time.Now().Add(10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	n.pending.remove("late")

	if err := sWriter.WriteValue(&proto.HandlerResponse{
		Type: proto.TypeHandlerResponse, RequestID: "late",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-slot.done:
		t.Fatal("slot should not have been resolved after removal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConn_InvokeHandler_CallbackInvoked(t *testing.T) {
	nSide, sSide := pipePair()
	defer nSide.Close()
	defer sSide.Close()

	received := make(chan *proto.InvokeHandler, 1)
	s := NewConn(sSide, frame.FormBinary, Handlers{
		InvokeHandler: func(_ context.Context, inv *proto.InvokeHandler) {
			received <- inv
		},
	})
	go func() { _ = s.Serve(context.Background()) }()

	nWriter := frame.NewWriter(nSide, frame.FormBinary)
	if err := nWriter.WriteValue(&proto.InvokeHandler{
		Type:      proto.TypeInvokeHandler,
		HandlerID: "h2",
		Request:   proto.Request{RequestID: "r3", Method: "POST", Path: "/y"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case inv := <-received:
		if inv.HandlerID != "h2" {
			t.Fatalf("got %+v", inv)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}
