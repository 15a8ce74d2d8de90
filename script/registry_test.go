package script

import (
	"context"
	"testing"

	"github.com/zapjs/zap/proto"
)

func TestRegistry_Dispatch_RunsRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("home", func(ctx context.Context, req *proto.Request) (any, error) {
		return &proto.HandlerResponse{Status: 200, Body: "hi " + req.Params["name"]}, nil
	})

	env := &proto.InvokeHandler{
		HandlerID: "home",
		Request:   proto.Request{RequestID: "r1", Params: map[string]string{"name": "zap"}},
	}

	resp := r.Dispatch(context.Background(), env)
	if resp.Status != 200 || resp.Body != "hi zap" || resp.RequestID != "r1" {
		t.Fatalf("got %+v", resp)
	}
}

func TestRegistry_Dispatch_UnknownHandlerIs500(t *testing.T) {
	r := NewRegistry()
	env := &proto.InvokeHandler{HandlerID: "missing", Request: proto.Request{RequestID: "r2"}}

	resp := r.Dispatch(context.Background(), env)
	if resp.Status != 500 {
		t.Fatalf("want 500, got %d", resp.Status)
	}
}

func TestRegistry_Dispatch_HandlerErrorIs500(t *testing.T) {
	r := NewRegistry()
	r.Register("boom", func(ctx context.Context, req *proto.Request) (any, error) {
		return nil, errBoom
	})

	resp := r.Dispatch(context.Background(), &proto.InvokeHandler{HandlerID: "boom"})
	if resp.Status != 500 {
		t.Fatalf("want 500, got %d", resp.Status)
	}
}

// The four return-shape normalization cases from spec §4.6.

func TestRegistry_Dispatch_PlainValueBecomesJSON(t *testing.T) {
	r := NewRegistry()
	r.Register("user", func(ctx context.Context, req *proto.Request) (any, error) {
		return map[string]string{"id": "42", "name": "User 42"}, nil
	})

	resp := r.Dispatch(context.Background(), &proto.InvokeHandler{HandlerID: "user"})
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if got := resp.Headers["Content-Type"]; len(got) != 1 || got[0] != "application/json" {
		t.Fatalf("content-type = %v", got)
	}
	if resp.Body != `{"id":"42","name":"User 42"}` {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestRegistry_Dispatch_StringBecomesTextPlain(t *testing.T) {
	r := NewRegistry()
	r.Register("greet", func(ctx context.Context, req *proto.Request) (any, error) {
		return "hello there", nil
	})

	resp := r.Dispatch(context.Background(), &proto.InvokeHandler{HandlerID: "greet"})
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if got := resp.Headers["Content-Type"]; len(got) != 1 || got[0] != "text/plain; charset=utf-8" {
		t.Fatalf("content-type = %v", got)
	}
	if resp.Body != "hello there" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestRegistry_Dispatch_ShapedResponsePassesThrough(t *testing.T) {
	r := NewRegistry()
	r.Register("raw", func(ctx context.Context, req *proto.Request) (any, error) {
		return proto.HandlerResponse{
			Status:  201,
			Headers: map[string][]string{"X-Created": {"true"}},
			Body:    "created",
		}, nil
	})

	resp := r.Dispatch(context.Background(), &proto.InvokeHandler{HandlerID: "raw"})
	if resp.Status != 201 || resp.Body != "created" {
		t.Fatalf("got %+v", resp)
	}
	if got := resp.Headers["X-Created"]; len(got) != 1 || got[0] != "true" {
		t.Fatalf("headers = %v", resp.Headers)
	}
}

func TestRegistry_Dispatch_StreamFuncRegisteredSeparately(t *testing.T) {
	r := NewRegistry()
	chunks := make(chan []byte, 1)
	chunks <- []byte("chunk")
	close(chunks)
	r.RegisterStream("feed", func(ctx context.Context, req *proto.Request) (int, map[string][]string, <-chan []byte, error) {
		return 200, nil, chunks, nil
	})

	fn, ok := r.streamFunc("feed")
	if !ok {
		t.Fatalf("expected feed to be registered as a stream handler")
	}
	status, _, ch, err := fn(context.Background(), &proto.Request{})
	if err != nil || status != 200 {
		t.Fatalf("status=%d err=%v", status, err)
	}
	if got := <-ch; string(got) != "chunk" {
		t.Fatalf("chunk = %q", got)
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestRegistry_WS_ConnectMessageCloseRouting(t *testing.T) {
	r := NewRegistry()

	var connected, messaged, closed string
	r.RegisterWS("/chat", &WSHandler{
		OnConnect: func(ctx context.Context, id string, msg *proto.WSConnect) { connected = id },
		OnMessage: func(ctx context.Context, id string, msg *proto.WSMessage) { messaged = string(msg.Data) },
		OnClose:   func(ctx context.Context, id string, msg *proto.WSClose) { closed = id },
	})

	ctx := context.Background()
	r.DispatchWSConnect(ctx, &proto.WSConnect{ConnectionID: "c1", Path: "/chat"})
	r.DispatchWSMessage(ctx, &proto.WSMessage{ConnectionID: "c1", Data: []byte("hello")})
	r.DispatchWSClose(ctx, &proto.WSClose{ConnectionID: "c1"})

	if connected != "c1" || messaged != "hello" || closed != "c1" {
		t.Fatalf("connected=%q messaged=%q closed=%q", connected, messaged, closed)
	}

	// After close, the binding is forgotten: a later message on the same id
	// that was somehow replayed must not reach the handler again.
	messaged = ""
	r.DispatchWSMessage(ctx, &proto.WSMessage{ConnectionID: "c1", Data: []byte("late")})
	if messaged != "" {
		t.Fatalf("expected no routing after close, got %q", messaged)
	}
}
