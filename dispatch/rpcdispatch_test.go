package dispatch

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/zapjs/zap/proto"
)

type capturingConn struct {
	sent []any
}

func (c *capturingConn) Send(v any) error {
	c.sent = append(c.sent, v)
	return nil
}

func TestRPCDispatch_Handle_UnknownFunction(t *testing.T) {
	d := NewRPCDispatch()
	conn := &capturingConn{}

	d.Handle(conn, &proto.RPCCall{RequestID: 1, FunctionName: "missing"})

	if len(conn.sent) != 1 {
		t.Fatalf("want 1 sent, got %d", len(conn.sent))
	}
	ef, ok := conn.sent[0].(*proto.RPCErrorFrame)
	if !ok || ef.ErrorType != "not_found" {
		t.Fatalf("got %+v", conn.sent[0])
	}
}

func TestRPCDispatch_Handle_SuccessAndFailure(t *testing.T) {
	d := NewRPCDispatch()
	d.Register("echo", func(params json.RawMessage) (json.RawMessage, error) {
		return params, nil
	})

	conn := &capturingConn{}
	d.Handle(conn, &proto.RPCCall{RequestID: 2, FunctionName: "echo", Params: json.RawMessage(`{"x":1}`)})

	resp, ok := conn.sent[0].(*proto.RPCResponse)
	if !ok || string(resp.Result) != `{"x":1}` {
		t.Fatalf("got %+v", conn.sent[0])
	}

	d.Register("fail", func(params json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	d.Handle(conn, &proto.RPCCall{RequestID: 3, FunctionName: "fail"})

	ef, ok := conn.sent[1].(*proto.RPCErrorFrame)
	if !ok || ef.RequestID != 3 || ef.ErrorType != "execution" {
		t.Fatalf("got %+v", conn.sent[1])
	}
}
