package script

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/zapjs/zap/frame"
	"github.com/zapjs/zap/ipc"
	"github.com/zapjs/zap/proto"
)

func pipePair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestRuntime_HandleInvoke_SendsResponseBack(t *testing.T) {
	scriptSide, nativeSide := pipePair()
	defer scriptSide.Close()
	defer nativeSide.Close()

	rt := New(scriptSide, frame.FormText, time.Second)
	rt.Registry.Register("home", func(ctx context.Context, req *proto.Request) (any, error) {
		return &proto.HandlerResponse{Status: 200, Body: "ok"}, nil
	})

	go rt.Serve(context.Background())

	nativeConn := ipc.NewConn(nativeSide, frame.FormText, ipc.Handlers{})
	go nativeConn.Serve(context.Background())

	resp, err := nativeConn.InvokeHandler(context.Background(), &proto.InvokeHandler{
		HandlerID: "home",
		Request:   proto.Request{RequestID: "r1"},
	}, time.Second)
	if err != nil {
		t.Fatalf("InvokeHandler: %v", err)
	}
	if resp.Status != 200 || resp.Body != "ok" {
		t.Fatalf("got %+v", resp)
	}
}
