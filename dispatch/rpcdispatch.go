package dispatch

import (
	"encoding/json"

	"github.com/zapjs/zap/proto"

	zap "github.com/zapjs/zap"
)

// NativeFunc is a native function the script runtime may call via reverse
// RPC (spec §4.7). It receives the call's raw JSON params and returns a
// raw JSON result.
type NativeFunc func(params json.RawMessage) (json.RawMessage, error)

// RPCDispatch is the native-side lookup table reverse RPC calls resolve
// against (spec §4.7's rpc_dispatch table).
type RPCDispatch struct {
	fns map[string]NativeFunc
}

// NewRPCDispatch returns an empty dispatch table.
func NewRPCDispatch() *RPCDispatch {
	return &RPCDispatch{fns: make(map[string]NativeFunc)}
}

// Register installs fn under name, replacing any previous registration.
func (d *RPCDispatch) Register(name string, fn NativeFunc) {
	d.fns[name] = fn
}

// Handle answers one rpc_call envelope by invoking the registered
// function and sending the corresponding rpc_response or rpc_error back
// over conn. It is meant to be wired as an ipc.Handlers.RPCCall callback.
func (d *RPCDispatch) Handle(conn interface{ Send(v any) error }, call *proto.RPCCall) {
	fn, ok := d.fns[call.FunctionName]
	if !ok {
		_ = conn.Send(&proto.RPCErrorFrame{
			Type:      proto.TypeRPCError,
			RequestID: call.RequestID,
			Error:     (&zap.RpcError{Kind: zap.RpcNotFound, Message: call.FunctionName}).Error(),
			ErrorType: "not_found",
		})
		return
	}

	result, err := fn(call.Params)
	if err != nil {
		_ = conn.Send(&proto.RPCErrorFrame{
			Type:      proto.TypeRPCError,
			RequestID: call.RequestID,
			Error:     err.Error(),
			ErrorType: "execution",
		})
		return
	}

	_ = conn.Send(&proto.RPCResponse{
		Type:      proto.TypeRPCResponse,
		RequestID: call.RequestID,
		Result:    result,
	})
}
