package script

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/zapjs/zap/proto"
)

// Conn is the subset of ipc.Conn the RPC client needs to place a reverse
// call and block for its result.
type Conn interface {
	CallRPC(ctx context.Context, call *proto.RPCCall, timeout time.Duration) (*proto.RPCResponse, error)
}

// RPCClient calls native functions registered in the N-side rpc_dispatch
// table (spec §4.7). Unlike the teacher's service-discovery Call flow
// (service name → registry → balancer → transport pool), there is exactly
// one peer here, so a call is just "name params" sent straight down the
// one multiplexed connection.
type RPCClient struct {
	conn    Conn
	timeout time.Duration
	seq     atomic.Uint64
}

// NewRPCClient returns a client that places reverse RPC calls over conn,
// waiting up to timeout for each to resolve.
func NewRPCClient(conn Conn, timeout time.Duration) *RPCClient {
	return &RPCClient{conn: conn, timeout: timeout}
}

// Call invokes the native function named name with params marshaled to
// JSON, and unmarshals the result into out if out is non-nil.
func (c *RPCClient) Call(ctx context.Context, name string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	call := &proto.RPCCall{
		Type:         proto.TypeRPCCall,
		FunctionName: name,
		Params:       raw,
		RequestID:    c.seq.Add(1),
	}

	resp, err := c.conn.CallRPC(ctx, call, c.timeout)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}
