package script

import (
	"context"
	"io"
	"time"

	"github.com/zapjs/zap/frame"
	"github.com/zapjs/zap/ipc"
	"github.com/zapjs/zap/proto"
)

// Runtime wires a Registry and RPCClient to one ipc.Conn, turning
// unsolicited invoke_handler/ws_* envelopes from the native side into
// registry dispatches and answering each with the expected response
// envelope. Embedding a script runtime is the whole of spec §4.6 from the
// S-side's perspective: call New, register handlers, run Serve.
type Runtime struct {
	Registry *Registry
	RPC      *RPCClient

	conn *ipc.Conn
}

// New builds a Runtime over rw, using timeout as the reverse-RPC call
// deadline. The Conn is built
// here (rather than accepted as a parameter) because its Handlers must
// close over the Runtime they belong to.
func New(rw io.ReadWriteCloser, form frame.Form, timeout time.Duration) *Runtime {
	rt := &Runtime{Registry: NewRegistry()}
	rt.conn = ipc.NewConn(rw, form, ipc.Handlers{
		InvokeHandler: rt.handleInvoke,
		WSConnect:     rt.handleWSConnect,
		WSMessage:     rt.handleWSMessage,
		WSClose:       rt.handleWSClose,
		HealthCheck:   func() *proto.HealthCheckResponse { return &proto.HealthCheckResponse{} },
	})
	rt.RPC = NewRPCClient(rt.conn, timeout)
	return rt
}

// Serve runs the underlying connection's read loop until it closes or ctx
// is done.
func (rt *Runtime) Serve(ctx context.Context) error {
	return rt.conn.Serve(ctx)
}

func (rt *Runtime) handleInvoke(ctx context.Context, env *proto.InvokeHandler) {
	if fn, ok := rt.Registry.streamFunc(env.HandlerID); ok {
		rt.dispatchStream(ctx, env, fn)
		return
	}
	resp := rt.Registry.Dispatch(ctx, env)
	_ = rt.conn.Send(resp)
}

// dispatchStream runs a registered StreamFunc and pumps its output as
// stream_start/stream_chunk/stream_end frames (spec §4.8). The stream_id
// reuses the triggering request_id (DESIGN.md's recorded Open Question
// decision), and the initial handler_response carries the
// proto.StreamingStatus sentinel so the engine on the other end knows to
// await the stream rather than read Body inline.
func (rt *Runtime) dispatchStream(ctx context.Context, env *proto.InvokeHandler, fn StreamFunc) {
	requestID := env.Request.RequestID

	status, headers, chunks, err := fn(ctx, &env.Request)
	if err != nil {
		_ = rt.conn.Send(&proto.HandlerResponse{
			Type:      proto.TypeHandlerResponse,
			HandlerID: env.HandlerID,
			RequestID: requestID,
			Status:    500,
			Headers:   map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:      err.Error(),
		})
		return
	}

	_ = rt.conn.Send(&proto.HandlerResponse{
		Type:      proto.TypeHandlerResponse,
		HandlerID: env.HandlerID,
		RequestID: requestID,
		Status:    proto.StreamingStatus,
	})
	_ = rt.conn.Send(&proto.StreamStart{
		Type: proto.TypeStreamStart, StreamID: requestID, Status: status, Headers: headers,
	})
	for chunk := range chunks {
		if ctx.Err() != nil {
			_ = rt.conn.Send(&proto.StreamEnd{Type: proto.TypeStreamEnd, StreamID: requestID, Cancelled: true})
			return
		}
		_ = rt.conn.Send(&proto.StreamChunk{Type: proto.TypeStreamChunk, StreamID: requestID, Data: chunk})
	}
	_ = rt.conn.Send(&proto.StreamEnd{Type: proto.TypeStreamEnd, StreamID: requestID})
}

func (rt *Runtime) handleWSConnect(env *proto.WSConnect) {
	rt.Registry.DispatchWSConnect(context.Background(), env)
}

func (rt *Runtime) handleWSMessage(env *proto.WSMessage) {
	rt.Registry.DispatchWSMessage(context.Background(), env)
}

func (rt *Runtime) handleWSClose(env *proto.WSClose) {
	rt.Registry.DispatchWSClose(context.Background(), env)
}

// Send relays a ws_send envelope to the native side on behalf of a
// WSHandler, e.g. to push a server-initiated message to connectionID.
func (rt *Runtime) Send(connectionID string, data []byte, binary bool) error {
	return rt.conn.Send(&proto.WSSend{
		Type:         proto.TypeWSSend,
		ConnectionID: connectionID,
		Data:         data,
		Binary:       binary,
	})
}

// Close closes connectionID from the script side.
func (rt *Runtime) Close(connectionID string, code int, reason string) error {
	return rt.conn.Send(&proto.WSClose{
		Type:         proto.TypeWSClose,
		ConnectionID: connectionID,
		Code:         code,
		Reason:       reason,
	})
}
