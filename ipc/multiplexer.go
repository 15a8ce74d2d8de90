// Package ipc implements the bidirectional multiplexed stream that joins
// the native and script processes (spec §4.5): one Conn demultiplexes
// every inbound envelope by its proto.Type discriminator and fans
// outbound envelopes back over a single frame.Writer, so the two
// processes never need more than one socket between them.
package ipc

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zapjs/zap/frame"
	"github.com/zapjs/zap/proto"

	zap "github.com/zapjs/zap"
)

// DefaultTimeout is a default deadline callers may pass to InvokeHandler
// or CallRPC, after which the wait fails with IpcTimeout (spec §5). Conn
// itself does not apply it; every call takes its timeout explicitly.
const DefaultTimeout = 30 * time.Second

// Handlers groups the callbacks a Conn dispatches unsolicited (i.e. not
// pending-correlated) inbound envelopes to. Each field may be nil, in
// which case envelopes of that kind are dropped with no side effect.
type Handlers struct {
	InvokeHandler func(context.Context, *proto.InvokeHandler)
	RPCCall       func(context.Context, *proto.RPCCall)
	StreamStart   func(*proto.StreamStart)
	StreamChunk   func(*proto.StreamChunk)
	StreamEnd     func(*proto.StreamEnd)
	WSConnect     func(*proto.WSConnect)
	WSMessage     func(*proto.WSMessage)
	WSClose       func(*proto.WSClose)
	WSSend        func(*proto.WSSend)
	HealthCheck   func() *proto.HealthCheckResponse
}

// Conn is one end of the multiplexed stream. It owns the underlying
// transport exclusively: callers must not read or write it directly once
// a Conn has been constructed over it.
type Conn struct {
	rw       io.ReadWriteCloser
	reader   *frame.Reader
	writer   *frame.Writer
	writeMu  sync.Mutex
	pending  *pendingMap
	handlers Handlers

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn wraps rw as a multiplexed connection using form for outgoing
// frames; h supplies the callbacks for envelopes that aren't responses to
// a pending call.
func NewConn(rw io.ReadWriteCloser, form frame.Form, h Handlers) *Conn {
	return &Conn{
		rw:       rw,
		reader:   frame.NewReader(rw),
		writer:   frame.NewWriter(rw, form),
		pending:  newPendingMap(),
		handlers: h,
		done:     make(chan struct{}),
	}
}

// Serve runs the read loop until the connection closes or ctx is done. It
// blocks; callers typically run it in its own goroutine or as one leg of
// an errgroup alongside the peer that produced rw (spec §4.5).
func (c *Conn) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.readLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.Close()
		return nil
	})
	err := g.Wait()
	c.pending.failAll(&zap.IpcError{Kind: zap.IpcChannelClosed, Message: "connection closed"})
	return err
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		payload, err := c.reader.ReadFrame()
		if err != nil {
			return err
		}
		var env proto.Envelope
		if decodeErr := frame.Unmarshal(payload, &env); decodeErr != nil {
			continue
		}
		c.dispatch(ctx, env.Type, payload)
	}
}

func (c *Conn) dispatch(ctx context.Context, typ proto.Type, payload []byte) {
	switch typ {
	case proto.TypeHandlerResponse:
		var r proto.HandlerResponse
		if frame.Unmarshal(payload, &r) == nil {
			c.pending.resolve(r.RequestID, &r, nil)
		}
	case proto.TypeRPCResponse:
		var r proto.RPCResponse
		if frame.Unmarshal(payload, &r) == nil {
			c.pending.resolve(rpcKey(r.RequestID), &r, nil)
		}
	case proto.TypeRPCError:
		var r proto.RPCErrorFrame
		if frame.Unmarshal(payload, &r) == nil {
			c.pending.resolve(rpcKey(r.RequestID), nil, &zap.RpcError{
				Kind: zap.RpcExecution, Type: r.ErrorType, Message: r.Error,
			})
		}
	case proto.TypeError:
		var r proto.ErrorFrame
		if frame.Unmarshal(payload, &r) == nil {
			// Error frames without an embedded request_id correlate to
			// nothing; surfaced only through handlers, if ever needed.
			_ = r
		}
	case proto.TypeInvokeHandler:
		if c.handlers.InvokeHandler == nil {
			return
		}
		var r proto.InvokeHandler
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.InvokeHandler(ctx, &r)
		}
	case proto.TypeRPCCall:
		if c.handlers.RPCCall == nil {
			return
		}
		var r proto.RPCCall
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.RPCCall(ctx, &r)
		}
	case proto.TypeStreamStart:
		if c.handlers.StreamStart == nil {
			return
		}
		var r proto.StreamStart
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.StreamStart(&r)
		}
	case proto.TypeStreamChunk:
		if c.handlers.StreamChunk == nil {
			return
		}
		var r proto.StreamChunk
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.StreamChunk(&r)
		}
	case proto.TypeStreamEnd:
		if c.handlers.StreamEnd == nil {
			return
		}
		var r proto.StreamEnd
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.StreamEnd(&r)
		}
	case proto.TypeWSConnect:
		if c.handlers.WSConnect == nil {
			return
		}
		var r proto.WSConnect
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.WSConnect(&r)
		}
	case proto.TypeWSMessage:
		if c.handlers.WSMessage == nil {
			return
		}
		var r proto.WSMessage
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.WSMessage(&r)
		}
	case proto.TypeWSClose:
		if c.handlers.WSClose == nil {
			return
		}
		var r proto.WSClose
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.WSClose(&r)
		}
	case proto.TypeWSSend:
		if c.handlers.WSSend == nil {
			return
		}
		var r proto.WSSend
		if frame.Unmarshal(payload, &r) == nil {
			c.handlers.WSSend(&r)
		}
	case proto.TypeHealthCheck:
		if c.handlers.HealthCheck == nil {
			return
		}
		if resp := c.handlers.HealthCheck(); resp != nil {
			resp.Type = proto.TypeHealthCheckResponse
			_ = c.Send(resp)
		}
	}
}

// rpcKey namespaces numeric RPC request ids away from string handler
// request ids in the shared pending map.
func rpcKey(id uint64) string {
	return "rpc:" + itoa(id)
}

func itoa(id uint64) string {
	if id == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}

// Send writes v as one frame, serialized against concurrent writers.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.WriteValue(v)
}

// InvokeHandler sends an InvokeHandler envelope and blocks for its
// correlated HandlerResponse, or fails with IpcTimeout after timeout.
func (c *Conn) InvokeHandler(ctx context.Context, req *proto.InvokeHandler, timeout time.Duration) (*proto.HandlerResponse, error) {
	slot := c.pending.register(req.Request.RequestID, time.Now().Add(timeout))
	req.Type = proto.TypeInvokeHandler
	if err := c.Send(req); err != nil {
		c.pending.remove(req.Request.RequestID)
		return nil, err
	}
	v, err := c.awaitCtx(ctx, req.Request.RequestID, slot, timeout)
	if err != nil {
		return nil, err
	}
	return v.(*proto.HandlerResponse), nil
}

// CallRPC sends an RPCCall envelope and blocks for its correlated result.
func (c *Conn) CallRPC(ctx context.Context, call *proto.RPCCall, timeout time.Duration) (*proto.RPCResponse, error) {
	key := rpcKey(call.RequestID)
	slot := c.pending.register(key, time.Now().Add(timeout))
	call.Type = proto.TypeRPCCall
	if err := c.Send(call); err != nil {
		c.pending.remove(key)
		return nil, err
	}
	v, err := c.awaitCtx(ctx, key, slot, timeout)
	if err != nil {
		return nil, err
	}
	return v.(*proto.RPCResponse), nil
}

func (c *Conn) awaitCtx(ctx context.Context, id string, slot *pendingSlot, timeout time.Duration) (any, error) {
	type outcome struct {
		v   any
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		v, err := c.pending.await(id, slot, timeout)
		out <- outcome{v, err}
	}()
	select {
	case o := <-out:
		return o.v, o.err
	case <-ctx.Done():
		c.pending.remove(id)
		return nil, ctx.Err()
	}
}

// Close shuts down the underlying transport exactly once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rw.Close()
		close(c.done)
	})
	return c.closeErr
}

// Done reports when the connection has been closed.
func (c *Conn) Done() <-chan struct{} { return c.done }
