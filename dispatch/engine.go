// Package dispatch implements the native-side dispatch engine (spec
// §4.4): it turns a matched dynamic route into an InvokeHandler envelope,
// round-trips it across the IPC multiplexer to the script runtime, and
// translates the HandlerResponse back into an HTTP response — or, when
// the round trip fails, into the taxonomy error the spec requires.
package dispatch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zapjs/zap/ipc"
	"github.com/zapjs/zap/proto"
	"github.com/zapjs/zap/stream"
)

// DefaultTimeout bounds how long Engine.Handler waits for a script
// response before failing the request with a 504 (spec §5).
const DefaultTimeout = 30 * time.Second

// Conn is the subset of ipc.Conn the dispatch engine needs, named so
// Engine can be tested against a fake without pulling in a real socket.
type Conn interface {
	InvokeHandler(ctx context.Context, req *proto.InvokeHandler, timeout time.Duration) (*proto.HandlerResponse, error)
	Send(v any) error
}

var _ Conn = (*ipc.Conn)(nil)

// Engine dispatches matched dynamic routes to the script runtime over one
// IPC connection.
type Engine struct {
	conn    Conn
	timeout time.Duration
	streams *stream.Table
}

// New returns an Engine that dispatches over conn, using timeout (or
// DefaultTimeout if zero) per invocation.
func New(conn Conn, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{conn: conn, timeout: timeout, streams: stream.NewTable()}
}

// Streams exposes the engine's stream table so an ipc.Handlers value can
// route stream_chunk/stream_end envelopes into it.
func (e *Engine) Streams() *stream.Table { return e.streams }

// Handler returns a handler typed against the local Ctx interface (which
// *zap.Ctx satisfies; cli's scriptHandler adapts it to a zap.Handler) that
// proxies requests matched against handlerID to the script runtime.
func (e *Engine) Handler(handlerID string) func(c Ctx) error {
	return func(c Ctx) error {
		req, err := e.buildRequest(c)
		if err != nil {
			return err
		}

		resp, err := e.conn.InvokeHandler(c.Context(), &proto.InvokeHandler{
			Type:      proto.TypeInvokeHandler,
			HandlerID: handlerID,
			Request:   req,
		}, e.timeout)
		if err != nil {
			return err
		}

		if resp.Status == proto.StreamingStatus {
			return e.pumpStream(c, req.RequestID)
		}

		for k, vs := range resp.Headers {
			for _, v := range vs {
				c.Writer().Header().Add(k, v)
			}
		}
		c.Writer().WriteHeader(resp.Status)
		_, writeErr := c.Writer().Write([]byte(resp.Body))
		return writeErr
	}
}

func (e *Engine) pumpStream(c Ctx, requestID string) error {
	start, chunks, err := e.streams.Await(requestID, e.timeout)
	if err != nil {
		return err
	}
	for k, vs := range start.Headers {
		for _, v := range vs {
			c.Writer().Header().Add(k, v)
		}
	}
	c.Writer().WriteHeader(start.Status)
	flusher, _ := c.Writer().(http.Flusher)

	for chunk := range chunks {
		if _, werr := c.Writer().Write(chunk); werr != nil {
			e.streams.Cancel(requestID)
			return werr
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

// Ctx is the subset of *zap.Ctx the dispatch engine needs. Defined as an
// interface so the engine can be driven by *zap.Ctx in production and by a
// lightweight fake in tests.
type Ctx interface {
	Request() *http.Request
	Writer() http.ResponseWriter
	Params() map[string]string
	Context() context.Context
}

// buildRequest reads the full body into the proto.Request the script side
// expects. A body truncated by the zap.BodyLimit middleware's
// http.MaxBytesReader surfaces here as an io.ReadAll error; the caller
// returns it unwrapped so the router's error handler (StatusFor) maps it
// to 413.
func (e *Engine) buildRequest(c Ctx) (proto.Request, error) {
	r := c.Request()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return proto.Request{}, err
	}

	cookies := make(map[string]string, len(r.Cookies()))
	for _, ck := range r.Cookies() {
		cookies[ck.Name] = ck.Value
	}

	return proto.Request{
		RequestID: uuid.NewString(),
		Method:    r.Method,
		Path:      r.URL.Path,
		PathOnly:  r.URL.Path,
		Query:     map[string][]string(r.URL.Query()),
		Params:    c.Params(),
		Headers:   map[string][]string(r.Header),
		Body:      string(body),
		Cookies:   cookies,
	}, nil
}
