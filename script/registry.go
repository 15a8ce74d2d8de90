// Package script implements the script-runtime (S) side of the split:
// a handler registry keyed by handler_id, a WebSocket callback table keyed
// by connection_id, and a reverse RPC client for calling back into the
// native process (spec §4.6, §4.7).
package script

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zapjs/zap/proto"
)

// HandlerFunc is a registered script handler. It receives the decoded
// request and returns whatever value the handler body produced; Dispatch
// normalizes that value into a HandlerResponse per spec §4.6 rather than
// forcing every handler to build the wire shape itself. A handler that
// wants to control status/headers directly returns a *proto.HandlerResponse
// (or proto.HandlerResponse) and gets it passed through unchanged; an
// async-iterable return shape is instead modeled as a separate
// registration kind (RegisterStream/StreamFunc), since Go has no one type
// that is sometimes a value and sometimes a channel.
type HandlerFunc func(ctx context.Context, req *proto.Request) (any, error)

// WSHandler receives inbound WebSocket events for connections accepted on
// a registered path.
type WSHandler struct {
	OnConnect func(ctx context.Context, connectionID string, msg *proto.WSConnect)
	OnMessage func(ctx context.Context, connectionID string, msg *proto.WSMessage)
	OnClose   func(ctx context.Context, connectionID string, msg *proto.WSClose)
}

// StreamFunc is a registered script handler that answers with a lazy
// finite sequence of chunks instead of a single buffered body (spec §4.6's
// async-iterable return shape, §4.8). It returns the response head
// immediately; the runtime forwards each value read off chunks as a
// stream_chunk frame until the channel closes, then sends stream_end.
// ctx is the runtime's IPC serve context: it is canceled when the IPC
// connection shuts down, not when the HTTP client disconnects (the native
// side drops a disconnected client's stream locally without telling the
// script side). A producer observing ctx's cancellation should stop
// sending and close chunks.
type StreamFunc func(ctx context.Context, req *proto.Request) (status int, headers map[string][]string, chunks <-chan []byte, err error)

// Registry holds every handler_id → HandlerFunc/StreamFunc registration
// and tracks which WSHandler owns each live connection_id so inbound
// ws_message/ws_close envelopes reach the right callback without the
// script runtime repeating the path match that the native router already
// did.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	streams  map[string]StreamFunc
	wsByPath map[string]*WSHandler
	wsByConn map[string]*WSHandler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		streams:  make(map[string]StreamFunc),
		wsByPath: make(map[string]*WSHandler),
		wsByConn: make(map[string]*WSHandler),
	}
}

// Register installs fn under handlerID, replacing any previous
// registration.
func (r *Registry) Register(handlerID string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerID] = fn
	delete(r.streams, handlerID)
}

// RegisterStream installs fn as handlerID's streaming handler, replacing
// any previous registration of either kind. A handler_id registered here
// takes priority over one registered via Register.
func (r *Registry) RegisterStream(handlerID string, fn StreamFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[handlerID] = fn
	delete(r.handlers, handlerID)
}

// streamFunc reports whether handlerID was registered via RegisterStream.
func (r *Registry) streamFunc(handlerID string) (StreamFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.streams[handlerID]
	return fn, ok
}

// RegisterWS installs h as the WebSocket callback set for connections
// upgraded on path.
func (r *Registry) RegisterWS(path string, h *WSHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wsByPath[path] = h
}

// Dispatch runs the handler named by env.HandlerID and normalizes its
// outcome into a HandlerResponse. A missing handler or a handler error
// both become a 500 response rather than a transport-level failure, since
// the native side always expects a correlated HandlerResponse back.
func (r *Registry) Dispatch(ctx context.Context, env *proto.InvokeHandler) *proto.HandlerResponse {
	r.mu.Lock()
	fn, ok := r.handlers[env.HandlerID]
	r.mu.Unlock()

	if !ok {
		return errorResponse(env, 500, "no handler registered for "+env.HandlerID)
	}

	result, err := fn(ctx, &env.Request)
	if err != nil {
		return errorResponse(env, 500, err.Error())
	}
	return normalize(env, result)
}

// normalize implements spec §4.6's return-shape rules: a plain value is
// serialized as JSON, a string becomes a text/plain body, and a value
// already shaped like a HandlerResponse passes through untouched. It is
// the one place that knows the wire shape; fn itself never builds a
// HandlerResponse unless it wants to set status/headers explicitly.
func normalize(env *proto.InvokeHandler, result any) *proto.HandlerResponse {
	var resp *proto.HandlerResponse

	switch v := result.(type) {
	case *proto.HandlerResponse:
		resp = v
	case proto.HandlerResponse:
		resp = &v
	case string:
		resp = &proto.HandlerResponse{
			Status:  200,
			Headers: map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:    v,
		}
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return errorResponse(env, 500, "serializing handler result: "+err.Error())
		}
		resp = &proto.HandlerResponse{
			Status:  200,
			Headers: map[string][]string{"Content-Type": {"application/json"}},
			Body:    string(body),
		}
	}

	resp.Type = proto.TypeHandlerResponse
	resp.HandlerID = env.HandlerID
	resp.RequestID = env.Request.RequestID
	return resp
}

func errorResponse(env *proto.InvokeHandler, status int, message string) *proto.HandlerResponse {
	return &proto.HandlerResponse{
		Type:      proto.TypeHandlerResponse,
		HandlerID: env.HandlerID,
		RequestID: env.Request.RequestID,
		Status:    status,
		Headers:   map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:      message,
	}
}

// DispatchWSConnect binds connectionID to the WSHandler registered for
// path, if any, and invokes its OnConnect callback.
func (r *Registry) DispatchWSConnect(ctx context.Context, env *proto.WSConnect) {
	r.mu.Lock()
	h, ok := r.wsByPath[env.Path]
	if ok {
		r.wsByConn[env.ConnectionID] = h
	}
	r.mu.Unlock()

	if ok && h.OnConnect != nil {
		h.OnConnect(ctx, env.ConnectionID, env)
	}
}

// DispatchWSMessage routes an inbound ws_message to the handler bound to
// its connection_id, if one was established at connect time.
func (r *Registry) DispatchWSMessage(ctx context.Context, env *proto.WSMessage) {
	r.mu.Lock()
	h := r.wsByConn[env.ConnectionID]
	r.mu.Unlock()

	if h != nil && h.OnMessage != nil {
		h.OnMessage(ctx, env.ConnectionID, env)
	}
}

// DispatchWSClose routes an inbound ws_close and forgets the binding,
// since the connection_id will never be reused.
func (r *Registry) DispatchWSClose(ctx context.Context, env *proto.WSClose) {
	r.mu.Lock()
	h := r.wsByConn[env.ConnectionID]
	delete(r.wsByConn, env.ConnectionID)
	r.mu.Unlock()

	if h != nil && h.OnClose != nil {
		h.OnClose(ctx, env.ConnectionID, env)
	}
}
