package zap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// ctxPool recycles Ctx values across requests the way nimbus's
// contextPool does, to keep the hot path allocation-free for routes that
// never touch path params or request-scoped values.
var ctxPool = sync.Pool{
	New: func() any { return &Ctx{} },
}

// Ctx carries one request/response pair through a handler chain, plus the
// path params the router extracted and a request-scoped value store for
// passing data between middleware and the handler (spec §4.2, §4.4).
type Ctx struct {
	w   http.ResponseWriter
	req *http.Request

	params     map[string]string
	queryCache url.Values
	values     map[string]any

	statusCode int
}

func newCtx(w http.ResponseWriter, req *http.Request) *Ctx {
	c := ctxPool.Get().(*Ctx)
	c.w = w
	c.req = req
	return c
}

func releaseCtx(c *Ctx) {
	c.w = nil
	c.req = nil
	c.statusCode = 0
	if c.params != nil {
		if len(c.params) > 8 {
			c.params = nil
		} else {
			clear(c.params)
		}
	}
	c.queryCache = nil
	if c.values != nil {
		if len(c.values) > 8 {
			c.values = nil
		} else {
			clear(c.values)
		}
	}
	ctxPool.Put(c)
}

// Writer returns the underlying http.ResponseWriter.
func (c *Ctx) Writer() http.ResponseWriter { return c.w }

// SetWriter replaces the response writer a handler chain writes to,
// letting middleware like compression interpose a buffering wrapper
// around the rest of the chain without the handler itself knowing.
func (c *Ctx) SetWriter(w http.ResponseWriter) { c.w = w }

// Request returns the underlying *http.Request.
func (c *Ctx) Request() *http.Request { return c.req }

// Context returns the request's context.Context, for cancellation,
// deadlines, and tracing (spec §4.4: a dispatched request's context
// governs how long the native side will wait on the script round trip).
func (c *Ctx) Context() context.Context { return c.req.Context() }

// Param returns the path parameter extracted by the router for name, or
// "" if the matched route carries no such parameter.
func (c *Ctx) Param(name string) string {
	if c.params == nil {
		return ""
	}
	return c.params[name]
}

// Params returns every path parameter the router extracted for the
// matched route. The returned map is owned by the caller.
func (c *Ctx) Params() map[string]string {
	params := make(map[string]string, len(c.params))
	for k, v := range c.params {
		params[k] = v
	}
	return params
}

// Query returns a URL query parameter, parsing and caching the query
// string on first access (mirrors nimbus's Context.Query).
func (c *Ctx) Query(name string) string {
	if c.queryCache == nil {
		c.queryCache = c.req.URL.Query()
	}
	return c.queryCache.Get(name)
}

// Header sets a response header.
func (c *Ctx) Header(key, value string) { c.w.Header().Set(key, value) }

// GetHeader returns a request header.
func (c *Ctx) GetHeader(key string) string { return c.req.Header.Get(key) }

// Set stores a request-scoped value, lazily allocating the backing map.
func (c *Ctx) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any, 8)
	}
	c.values[key] = value
}

// Get retrieves a request-scoped value set earlier in the chain.
func (c *Ctx) Get(key string) (any, bool) {
	if c.values == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Body reads and returns the full request body.
func (c *Ctx) Body() ([]byte, error) { return io.ReadAll(c.req.Body) }

// Bind decodes the request body as JSON into v.
func (c *Ctx) Bind(v any) error {
	return json.NewDecoder(c.req.Body).Decode(v)
}

// Status returns the status code recorded by the Ctx's response helpers
// (JSON, String, and the like), for access by logging middleware running
// after the handler returns. Writes made directly through Writer() are not
// recorded.
func (c *Ctx) Status() int { return c.statusCode }

// JSON writes data as a JSON response with the given status code.
func (c *Ctx) JSON(status int, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Data(status, "application/json; charset=utf-8", body)
}

// String writes a plain-text response.
func (c *Ctx) String(status int, s string) error {
	return c.Data(status, "text/plain; charset=utf-8", []byte(s))
}

// HTML writes an HTML response.
func (c *Ctx) HTML(status int, html string) error {
	return c.Data(status, "text/html; charset=utf-8", []byte(html))
}

// Data writes status and body with the given content type.
func (c *Ctx) Data(status int, contentType string, body []byte) error {
	c.statusCode = status
	c.w.Header().Set("Content-Type", contentType)
	c.w.WriteHeader(status)
	_, err := c.w.Write(body)
	return err
}

// Redirect writes an HTTP redirect to location.
func (c *Ctx) Redirect(status int, location string) {
	c.statusCode = status
	http.Redirect(c.w, c.req, location, status)
}
