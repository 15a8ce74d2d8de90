// Package zap implements the native-process half of a hybrid HTTP
// framework: it terminates HTTP, matches routes with a radix router, and
// proxies dynamic handlers across a multiplexed IPC stream to a companion
// scripting-runtime process. This file holds the Router, its route table,
// and request dispatch (spec §4.2, §4.4).
package zap

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Handler is a native-side request handler.
type Handler func(*Ctx) error

// Middleware wraps a Handler to produce another, composing outer-to-inner
// the way go-mizu's Router does: Use-registered middleware runs before
// the matched route's own handler.
type Middleware func(Handler) Handler

// ErrorHandlerFunc translates a Handler's returned error into a response.
type ErrorHandlerFunc func(*Ctx, error)

// Route is one registered method+pattern mapping, installed into the
// method's radix tree. IsIndex marks a route registered at a group's own
// prefix ("" or "/"). It is recorded on the Route only: tree search does
// not read it, so index routes get no extra matching priority.
type Route struct {
	Method  string
	Pattern string
	Handler Handler
	IsIndex bool
}

// table is one immutable snapshot of the full route set: one radix tree
// per HTTP method. Swapping the atomic.Pointer to a new table publishes
// route changes without locking concurrent readers out (spec §4.2).
type table struct {
	trees map[string]*tree
}

func newTable() *table {
	return &table{trees: make(map[string]*tree)}
}

// withRoute returns a new table with route installed, sharing every node
// not on the insertion path with the original (copy-on-write, spec §4.2).
func (t *table) withRoute(route *Route) *table {
	next := &table{trees: make(map[string]*tree, len(t.trees)+1)}
	for m, tr := range t.trees {
		next.trees[m] = tr
	}
	tr, ok := next.trees[route.Method]
	if !ok {
		tr = newTree()
	}
	next.trees[route.Method] = tr.insertWithCopy(route.Pattern, route)
	return next
}

func (t *table) match(method, path string) (*Route, map[string]string, bool) {
	tr, ok := t.trees[method]
	if !ok {
		return nil, nil, false
	}
	route, params := tr.search(path)
	if route == nil {
		return nil, nil, false
	}
	return route, params, true
}

// methodsFor reports which methods have a route registered for path,
// across every method tree, used to produce 405 Method Not Allowed
// instead of 404 when the path exists under a different verb.
func (t *table) methodsFor(path string) []string {
	var methods []string
	for m, tr := range t.trees {
		if route, _ := tr.search(path); route != nil {
			methods = append(methods, m)
		}
	}
	return methods
}

// Router matches incoming requests against an immutable, atomically
// published route table and dispatches to the matched Handler through the
// router's global middleware chain (spec §4.2, §4.4).
type Router struct {
	tbl atomic.Pointer[table]

	base       string
	middleware []Middleware
	errHandler ErrorHandlerFunc
	log        *slog.Logger

	mu sync.Mutex // serializes route installation only, never reads
}

// NewRouter returns an empty Router ready to register routes on.
func NewRouter() *Router {
	r := &Router{}
	r.tbl.Store(newTable())
	r.errHandler = defaultErrorHandler
	r.log = slog.Default()
	return r
}

// Logger returns the router's structured logger.
func (r *Router) Logger() *slog.Logger { return r.log }

// SetLogger overrides the router's structured logger.
func (r *Router) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

func defaultErrorHandler(c *Ctx, err error) {
	status := StatusFor(err)
	http.Error(c.Writer(), http.StatusText(status), status)
}

// ErrorHandler overrides how handler errors (including recovered panics,
// wrapped as *PanicError) are translated into a response.
func (r *Router) ErrorHandler(h ErrorHandlerFunc) {
	r.errHandler = h
}

// Use appends global middleware, run before every matched route's chain.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

func cleanLeading(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}

func joinPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	if p == "" || p == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	if p[0] != '/' {
		p = "/" + p
	}
	if base == "" {
		return p
	}
	return base + p
}

func (r *Router) fullPath(p string) string {
	return joinPath(r.base, cleanLeading(p))
}

func (r *Router) install(method, pattern string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := r.fullPath(pattern)
	route := &Route{Method: method, Pattern: full, Handler: h, IsIndex: full == "/" || full == r.base}
	r.tbl.Store(r.tbl.Load().withRoute(route))
}

// Get, Post, Put, Patch, Delete, and Head register pattern under their
// respective HTTP method at this router's current prefix.
func (r *Router) Get(pattern string, h Handler)    { r.install(http.MethodGet, pattern, h) }
func (r *Router) Post(pattern string, h Handler)   { r.install(http.MethodPost, pattern, h) }
func (r *Router) Put(pattern string, h Handler)    { r.install(http.MethodPut, pattern, h) }
func (r *Router) Patch(pattern string, h Handler)  { r.install(http.MethodPatch, pattern, h) }
func (r *Router) Delete(pattern string, h Handler) { r.install(http.MethodDelete, pattern, h) }
func (r *Router) Head(pattern string, h Handler)   { r.install(http.MethodHead, pattern, h) }

// Handle registers pattern under an explicit method, for verbs without a
// dedicated helper.
func (r *Router) Handle(method, pattern string, h Handler) { r.install(method, pattern, h) }

// Group is a Router view scoped to a path prefix and an extra layer of
// middleware, without its own route table: every Group shares the root
// Router's atomic table, so group registrations are visible the instant
// they're installed (spec §4.2).
type Group struct {
	root       *Router
	base       string
	middleware []Middleware
}

// Prefix returns a Group scoped under p, inheriting this router's base.
func (r *Router) Prefix(p string) *Group {
	return &Group{root: r, base: joinPath(r.base, cleanLeading(p))}
}

// Use appends middleware scoped to this group only.
func (g *Group) Use(mw ...Middleware) {
	g.middleware = append(g.middleware, mw...)
}

// With returns a child Group carrying additional scoped middleware,
// without mutating g.
func (g *Group) With(mw ...Middleware) *Group {
	next := &Group{root: g.root, base: g.base}
	next.middleware = append(next.middleware, g.middleware...)
	next.middleware = append(next.middleware, mw...)
	return next
}

// Prefix returns a child Group nested further under p.
func (g *Group) Prefix(p string) *Group {
	next := &Group{root: g.root, base: joinPath(g.base, cleanLeading(p))}
	next.middleware = append(next.middleware, g.middleware...)
	return next
}

func (g *Group) install(method, pattern string, h Handler) {
	full := joinPath(g.base, cleanLeading(pattern))
	wrapped := chain(h, g.middleware)
	g.root.mu.Lock()
	defer g.root.mu.Unlock()
	route := &Route{Method: method, Pattern: full, Handler: wrapped, IsIndex: full == "/" || full == g.base}
	g.root.tbl.Store(g.root.tbl.Load().withRoute(route))
}

func (g *Group) Get(pattern string, h Handler)    { g.install(http.MethodGet, pattern, h) }
func (g *Group) Post(pattern string, h Handler)   { g.install(http.MethodPost, pattern, h) }
func (g *Group) Put(pattern string, h Handler)    { g.install(http.MethodPut, pattern, h) }
func (g *Group) Patch(pattern string, h Handler)  { g.install(http.MethodPatch, pattern, h) }
func (g *Group) Delete(pattern string, h Handler) { g.install(http.MethodDelete, pattern, h) }
func (g *Group) Head(pattern string, h Handler)   { g.install(http.MethodHead, pattern, h) }

// chain wraps h with mw applied outer-to-inner: mw[0] runs first.
func chain(h Handler, mw []Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// ServeHTTP matches req against the live route table and runs the matched
// handler through the router's global middleware chain, recovering panics
// into *PanicError (spec §4.4).
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	c := newCtx(w, req)
	defer releaseCtx(c)

	tbl := r.tbl.Load()
	route, params, ok := tbl.match(req.Method, req.URL.Path)
	if !ok {
		if methods := tbl.methodsFor(req.URL.Path); len(methods) > 0 {
			r.handleError(c, &RoutingError{Kind: RoutingMethodNotAllowed, Path: req.URL.Path})
			return
		}
		r.handleError(c, &RoutingError{Kind: RoutingNotFound, Path: req.URL.Path})
		return
	}
	c.params = params

	h := chain(route.Handler, r.middleware)
	r.runSafely(c, h)
}

func (r *Router) runSafely(c *Ctx, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.handleError(c, newPanicError(rec))
		}
	}()
	if err := h(c); err != nil {
		r.handleError(c, err)
	}
}

func (r *Router) handleError(c *Ctx, err error) {
	r.errHandler(c, err)
}
