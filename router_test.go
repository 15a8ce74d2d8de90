package zap

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func mustReq(t *testing.T, method, target string, body io.Reader) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, target, body)
}

func ok(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func has(t *testing.T, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Fatalf("expected substring %q in %q", sub, s)
	}
}

func mwTap(name string, buf *[]string) Middleware {
	return func(next Handler) Handler {
		return func(c *Ctx) error {
			*buf = append(*buf, name)
			return next(c)
		}
	}
}

func TestJoinPathAndCleanLeading(t *testing.T) {
	ok(t, cleanLeading(""), "/")
	ok(t, cleanLeading("x"), "/x")
	ok(t, cleanLeading("/x"), "/x")

	ok(t, joinPath("", ""), "/")
	ok(t, joinPath("/api", "v1"), "/api/v1")
	ok(t, joinPath("/api/", "/v1/"), "/api/v1")
}

func TestServeHTTP_RunsGlobalChainAndRoutes(t *testing.T) {
	r := NewRouter()

	var order []string
	r.Use(mwTap("g1", &order), mwTap("g2", &order))
	r.Get("/ok", func(c *Ctx) error {
		order = append(order, "handler")
		return c.String(http.StatusOK, "hi")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, mustReq(t, http.MethodGet, "http://example/ok", nil))

	ok(t, rr.Code, http.StatusOK)
	ok(t, rr.Body.String(), "hi")

	joined := strings.Join(order, ",")
	has(t, joined, "g1")
	has(t, joined, "handler")
	if strings.Index(joined, "g1") > strings.Index(joined, "handler") {
		t.Fatalf("expected g1 before handler, got %v", order)
	}
}

func TestRadixRouter_StaticParamCatchAllPriority(t *testing.T) {
	r := NewRouter()
	r.Get("/users/me", func(c *Ctx) error { return c.String(200, "me") })
	r.Get("/users/:id", func(c *Ctx) error { return c.String(200, "id:"+c.Param("id")) })
	r.Get("/assets/*path", func(c *Ctx) error { return c.String(200, "asset:"+c.Param("path")) })

	cases := []struct{ path, want string }{
		{"/users/me", "me"},
		{"/users/42", "id:42"},
		{"/assets/css/app.css", "asset:/css/app.css"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, mustReq(t, http.MethodGet, "http://example"+tc.path, nil))
		ok(t, rr.Body.String(), tc.want)
	}
}

func TestRadixRouter_OptionalParam(t *testing.T) {
	r := NewRouter()
	r.Get("/items/:id?", func(c *Ctx) error {
		if id := c.Param("id"); id != "" {
			return c.String(200, "item:"+id)
		}
		return c.String(200, "all-items")
	})

	rr1 := httptest.NewRecorder()
	r.ServeHTTP(rr1, mustReq(t, http.MethodGet, "http://example/items", nil))
	ok(t, rr1.Body.String(), "all-items")

	rr2 := httptest.NewRecorder()
	r.ServeHTTP(rr2, mustReq(t, http.MethodGet, "http://example/items/7", nil))
	ok(t, rr2.Body.String(), "item:7")
}

func TestRouter_NotFoundVsMethodNotAllowed(t *testing.T) {
	r := NewRouter()
	r.Get("/only-get", func(c *Ctx) error { return c.String(200, "ok") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, mustReq(t, http.MethodPost, "http://example/only-get", nil))
	ok(t, rr.Code, http.StatusMethodNotAllowed)

	rr2 := httptest.NewRecorder()
	r.ServeHTTP(rr2, mustReq(t, http.MethodGet, "http://example/nope", nil))
	ok(t, rr2.Code, http.StatusNotFound)
}

func TestPrefix_Group_With_ScopedMiddleware(t *testing.T) {
	r := NewRouter()

	var got []string
	r.Use(mwTap("global", &got))

	api := r.Prefix("/api")
	apiV1 := api.With(mwTap("scoped", &got))
	apiV1.Get("/ping", func(c *Ctx) error {
		got = append(got, "handler")
		return c.String(200, "pong")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, mustReq(t, http.MethodGet, "http://example/api/ping", nil))
	ok(t, rr.Code, http.StatusOK)
	ok(t, rr.Body.String(), "pong")

	joined := strings.Join(got, ",")
	has(t, joined, "global")
	has(t, joined, "scoped")
	has(t, joined, "handler")
}

func TestErrorHandling_Default500(t *testing.T) {
	r := NewRouter()
	r.Get("/err", func(c *Ctx) error { return errors.New("boom") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, mustReq(t, http.MethodGet, "http://example/err", nil))
	ok(t, rr.Code, http.StatusInternalServerError)
}

func TestErrorHandling_CustomErrorHandler(t *testing.T) {
	r := NewRouter()

	var called atomic.Bool
	r.ErrorHandler(func(c *Ctx, err error) {
		called.Store(true)
		c.Writer().WriteHeader(499)
		_, _ = c.Writer().Write([]byte("custom"))
	})
	r.Get("/err", func(c *Ctx) error { return errors.New("x") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, mustReq(t, http.MethodGet, "http://example/err", nil))

	if !called.Load() {
		t.Fatal("expected error handler called")
	}
	ok(t, rr.Code, 499)
}

func TestPanicRecovery_CustomErrorHandlerReceivesPanicError(t *testing.T) {
	r := NewRouter()

	var saw atomic.Bool
	r.ErrorHandler(func(c *Ctx, err error) {
		var pe *PanicError
		if errors.As(err, &pe) && pe != nil && len(pe.Stack) > 0 {
			saw.Store(true)
		}
		c.Writer().WriteHeader(599)
	})
	r.Get("/panic", func(c *Ctx) error { panic("kaboom") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, mustReq(t, http.MethodGet, "http://example/panic", nil))

	if !saw.Load() {
		t.Fatal("expected PanicError with stack")
	}
	ok(t, rr.Code, 599)
}

func TestRouteTable_CopyOnWrite_DoesNotMutateInFlightSnapshot(t *testing.T) {
	r := NewRouter()
	r.Get("/a", func(c *Ctx) error { return c.String(200, "a") })
	snapshot := r.tbl.Load()

	r.Get("/b", func(c *Ctx) error { return c.String(200, "b") })

	if _, _, ok := snapshot.match(http.MethodGet, "/b"); ok {
		t.Fatal("earlier snapshot should not see a route installed after it was taken")
	}
	if _, _, ok := r.tbl.Load().match(http.MethodGet, "/b"); !ok {
		t.Fatal("current table should see the newly installed route")
	}
}
