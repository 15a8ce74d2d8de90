package httpparse

import "testing"

func TestParse_RequestLineAndHeaders(t *testing.T) {
	raw := "GET /users/42?verbose=1 HTTP/1.1\r\nHost: example.com\r\nX-Trace-Id: abc\r\n\r\nbody-follows"
	h, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(h.Method) != "GET" {
		t.Fatalf("method = %q", h.Method)
	}
	if string(h.Path) != "/users/42" || string(h.Query) != "verbose=1" {
		t.Fatalf("path=%q query=%q", h.Path, h.Query)
	}
	if string(h.Version) != "HTTP/1.1" {
		t.Fatalf("version = %q", h.Version)
	}
	if v := h.Get("host"); string(v) != "example.com" {
		t.Fatalf("Host = %q", v)
	}
	if v := h.Get("x-trace-id"); string(v) != "abc" {
		t.Fatalf("X-Trace-Id = %q", v)
	}
	if raw[h.BodyOffset:] != "body-follows" {
		t.Fatalf("BodyOffset pointed at %q", raw[h.BodyOffset:])
	}
}

func TestParse_MissingBlankLineIsMalformed(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n"
	_, err := Parse([]byte(raw))
	var pe *Error
	if err == nil {
		t.Fatal("expected error")
	}
	if !asError(err, &pe) || pe.Kind != MalformedHeaders {
		t.Fatalf("got %v", err)
	}
}

func TestParse_EmptyMethodIsBadMethod(t *testing.T) {
	raw := " / HTTP/1.1\r\n\r\n"
	_, err := Parse([]byte(raw))
	var pe *Error
	if !asError(err, &pe) || pe.Kind != BadMethod {
		t.Fatalf("got %v", err)
	}
}

func TestParse_MalformedHeaderLineNoColon(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nbroken-header-line\r\n\r\n"
	_, err := Parse([]byte(raw))
	var pe *Error
	if !asError(err, &pe) || pe.Kind != MalformedHeaders {
		t.Fatalf("got %v", err)
	}
}

func TestParse_TooManyHeadersIsHeaderTooLarge(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n"
	for i := 0; i < maxHeaderCount+1; i++ {
		raw += "X-Pad: 1\r\n"
	}
	raw += "\r\n"
	_, err := Parse([]byte(raw))
	var pe *Error
	if !asError(err, &pe) || pe.Kind != HeaderTooLarge {
		t.Fatalf("got %v", err)
	}
}

func TestParse_NoQueryString(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\n\r\n"
	h, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(h.Path) != "/submit" || h.Query != nil {
		t.Fatalf("path=%q query=%q", h.Path, h.Query)
	}
}

func asError(err error, target **Error) bool {
	pe, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = pe
	return true
}
