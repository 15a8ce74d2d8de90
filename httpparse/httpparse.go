// Package httpparse parses an HTTP/1.1 request head from a single read
// buffer without copying (spec §4.3): method, path, and every header
// name/value are returned as slices into the caller's buffer, and the
// body is left as a byte-range rather than read eagerly.
package httpparse

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http/httpguts"
)

const (
	// MaxHeaderBytes bounds how much of buf the parser will scan looking
	// for the blank line terminating the head before giving up with
	// HeaderTooLarge.
	MaxHeaderBytes = 64 * 1024
	maxHeaderCount = 100
)

// Kind enumerates the reasons Parse can fail.
type Kind uint8

const (
	MalformedHeaders Kind = iota
	HeaderTooLarge
	BadMethod
)

func (k Kind) String() string {
	switch k {
	case MalformedHeaders:
		return "malformed_headers"
	case HeaderTooLarge:
		return "header_too_large"
	case BadMethod:
		return "bad_method"
	default:
		return "unknown"
	}
}

// Error reports why Parse rejected a request head. It carries no
// dependency on the root package: the root package imports httpparse
// (rawserver.go), so httpparse cannot import it back, and callers that
// need the root package's ParseError/ParseKind taxonomy (for StatusFor
// and friends) translate at the call site.
type Error struct {
	Kind Kind
}

func (e *Error) Error() string {
	return fmt.Sprintf("httpparse: %s", e.Kind)
}

// Header is one borrowed name/value pair from the request head.
type Header struct {
	Name  []byte
	Value []byte
}

// Head is the parsed request line and header block. Every field is a
// slice into the buffer passed to Parse; callers that need to retain a
// Head past the buffer's reuse (e.g. a pooled read buffer) must copy it.
type Head struct {
	Method  []byte
	Path    []byte
	Query   []byte
	Version []byte
	Headers []Header

	// BodyOffset is the index into the original buffer where the body
	// begins; the caller reads the rest from the connection.
	BodyOffset int
}

// Get returns the first header value matching name, compared
// case-insensitively, or nil if absent.
func (h *Head) Get(name string) []byte {
	for _, hd := range h.Headers {
		if asciiEqualFold(hd.Name, name) {
			return hd.Value
		}
	}
	return nil
}

func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		d := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if 'A' <= d && d <= 'Z' {
			d += 'a' - 'A'
		}
		if c != d {
			return false
		}
	}
	return true
}

// Parse parses the request line and headers at the start of buf. It does
// not require the body to be present in buf; BodyOffset marks where it
// would start. buf must contain at least the full head (request line
// through the blank line); callers are expected to grow their read buffer
// and retry if Parse returns MalformedHeaders because the head was
// truncated mid-buffer — Parse cannot distinguish "truncated" from
// "malformed" on its own, so that retry policy belongs to the caller.
func Parse(buf []byte) (*Head, error) {
	truncated := len(buf) > MaxHeaderBytes
	if truncated {
		buf = buf[:MaxHeaderBytes]
	}

	lineEnd := bytes.Index(buf, crlf)
	if lineEnd < 0 {
		if truncated {
			return nil, &Error{Kind: HeaderTooLarge}
		}
		return nil, &Error{Kind: MalformedHeaders}
	}
	requestLine := buf[:lineEnd]

	method, rest, ok := cutByte(requestLine, ' ')
	if !ok || len(method) == 0 || !isValidMethod(method) {
		return nil, &Error{Kind: BadMethod}
	}

	target, version, ok := cutByte(rest, ' ')
	if !ok || len(target) == 0 || len(version) == 0 {
		return nil, &Error{Kind: MalformedHeaders}
	}

	path, query := target, []byte(nil)
	if i := bytes.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	}

	h := &Head{Method: method, Path: path, Query: query, Version: version}

	offset := lineEnd + 2
	for {
		end := bytes.Index(buf[offset:], crlf)
		if end < 0 {
			if truncated {
				return nil, &Error{Kind: HeaderTooLarge}
			}
			return nil, &Error{Kind: MalformedHeaders}
		}
		if end == 0 {
			offset += 2
			break
		}
		line := buf[offset : offset+end]
		name, value, ok := cutByte(line, ':')
		if !ok || len(name) == 0 {
			return nil, &Error{Kind: MalformedHeaders}
		}
		value = bytes.TrimLeft(value, " \t")
		if !httpguts.ValidHeaderFieldName(string(name)) {
			return nil, &Error{Kind: MalformedHeaders}
		}
		if len(h.Headers) >= maxHeaderCount {
			return nil, &Error{Kind: HeaderTooLarge}
		}
		h.Headers = append(h.Headers, Header{Name: name, Value: value})
		offset += end + 2
	}

	h.BodyOffset = offset
	return h, nil
}

var crlf = []byte("\r\n")

func cutByte(b []byte, sep byte) (before, after []byte, found bool) {
	i := bytes.IndexByte(b, sep)
	if i < 0 {
		return b, nil, false
	}
	return b[:i], b[i+1:], true
}

func isValidMethod(m []byte) bool {
	for _, c := range m {
		if c <= ' ' || c == ':' {
			return false
		}
	}
	return true
}
