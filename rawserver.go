package zap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zapjs/zap/httpparse"
)

// Raw-server tuning constants. idleTimeout bounds how long a kept-alive
// connection may sit between requests; headTimeout bounds how long the
// request line and headers may take to arrive once a connection is
// readable at all.
const (
	idleTimeout = 120 * time.Second
	headTimeout = 10 * time.Second
)

// ServeRaw runs the zero-copy HTTP/1.1 intake loop on l (spec §4.3):
// each connection's request head is parsed directly out of one
// contiguous buffer via httpparse, instead of delegating to net/http's
// own request reader, and dispatched through the same Router Listen/Serve
// use. It supports one in-flight request per connection (no pipelining),
// Content-Length-bounded request bodies, and chunked transfer encoding on
// the response side (needed by the streaming dispatch path, spec §4.8).
// Chunked *request* bodies are rejected with 400 — a documented
// limitation, not a spec requirement (spec's data model only requires a
// body byte range, which a chunked request body doesn't have until fully
// decoded).
func (a *App) ServeRaw(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go a.serveRawConn(ctx, conn)
	}
}

func (a *App) serveRawConn(ctx context.Context, conn net.Conn) {
	hijacked := false
	defer func() {
		if !hijacked {
			conn.Close()
		}
	}()
	br := bufio.NewReaderSize(conn, 4096)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		buf, err := readHead(br)
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(headTimeout))

		req, keepAliveHint, parseErr := a.buildRawRequest(ctx, buf, br, conn)
		if parseErr != nil {
			writeRawError(conn, StatusFor(parseErr))
			return
		}

		rw := newRawResponseWriter(conn, br, keepAliveHint)
		a.ServeHTTP(rw, req)
		if rw.hijacked {
			// The handler (a WebSocket upgrade) took the connection over
			// directly — ws.Table's read/write pumps now own it, so the
			// deferred close above must not also close it out from under
			// them.
			hijacked = true
			return
		}
		_ = rw.finish()

		// Drain whatever the handler left unread so the next request on
		// this connection starts at the right byte.
		_, _ = io.Copy(io.Discard, req.Body)

		if !rw.keepAlive {
			return
		}
	}
}

// readHead reads request-line-plus-headers from br one line at a time
// (the same blocking, per-line technique net/http's own textproto reader
// uses) into a single accumulating buffer — the "single contiguous read
// buffer" spec §3 describes — stopping at the blank line that terminates
// the head. The returned slice is owned by the caller; httpparse.Parse
// returns slices into it rather than copying.
func readHead(br *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		line, err := br.ReadSlice('\n')
		if len(line) > 0 {
			buf = append(buf, line...)
		}
		if err != nil {
			if err == bufio.ErrBufferFull {
				return nil, &ParseError{Kind: ParseHeaderTooLarge}
			}
			return nil, err
		}
		if len(line) == 2 && line[0] == '\r' && line[1] == '\n' {
			return buf, nil
		}
		if len(buf) > httpparse.MaxHeaderBytes {
			return nil, &ParseError{Kind: ParseHeaderTooLarge}
		}
	}
}

// wrapParseErr translates httpparse's own error taxonomy into the root
// package's ParseError/ParseKind (the layer StatusFor and friends know
// about). httpparse cannot return *ParseError itself without importing
// this package, which already imports httpparse.
func wrapParseErr(err error) error {
	var pe *httpparse.Error
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Kind {
	case httpparse.HeaderTooLarge:
		return &ParseError{Kind: ParseHeaderTooLarge}
	case httpparse.BadMethod:
		return &ParseError{Kind: ParseBadMethod}
	default:
		return &ParseError{Kind: ParseMalformedHeaders}
	}
}

func (a *App) buildRawRequest(ctx context.Context, buf []byte, br *bufio.Reader, conn net.Conn) (*http.Request, bool, error) {
	head, err := httpparse.Parse(buf)
	if err != nil {
		return nil, false, wrapParseErr(err)
	}

	if te := head.Get("Transfer-Encoding"); te != nil {
		return nil, false, &ParseError{Kind: ParseMalformedHeaders}
	}

	hdr := make(http.Header, len(head.Headers))
	for _, h := range head.Headers {
		k := http.CanonicalHeaderKey(string(h.Name))
		hdr[k] = append(hdr[k], string(h.Value))
	}

	contentLength := int64(0)
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, convErr := strconv.ParseInt(cl, 10, 64)
		if convErr != nil || n < 0 {
			return nil, false, &ParseError{Kind: ParseMalformedHeaders}
		}
		contentLength = n
	}

	var body io.ReadCloser = http.NoBody
	if contentLength > 0 {
		body = io.NopCloser(io.LimitReader(br, contentLength))
	}

	path := string(head.Path)
	requestURI := path
	if len(head.Query) > 0 {
		requestURI = path + "?" + string(head.Query)
	}

	u := &url.URL{Path: path, RawQuery: string(head.Query)}
	proto := string(head.Version)
	major, minor := protoVersion(proto)

	req := &http.Request{
		Method:        string(head.Method),
		URL:           u,
		RequestURI:    requestURI,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        hdr,
		Body:          body,
		ContentLength: contentLength,
		Host:          hdr.Get("Host"),
		RemoteAddr:    conn.RemoteAddr().String(),
	}
	req = req.WithContext(ctx)

	keepAlive := shouldKeepAlive(proto, hdr.Get("Connection"))
	return req, keepAlive, nil
}

func protoVersion(proto string) (int, int) {
	if proto == "HTTP/1.0" {
		return 1, 0
	}
	return 1, 1
}

func shouldKeepAlive(proto, connHeader string) bool {
	connHeader = strings.ToLower(connHeader)
	switch {
	case strings.Contains(connHeader, "close"):
		return false
	case strings.Contains(connHeader, "keep-alive"):
		return true
	default:
		return proto != "HTTP/1.0"
	}
}

// rawResponseWriter implements http.ResponseWriter (and http.Flusher, for
// the streaming dispatch path's chunked writes) directly over a buffered
// net.Conn, without constructing a net/http.response. It also implements
// http.Hijacker so the WebSocket upgrade path (gorilla/websocket's
// Upgrader.Upgrade requires one) can take the connection over directly.
type rawResponseWriter struct {
	conn        net.Conn
	br          *bufio.Reader
	bw          *bufio.Writer
	header      http.Header
	wroteHeader bool
	chunked     bool
	keepAlive   bool
	hijacked    bool
}

func newRawResponseWriter(conn net.Conn, br *bufio.Reader, keepAliveHint bool) *rawResponseWriter {
	return &rawResponseWriter{
		conn:      conn,
		br:        br,
		bw:        bufio.NewWriter(conn),
		header:    make(http.Header),
		keepAlive: keepAliveHint,
	}
}

func (w *rawResponseWriter) Header() http.Header { return w.header }

func (w *rawResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	if w.header.Get("Content-Length") == "" {
		w.chunked = true
		w.header.Set("Transfer-Encoding", "chunked")
	}
	if w.header.Get("Connection") == "" {
		if w.keepAlive {
			w.header.Set("Connection", "keep-alive")
		} else {
			w.header.Set("Connection", "close")
		}
	} else {
		w.keepAlive = strings.EqualFold(w.header.Get("Connection"), "keep-alive")
	}

	fmt.Fprintf(w.bw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	_ = w.header.Write(w.bw)
	_, _ = w.bw.WriteString("\r\n")
}

func (w *rawResponseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.chunked {
		fmt.Fprintf(w.bw, "%x\r\n", len(p))
		_, _ = w.bw.Write(p)
		_, _ = w.bw.WriteString("\r\n")
		return len(p), nil
	}
	return w.bw.Write(p)
}

// Flush implements http.Flusher so the streaming dispatch path
// (dispatch.Engine.pumpStream) can push each chunk onto the wire as it
// arrives rather than buffering the whole response.
func (w *rawResponseWriter) Flush() {
	_ = w.bw.Flush()
}

// Hijack implements http.Hijacker. The returned bufio.Reader is the same
// one the connection's request loop reads from, so bytes already
// buffered past the current request head (there shouldn't be any for a
// bare upgrade request, but a pipelining client could send some) are not
// lost to the new owner.
func (w *rawResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	if err := w.bw.Flush(); err != nil {
		return nil, nil, err
	}
	return w.conn, bufio.NewReadWriter(w.br, bufio.NewWriter(w.conn)), nil
}

func (w *rawResponseWriter) finish() error {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.chunked {
		_, _ = w.bw.WriteString("0\r\n\r\n")
	}
	return w.bw.Flush()
}

func writeRawError(conn net.Conn, status int) {
	body := http.StatusText(status)
	msg := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, body, len(body), body,
	)
	_, _ = io.Copy(conn, bytes.NewReader([]byte(msg)))
}

// ListenRawContext opens addr as a TCP listener and runs ServeRaw until
// ctx is canceled. It mirrors Listen/ServeContext's signal-driven
// counterparts but for the raw zero-copy intake path.
func (a *App) ListenRawContext(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.Logger().Info("raw listener starting", slog.String("addr", addr))
	return a.ServeRaw(ctx, l)
}
