package middleware

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"net/http"
	"strings"

	"github.com/zapjs/zap"
)

// CompressOptions configures response compression (spec §4.4's
// "compression" middleware chain member).
type CompressOptions struct {
	// MinSize is the smallest response body, in bytes, worth compressing.
	MinSize int
	// ContentTypes restricts compression to these Content-Type prefixes;
	// empty means every type is eligible.
	ContentTypes []string
	// Level is the gzip compression level; 0 uses gzip.DefaultCompression.
	Level int
}

const defaultMinSize = 256

// New returns compression middleware that buffers the handler's body,
// gzip- or deflate-encodes it when both the client and the response
// qualify, and writes the original body unmodified otherwise.
func New(opts CompressOptions) zap.Middleware {
	if opts.MinSize <= 0 {
		opts.MinSize = defaultMinSize
	}
	level := opts.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	return func(next zap.Handler) zap.Handler {
		return func(c *zap.Ctx) error {
			enc := negotiate(c.GetHeader("Accept-Encoding"))

			buf := &bufferWriter{header: make(http.Header), body: &bytes.Buffer{}, status: http.StatusOK}
			orig := c.Writer()
			c.SetWriter(buf)
			err := next(c)
			c.SetWriter(orig)
			if err != nil {
				return err
			}

			orig.Header().Add("Vary", "Accept-Encoding")
			for k, vs := range buf.Header() {
				if k == "Content-Length" {
					continue
				}
				for _, v := range vs {
					orig.Header().Add(k, v)
				}
			}

			if enc == "" || buf.body.Len() < opts.MinSize || buf.Header().Get("Content-Encoding") != "" || !compressible(opts.ContentTypes, buf.Header().Get("Content-Type")) {
				orig.WriteHeader(buf.status)
				_, werr := orig.Write(buf.body.Bytes())
				return werr
			}

			orig.Header().Set("Content-Encoding", enc)
			orig.WriteHeader(buf.status)

			switch enc {
			case "gzip":
				gw, _ := gzip.NewWriterLevel(orig, level)
				_, werr := gw.Write(buf.body.Bytes())
				if werr != nil {
					return werr
				}
				return gw.Close()
			case "deflate":
				fw, _ := flate.NewWriter(orig, level)
				_, werr := fw.Write(buf.body.Bytes())
				if werr != nil {
					return werr
				}
				return fw.Close()
			}
			_, werr := orig.Write(buf.body.Bytes())
			return werr
		}
	}
}

// Gzip returns compression middleware using gzip's default level.
func Gzip() zap.Middleware { return New(CompressOptions{}) }

// GzipLevel returns gzip compression middleware at an explicit level.
func GzipLevel(level int) zap.Middleware { return New(CompressOptions{Level: level}) }

// Deflate returns the same default compression middleware as Gzip. It
// negotiates against the request's Accept-Encoding and picks gzip whenever
// the client advertises it; deflate is used only for clients that
// advertise deflate without gzip.
func Deflate() zap.Middleware { return New(CompressOptions{}) }

func negotiate(acceptEncoding string) string {
	lower := strings.ToLower(acceptEncoding)
	hasGzip := strings.Contains(lower, "gzip")
	hasDeflate := strings.Contains(lower, "deflate")
	switch {
	case hasGzip:
		return "gzip"
	case hasDeflate:
		return "deflate"
	default:
		return ""
	}
}

func compressible(allowed []string, contentType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.HasPrefix(contentType, a) {
			return true
		}
	}
	return false
}

// bufferWriter captures a handler's output — headers and body alike — so
// New can decide whether and how to encode it before anything reaches the
// real ResponseWriter.
type bufferWriter struct {
	header      http.Header
	body        *bytes.Buffer
	status      int
	wroteHeader bool
}

func (b *bufferWriter) Header() http.Header { return b.header }

func (b *bufferWriter) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = status
}

func (b *bufferWriter) Write(p []byte) (int, error) {
	return b.body.Write(p)
}
