// Package middleware holds the fixed pre-routing chain the native
// process installs from its configuration's middleware toggles (spec
// §4.4, §6: CORS, request logging, response compression, each selected
// at startup and never toggled per-request).
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zapjs/zap"
)

// Options configures CORS response headers (spec §4.4's "CORS preflight"
// middleware chain member).
type Options struct {
	// AllowOrigins lists exact origins to allow. "*" allows any origin.
	AllowOrigins []string
	// AllowOriginFunc, if set, decides per-request instead of AllowOrigins.
	AllowOriginFunc func(origin string) bool
	AllowMethods    []string
	AllowHeaders    []string
	ExposeHeaders   []string
	AllowCredentials bool
	AllowPrivateNetwork bool
	MaxAge time.Duration
}

// New returns CORS middleware configured by opts.
func New(opts Options) zap.Middleware {
	allowAll := false
	originSet := make(map[string]struct{}, len(opts.AllowOrigins))
	for _, o := range opts.AllowOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = struct{}{}
	}

	allowedOrigin := func(origin string) (string, bool) {
		if origin == "" {
			return "", false
		}
		if opts.AllowOriginFunc != nil {
			if opts.AllowOriginFunc(origin) {
				return origin, true
			}
			return "", false
		}
		if allowAll {
			if opts.AllowCredentials {
				return origin, true
			}
			return "*", true
		}
		if _, ok := originSet[origin]; ok {
			return origin, true
		}
		return "", false
	}

	methods := strings.Join(opts.AllowMethods, ", ")
	headers := strings.Join(opts.AllowHeaders, ", ")
	exposed := strings.Join(opts.ExposeHeaders, ", ")

	return func(next zap.Handler) zap.Handler {
		return func(c *zap.Ctx) error {
			origin := c.GetHeader("Origin")
			allowed, ok := allowedOrigin(origin)

			w := c.Writer()
			w.Header().Add("Vary", "Origin")

			if !ok {
				if c.Request().Method == http.MethodOptions {
					c.Writer().WriteHeader(http.StatusNoContent)
					return nil
				}
				return next(c)
			}

			w.Header().Set("Access-Control-Allow-Origin", allowed)
			if opts.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}

			if c.Request().Method != http.MethodOptions {
				return next(c)
			}

			if methods != "" {
				w.Header().Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			if opts.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(opts.MaxAge.Seconds())))
			}
			if opts.AllowPrivateNetwork && c.GetHeader("Access-Control-Request-Private-Network") == "true" {
				w.Header().Set("Access-Control-Allow-Private-Network", "true")
			}
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
	}
}

// AllowAll returns permissive CORS middleware suitable for development,
// wired when config.Middleware.EnableCORS is true with no further policy
// to express (spec §6's toggle carries no per-origin detail).
func AllowAll() zap.Middleware {
	return New(Options{AllowOrigins: []string{"*"}, AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}, AllowHeaders: []string{"*"}})
}

// WithOrigins returns CORS middleware allowing exactly the given origins.
func WithOrigins(origins ...string) zap.Middleware {
	return New(Options{AllowOrigins: origins})
}
