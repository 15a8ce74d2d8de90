package middleware

import (
	"github.com/google/uuid"

	"github.com/zapjs/zap"
)

// RequestIDHeader is the response header every HTTP response carries for
// post-hoc log correlation (spec §7), regardless of whether the route is
// native or proxied to the script runtime.
const RequestIDHeader = "X-Request-Id"

// RequestID returns middleware that stamps every response with a
// generated correlation id before the handler chain runs, so the id is
// available to a client even on early error returns. Unlike the other
// middleware in this package it is not gated by a config toggle: spec §7
// says HTTP responses "always include" the header.
func RequestID() zap.Middleware {
	return func(next zap.Handler) zap.Handler {
		return func(c *zap.Ctx) error {
			id := uuid.NewString()
			c.Header(RequestIDHeader, id)
			c.Set("request_id", id)
			return next(c)
		}
	}
}
