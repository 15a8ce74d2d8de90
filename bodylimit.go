package zap

import "net/http"

// BodyLimit returns middleware enforcing maxBytes on every request body
// via http.MaxBytesReader (spec §7's ParseBodyTooLarge/413, driven by
// config.Config.MaxRequestBodySize). A read past the limit — whether from
// Ctx.Body/Bind or from dispatch.Engine reading the body to forward to the
// script runtime — fails with *http.MaxBytesError, which StatusFor maps to
// 413 directly.
func BodyLimit(maxBytes int64) Middleware {
	return func(next Handler) Handler {
		return func(c *Ctx) error {
			c.Request().Body = http.MaxBytesReader(c.Writer(), c.Request().Body, maxBytes)
			return next(c)
		}
	}
}
