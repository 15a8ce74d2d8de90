package middleware

import (
	"log/slog"
	"time"

	"github.com/zapjs/zap"
)

// LogOptions configures request-logging middleware (spec §4.4's
// "logging" middleware chain member).
type LogOptions struct {
	Logger     *slog.Logger
	LogHeaders bool
	// Skip, if set, suppresses logging for requests it reports true for.
	Skip func(c *zap.Ctx) bool
}

// RequestLog returns middleware that logs one structured line per
// request through logger, the way the rest of this repo already logs
// (app.go/supervisor.go's slog.Logger, rather than a bespoke format
// string).
func RequestLog(logger *slog.Logger) zap.Middleware {
	return WithLogOptions(LogOptions{Logger: logger})
}

// WithLogOptions returns request-logging middleware configured by opts.
func WithLogOptions(opts LogOptions) zap.Middleware {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next zap.Handler) zap.Handler {
		return func(c *zap.Ctx) error {
			if opts.Skip != nil && opts.Skip(c) {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			attrs := []any{
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
				slog.Int("status", c.Status()),
				slog.Duration("duration", time.Since(start)),
			}
			if opts.LogHeaders {
				attrs = append(attrs, slog.Any("headers", c.Request().Header))
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
				logger.Error("request", attrs...)
			} else {
				logger.Info("request", attrs...)
			}
			return err
		}
	}
}
