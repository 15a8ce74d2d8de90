//go:build windows

package zap

import (
	"context"
	"net/http"
)

func (a *App) serveWithSignals(srv *http.Server, serveFn func() error) error {
	// Signals are not reliably injectable on Windows; run under a plain
	// background context instead.
	return a.ServeContext(context.Background(), srv, serveFn)
}
