package zap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"
)

// App owns the HTTP server lifecycle for the native process and embeds
// Router. Graceful shutdown favors the standard library: App races the
// listener against a cancellable parent context and drains in place
// (spec §4.9's "native process owns its own HTTP listener lifecycle").
type App struct {
	*Router

	preShutdownDelay time.Duration
	shutdownTimeout  time.Duration

	shuttingDown atomic.Bool
	log          *slog.Logger
}

// AppOption configures an App at construction time.
type AppOption func(*App)

// WithLogger sets the App's structured logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithPreShutdownDelay sets how long to wait after flipping readiness and
// before beginning the drain, giving load balancers time to notice.
func WithPreShutdownDelay(d time.Duration) AppOption {
	return func(a *App) {
		if d >= 0 {
			a.preShutdownDelay = d
		}
	}
}

// WithShutdownTimeout bounds how long graceful drain may take before the
// App force-closes remaining connections.
func WithShutdownTimeout(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// New creates an App with conservative defaults.
func New(opts ...AppOption) *App {
	r := NewRouter()
	a := &App{
		Router:           r,
		preShutdownDelay: time.Second,
		shutdownTimeout:  15 * time.Second,
		log:              r.Logger(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	a.Router.SetLogger(a.log)
	return a
}

// Logger returns the app's structured logger.
func (a *App) Logger() *slog.Logger { return a.log }

// BeginShutdown flips the readiness flag HealthzHandler reports without
// itself touching any listener, for callers (like ServeRaw's caller) that
// own their own accept-loop cancellation instead of going through
// ServeContext.
func (a *App) BeginShutdown() { a.shuttingDown.Store(true) }

// HealthzHandler reports 200 with a small JSON body while serving, and
// 503 once shutdown begins (spec §6: health_check_path "returns 200 with
// a small JSON body").
func (a *App) HealthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if a.shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"status":"shutting_down"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
}

// Listen starts an HTTP server at addr and handles SIGINT/SIGTERM.
func (a *App) Listen(addr string) error {
	srv := &http.Server{Addr: addr, Handler: a}
	return a.serveWithSignals(srv, func() error { return srv.ListenAndServe() })
}

// Serve serves on a caller-provided listener and handles SIGINT/SIGTERM.
func (a *App) Serve(l net.Listener) error {
	srv := &http.Server{Addr: l.Addr().String(), Handler: a}
	return a.serveWithSignals(srv, func() error { return srv.Serve(l) })
}

// ServeContext runs srv until ctx is canceled, then drains gracefully.
func (a *App) ServeContext(ctx context.Context, srv *http.Server, serveFn func() error) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	log := a.Logger().With(
		slog.String("addr", srv.Addr),
		slog.Int("pid", os.Getpid()),
		slog.String("go_version", runtime.Version()),
	)
	log.Info("server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := serveFn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server start failed", slog.Any("error", err))
		}
		return err

	case <-ctx.Done():
		start := time.Now()
		a.shuttingDown.Store(true)
		log.Info("shutdown initiated")

		if a.preShutdownDelay > 0 {
			time.Sleep(a.preShutdownDelay)
		}

		drainCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(drainCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("graceful shutdown incomplete", slog.Any("error", err))
			_ = srv.Close()
			cancelBase()
		} else {
			cancelBase()
		}

		if err := <-errCh; err != nil {
			log.Error("server exit error after shutdown", slog.Any("error", err))
			return err
		}

		log.Info("server stopped gracefully", slog.Duration("duration", time.Since(start)))
		return nil
	}
}
