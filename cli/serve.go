package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	zap "github.com/zapjs/zap"
	"github.com/zapjs/zap/config"
	"github.com/zapjs/zap/dispatch"
	"github.com/zapjs/zap/frame"
	"github.com/zapjs/zap/internal/metrics"
	"github.com/zapjs/zap/ipc"
	mw "github.com/zapjs/zap/middleware"
	"github.com/zapjs/zap/proto"
	"github.com/zapjs/zap/ws"
)

// dialRetryWindow bounds how long zapd retries dialing the IPC socket
// before giving up. The listener is normally already open by the time the
// supervisor spawns this process (spec §2: "S listens, N dials back as
// client"), but a short retry window tolerates scheduler jitter on a
// loaded host instead of failing on the first ECONNREFUSED.
const dialRetryWindow = 5 * time.Second

// ipcLink resolves to the *ipc.Conn once it exists. dispatch.Engine and
// ws.Table both need something satisfying their respective Send/Invoke
// interfaces at construction time, but the Conn itself needs their
// callbacks (Engine.Streams, wsTable.Send/Close) to build its Handlers —
// three packages each finish the other before any of them can be
// constructed outright. ipcLink breaks the cycle with one indirection
// instead of restructuring any of the three.
type ipcLink struct {
	conn *ipc.Conn
}

func (l *ipcLink) Send(v any) error {
	if l.conn == nil {
		return errors.New("zapd: ipc connection not ready")
	}
	return l.conn.Send(v)
}

func (l *ipcLink) InvokeHandler(ctx context.Context, req *proto.InvokeHandler, timeout time.Duration) (*proto.HandlerResponse, error) {
	if l.conn == nil {
		return nil, errors.New("zapd: ipc connection not ready")
	}
	return l.conn.InvokeHandler(ctx, req, timeout)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		printErr(fmt.Sprintf("load config: %v", err))
		return err
	}
	if flags.port != 0 {
		cfg.Port = flags.port
	}
	if flags.hostname != "" {
		cfg.Hostname = flags.hostname
	}

	log := newLogger(flags.logLevel)
	slog.SetDefault(log)

	rw, err := dialIPC(ctx, flags.socketPath)
	if err != nil {
		printErr(fmt.Sprintf("dial ipc socket %s: %v", flags.socketPath, err))
		return err
	}
	log.Info("dialed ipc socket", slog.String("path", flags.socketPath))

	registry := metrics.NewRegistry()
	app := zap.New(zap.WithLogger(log))

	link := &ipcLink{}
	engine := dispatch.New(link, cfg.RequestTimeout())
	wsTable := ws.NewTable(link)
	rpcDispatch := dispatch.NewRPCDispatch()

	handlers := ipc.Handlers{
		RPCCall:     func(_ context.Context, call *proto.RPCCall) { rpcDispatch.Handle(link, call) },
		StreamStart: engine.Streams().Start,
		StreamChunk: engine.Streams().Chunk,
		StreamEnd:   engine.Streams().End,
		WSSend:      wsTable.Send,
		WSClose:     wsTable.Close,
		HealthCheck: func() *proto.HealthCheckResponse { return &proto.HealthCheckResponse{} },
	}
	link.conn = ipc.NewConn(rw, protocolForm(cfg.Protocol), handlers)

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	installMiddleware(app, cfg, registry)
	installRoutes(app, cfg, engine, wsTable, upgrader)
	installOperationalEndpoints(app, cfg, registry)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := link.conn.Serve(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("ipc connection closed", slog.Any("error", err))
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return link.conn.Close()
	})
	g.Go(func() error {
		return serveHTTP(gctx, app, cfg)
	})

	return g.Wait()
}

// serveHTTP binds the configured port (scanning for a free one if the
// configured one is taken and cfg.PortPolicy says to) and runs the
// zero-copy raw HTTP intake loop (spec §4.3) against it — the parsing
// strategy the spec treats as a core piece of the design, not the stock
// net/http server. ServeRaw closes the listener and stops accepting once
// ctx is done; in-flight connections finish on their own, so shutdown is
// flagged to HealthzHandler immediately rather than gated behind a
// separate drain timer.
func serveHTTP(ctx context.Context, app *zap.App, cfg *config.Config) error {
	addr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))
	ln, boundAddr, err := listen(cfg, addr)
	if err != nil {
		printErr(fmt.Sprintf("bind %s: %v", addr, err))
		return err
	}

	banner(Version, boundAddr, flags.socketPath, len(cfg.Routes), len(cfg.StaticFiles))
	printOK("serving")

	go func() {
		<-ctx.Done()
		app.BeginShutdown()
	}()
	return app.ServeRaw(ctx, ln)
}

func protocolForm(protocol string) frame.Form {
	if strings.EqualFold(protocol, "text") {
		return frame.FormText
	}
	return frame.FormBinary
}

// dialIPC connects to the per-session socket the supervising script
// process already listens on (spec §2), retrying briefly to absorb
// startup scheduling jitter.
func dialIPC(ctx context.Context, path string) (net.Conn, error) {
	deadline := time.Now().Add(dialRetryWindow)
	var lastErr error
	for {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func newLogger(level string) *slog.Logger {
	if level == "" {
		if env := os.Getenv("ZAP_LOG"); env != "" {
			level = env
		}
	}
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if os.Getenv("ZAP_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// listen binds cfg's configured port, applying cfg.PortPolicy when it is
// already taken (spec §9's "document the choice explicitly" resolution).
// It returns the listener plus the address it actually bound, which may
// differ from addr under PortPolicyScan.
func listen(cfg *config.Config, addr string) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, addr, nil
	}
	if cfg.PortPolicy != config.PortPolicyScan {
		return nil, "", err
	}
	host, _, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		return nil, "", err
	}
	for port := cfg.Port + 1; port < cfg.Port+100; port++ {
		candidate := net.JoinHostPort(host, strconv.Itoa(port))
		if ln, scanErr := net.Listen("tcp", candidate); scanErr == nil {
			return ln, candidate, nil
		}
	}
	return nil, "", fmt.Errorf("zapd: no free port found scanning from %d: %w", cfg.Port, err)
}

func installMiddleware(app *zap.App, cfg *config.Config, registry *metrics.Registry) {
	app.Use(mw.RequestID())
	app.Use(zap.BodyLimit(cfg.MaxRequestBodySize))
	app.Use(func(next zap.Handler) zap.Handler {
		return func(c *zap.Ctx) error {
			registry.RequestsTotal.Inc()
			err := next(c)
			if err != nil {
				registry.ErrorsTotal.Inc()
				var ipcErr *zap.IpcError
				if errors.As(err, &ipcErr) && ipcErr.Kind == zap.IpcTimeout {
					registry.TimeoutsTotal.Inc()
				}
			}
			return err
		}
	})

	if cfg.Middleware.EnableLogging {
		app.Use(mw.RequestLog(app.Logger()))
	}
	if cfg.Middleware.EnableCORS {
		app.Use(mw.AllowAll())
	}
	if cfg.Middleware.EnableCompression {
		app.Use(mw.Gzip())
	}
}

func installOperationalEndpoints(app *zap.App, cfg *config.Config, registry *metrics.Registry) {
	app.Get(cfg.HealthCheckPath, wrapHTTP(app.HealthzHandler()))
	if cfg.MetricsPath != "" {
		app.Get(cfg.MetricsPath, wrapHTTP(registry.Handler()))
	}
}

func installRoutes(app *zap.App, cfg *config.Config, engine *dispatch.Engine, wsTable *ws.Table, upgrader *websocket.Upgrader) {
	for _, sf := range cfg.StaticFiles {
		mount := strings.TrimSuffix(sf.Prefix, "/")
		fileServer := http.StripPrefix(mount, http.FileServer(http.Dir(sf.Directory)))
		app.Get(mount+"/*filepath", wrapHTTP(fileServer))
		app.Head(mount+"/*filepath", wrapHTTP(fileServer))
	}

	for _, route := range cfg.Routes {
		switch route.Kind {
		case config.RouteKindWebSocket:
			app.Handle(route.Method, route.Path, wsUpgradeHandler(upgrader, wsTable, route.Path))
		default:
			if route.IsTypeScript {
				app.Handle(route.Method, route.Path, scriptHandler(engine, route.HandlerID))
			} else {
				app.Handle(route.Method, route.Path, nativePlaceholder(cfg, route))
			}
		}
	}
}

// scriptHandler adapts an Engine's proxy handler — typed against the
// dispatch.Ctx interface rather than *zap.Ctx — to a zap.Handler. *zap.Ctx already satisfies dispatch.Ctx; this is the call
// boundary conversion, not a behavioral shim.
func scriptHandler(engine *dispatch.Engine, handlerID string) zap.Handler {
	fn := engine.Handler(handlerID)
	return func(c *zap.Ctx) error { return fn(c) }
}

// nativePlaceholder backs a route declared is_typescript=false with no
// static_files mapping under it. zapd's config can only describe which
// routes are native, not what Go code should run for them: a compiled
// native handler has to be registered on the Router by the embedding
// program, and this generic binary only knows what the JSON file told
// it. A static mount that happens to cover the route's path is the one
// case the config alone can resolve; anything else is reported 501
// rather than silently 404ing like a routing miss would.
func nativePlaceholder(cfg *config.Config, route config.Route) zap.Handler {
	for _, sf := range cfg.StaticFiles {
		mount := strings.TrimSuffix(sf.Prefix, "/")
		if route.Path == mount || strings.HasPrefix(route.Path, mount+"/") {
			fileServer := http.StripPrefix(mount, http.FileServer(http.Dir(sf.Directory)))
			return wrapHTTP(fileServer)
		}
	}
	return func(c *zap.Ctx) error {
		return c.String(http.StatusNotImplemented, "no native handler registered for "+route.HandlerID)
	}
}

func wsUpgradeHandler(upgrader *websocket.Upgrader, table *ws.Table, path string) zap.Handler {
	return func(c *zap.Ctx) error {
		conn, err := upgrader.Upgrade(c.Writer(), c.Request(), nil)
		if err != nil {
			return err
		}
		table.Accept(conn, path, map[string][]string(c.Request().Header))
		return nil
	}
}

// wrapHTTP adapts a plain http.Handler into a zap.Handler, for the
// operational endpoints (health, metrics) and static file mounts that are
// naturally expressed against the standard library's handler interface.
func wrapHTTP(h http.Handler) zap.Handler {
	return func(c *zap.Ctx) error {
		h.ServeHTTP(c.Writer(), c.Request())
		return nil
	}
}
