// Package supervisor spawns and watches the native binary on behalf of
// the script-runtime process (spec §4.9): it owns the child's lifecycle,
// listens on the socket the child dials into, probes it for liveness, and
// drains it on shutdown.
package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zapjs/zap/ipc"
	"github.com/zapjs/zap/proto"
)

func healthCheckEnvelope() *proto.HealthCheck {
	return &proto.HealthCheck{Type: proto.TypeHealthCheck}
}

const (
	// healthCheckInterval is how often a health_check frame is sent down
	// the IPC connection while the child is believed healthy.
	healthCheckInterval = 5 * time.Second
	// sigtermGrace is how long the child is given to exit after SIGTERM
	// before the supervisor escalates to SIGKILL (spec §4.9).
	sigtermGrace = 5 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	// BinaryPath is the native binary to spawn.
	BinaryPath string
	// ConfigPath is passed to the child as --config.
	ConfigPath string
	// LogLevel is passed to the child as --log-level. Empty omits the flag.
	LogLevel string
	// SocketDir is the directory the per-session socket path is created
	// under (spec §9: always per-session, never the legacy fixed path).
	SocketDir string

	Logger *slog.Logger
}

// Supervisor owns one spawned native-process child plus the IPC
// connection it multiplexes over.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	socketPath string
}

// New returns a Supervisor that has not yet spawned its child.
func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{opts: opts, log: log}
}

// socketPathFor derives a per-session unique socket path under dir (spec
// §9's open-question resolution: the fixed /tmp/zap.sock path seen
// alongside per-session paths in the source is legacy and must not be
// used).
func socketPathFor(dir string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	name := fmt.Sprintf("zap-%d-%s.sock", os.Getpid(), hex.EncodeToString(buf[:]))
	return filepath.Join(dir, name), nil
}

// Run listens on a fresh per-session socket path (spec §2: "S listens, N
// dials back as client"), spawns the native child pointed at that path,
// accepts its one incoming connection, and blocks serving the resulting
// multiplexed connection with handlers until ctx is canceled or the
// child/connection fails.
func (s *Supervisor) Run(ctx context.Context, handlers ipc.Handlers) error {
	socketPath, err := socketPathFor(s.opts.SocketDir)
	if err != nil {
		return fmt.Errorf("supervisor: derive socket path: %w", err)
	}
	s.socketPath = socketPath
	_ = os.Remove(socketPath) // stale socket from a prior crashed run (spec §6)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("supervisor: listen on %s: %w", socketPath, err)
	}
	defer ln.Close()

	g, gctx := errgroup.WithContext(ctx)

	cmd, err := s.spawn(gctx, socketPath)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return s.watch(gctx, cmd)
	})
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	rw, err := acceptOne(gctx, ln)
	if err != nil {
		return fmt.Errorf("supervisor: accept native connection on %s: %w", socketPath, err)
	}
	conn := ipc.NewConn(rw, 0, handlers)

	g.Go(func() error {
		return conn.Serve(gctx)
	})
	g.Go(func() error {
		return s.healthLoop(gctx, conn)
	})

	return g.Wait()
}

// acceptOne blocks for the native child's single incoming connection, or
// fails if ctx is canceled first (Run's ctx-triggered ln.Close is what
// unblocks Accept in that case).
func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	out := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		out <- result{conn, err}
	}()
	select {
	case r := <-out:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) spawn(ctx context.Context, socketPath string) (*exec.Cmd, error) {
	args := []string{"--config", s.opts.ConfigPath, "--socket", socketPath}
	if s.opts.LogLevel != "" {
		args = append(args, "--log-level", s.opts.LogLevel)
	}

	cmd := exec.CommandContext(ctx, s.opts.BinaryPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return terminate(cmd.Process)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: spawn native process: %w", err)
	}
	s.log.Info("native process spawned", slog.Int("pid", cmd.Process.Pid), slog.String("socket", socketPath))
	return cmd, nil
}

// watch waits for the child to exit. If ctx was canceled first, the exit
// is expected (graceful shutdown); otherwise it is reported as a failure
// so the caller's errgroup tears the whole supervisor down.
func (s *Supervisor) watch(ctx context.Context, cmd *exec.Cmd) error {
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return fmt.Errorf("supervisor: native process exited: %w", waitErr)
	}
	return errors.New("supervisor: native process exited unexpectedly")
}

// healthLoop pings the child over the IPC connection and stops (letting
// the errgroup cancel the run) once the connection closes.
func (s *Supervisor) healthLoop(ctx context.Context, conn *ipc.Conn) error {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return errors.New("supervisor: ipc connection closed")
		case <-ticker.C:
			// Best-effort liveness signal; a failed send means the
			// transport is already broken and the conn.Serve read loop
			// will observe it on its next read.
			_ = conn.Send(healthCheckEnvelope())
		}
	}
}

// Shutdown drains the child gracefully: a termination request, a grace
// period, then a hard kill if it hasn't exited (spec §4.9).
func Shutdown(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := terminate(cmd.Process); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(sigtermGrace):
		_ = cmd.Process.Kill()
		return <-done
	}
}
