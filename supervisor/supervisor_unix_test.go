//go:build !windows

package supervisor

import (
	"os/exec"
	"testing"
	"time"
)

func TestShutdown_TerminatesGracefully(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- Shutdown(cmd) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a non-nil wait error from a signal-terminated process")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return promptly after SIGTERM")
	}
}
