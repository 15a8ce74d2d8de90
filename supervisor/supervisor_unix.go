//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// terminate sends SIGTERM, giving the child a chance to drain in-flight
// invocations before the sigtermGrace deadline escalates to SIGKILL.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
