// Package cli implements zapd's command surface: the native binary's
// --config/--socket/--port/--hostname/--log-level flags (spec §6), built
// with cobra the way the teacher's blueprint binaries are.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overwritten by the release build's linker flags; "dev"
// otherwise.
var Version = "dev"

var flags struct {
	configPath string
	socketPath string
	port       int
	hostname   string
	logLevel   string
}

// Execute builds the root command and runs it to completion or to a
// signal-triggered shutdown.
func Execute(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:     "zapd",
		Short:   "zapd - native transport and dispatch process for Zap",
		Version: fmt.Sprintf("zapd %s", Version),
		Long: `zapd terminates HTTP, matches routes against a compiled radix tree, and
proxies dynamic handlers to a companion scripting-runtime process over a
local multiplexed socket.

It is always spawned by that companion process (never run standalone in
production): the scripting runtime listens on a per-session socket path
first, then spawns zapd pointed at it, and zapd dials back in as the
IPC client.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.Flags().StringVar(&flags.configPath, "config", "", "path to the configuration file (required)")
	rootCmd.Flags().StringVar(&flags.socketPath, "socket", "", "path to the IPC socket to dial (required)")
	rootCmd.Flags().IntVar(&flags.port, "port", 0, "override the configured listen port")
	rootCmd.Flags().StringVar(&flags.hostname, "hostname", "", "override the configured listen hostname")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	_ = rootCmd.MarkFlagRequired("config")
	_ = rootCmd.MarkFlagRequired("socket")

	return rootCmd.ExecuteContext(ctx)
}
