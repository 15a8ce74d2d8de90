// Command zapd is the native half of Zap's hybrid HTTP framework: it
// terminates HTTP, matches routes against a compiled radix tree, and
// proxies dynamic handlers to a companion scripting-runtime process over
// a local multiplexed socket (spec §2). It is always spawned by that
// companion process via the supervisor package; running it directly is
// only useful for local debugging against a hand-built socket peer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/zapjs/zap/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
