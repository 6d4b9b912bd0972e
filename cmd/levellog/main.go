// Command levellog writes to and inspects level-ordered log files.
//
// Usage:
//
//	levellog write --level warn "disk almost full" "free=2%"
//	levellog dump --head 20 app.log
//	levellog check app.log
//	levellog segments app.log
//	levellog bench --writers 4 --entries 1000
//
// Settings come from --config (YAML), a .env file next to it and LEVELLOG_*
// environment variables.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupSlog(verbose bool) {
	lvl := slog.LevelWarn
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
