package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	escalctlcmd "github.com/telekom/escalation-sync/pkg/escalctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := escalctlcmd.DefaultConfig()
	cfg.Context = ctx
	root := escalctlcmd.NewRootCommand(cfg)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
