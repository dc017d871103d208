// Package main is the entry point for flagctl, a developer tool for checking
// flag definitions and decisions without deploying a host application.
//
// Commands:
//   - eval: print the decision for one flag and context.
//   - simulate: evaluate a flag for many random anonymous identities.
//   - validate: schema-check and parse a definition document.
//   - migrate: apply the Postgres migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flagctl:", err)
		stop()
		os.Exit(1)
	}
}
