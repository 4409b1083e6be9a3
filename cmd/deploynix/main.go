// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deploynix/deploynix/cmd/deploynix/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like the deploy
		// report) return an ExitError with the desired exit code.
		// Don't print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// SIGINT/SIGTERM cancel the context; the pipeline propagates the
	// cancellation into whatever is running (process group kill
	// locally, session teardown remotely).
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return commands.Root().Execute(ctx, os.Args[1:])
}
