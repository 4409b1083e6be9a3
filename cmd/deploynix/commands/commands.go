// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete deploynix CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deploynix/deploynix/cmd/deploynix/cli"
	oscmd "github.com/deploynix/deploynix/cmd/deploynix/os"
	"github.com/deploynix/deploynix/lib/version"
)

// Root builds and returns the complete deploynix CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "deploynix",
		Description: `Deploynix: NixOS deployment orchestrator.

Build a system configuration, move it to where it runs, and activate
it — locally, on a remote target, or across a dedicated build host,
with SSH-agent credentials throughout.`,
		Subcommands: []*cli.Command{
			oscmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("deploynix %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Switch the local machine to its flake configuration",
				Command:     "deploynix os switch",
			},
			{
				Description: "Deploy to a remote target",
				Command:     "deploynix os switch .#web1 --target-host admin@web1.example.com",
			},
			{
				Description: "Build on a dedicated builder, activate after reboot only",
				Command:     "deploynix os boot .#web1 --build-host builder@build.example.com --target-host admin@web1.example.com",
			},
			{
				Description: "Preview what a deployment would change",
				Command:     "deploynix os dry-activate .#web1 --target-host admin@web1.example.com",
			},
		},
	}
}
