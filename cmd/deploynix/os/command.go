// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package os implements the "deploynix os" command group: building and
// activating NixOS system configurations, locally or across build and
// target hosts.
package os

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/deploynix/deploynix/cmd/deploynix/cli"
	"github.com/deploynix/deploynix/lib/activate"
)

// Command returns the "os" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "os",
		Summary: "Build and activate NixOS system configurations",
		Description: `Build and activate NixOS system configurations.

Each subcommand is a deployment mode with a different blast radius:

  switch        activate now and make it the boot default
  boot          make it the boot default without touching the running system
  test          activate now; a reboot reverts it
  dry-activate  report what activation would change, change nothing
  build         build the system closure and stop

The configuration source is a flake installable ("ref#attribute"), a
legacy Nix file via --file, or the DEPLOYNIX_FLAKE / DEPLOYNIX_FILE
environment variables. Remote building and remote activation are
selected with --build-host and --target-host; credentials are implicit
via the SSH agent. Arguments after "--" pass through to nix build.`,
		Subcommands: []*cli.Command{
			rebuildCommand("switch", "Activate the configuration and make it the boot default", activate.ModeSwitch),
			rebuildCommand("boot", "Make the configuration the boot default without activating it", activate.ModeBoot),
			rebuildCommand("test", "Activate the configuration without changing the boot default", activate.ModeTest),
			rebuildCommand("dry-activate", "Show what activating the configuration would change", activate.ModeDryActivate),
			rebuildCommand("build", "Build the system closure without activating it", activate.ModeBuild),
		},
		Examples: []cli.Example{
			{
				Description: "Switch the local machine to its flake configuration",
				Command:     "deploynix os switch .#workstation",
			},
			{
				Description: "Deploy to a remote machine, building on a dedicated builder",
				Command:     "deploynix os switch .#web1 --build-host builder@build.example.com --target-host admin@web1.example.com",
			},
			{
				Description: "Test a configuration change without touching boot entries",
				Command:     "deploynix os test",
			},
			{
				Description: "Build only, passing extra arguments to nix build",
				Command:     "deploynix os build .#web1 -- --refresh",
			},
		},
	}
}

// rebuildCommand constructs one deployment-mode subcommand. All five
// modes share the same flag surface and pipeline; only the activation
// mode differs.
func rebuildCommand(name, summary string, mode activate.Mode) *cli.Command {
	var params rebuildParams
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("deploynix os %s [INSTALLABLE] [flags] [-- nix build args]", name),
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams(name, &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return runRebuild(ctx, args, logger, &params, mode)
		},
	}
}
