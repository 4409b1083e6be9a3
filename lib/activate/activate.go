// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package activate applies a built system closure on the target host.
//
// Activation is the only mutating stage of a deployment. Its blast
// radius is controlled by the mode: dry-activate only reports what
// would change, test changes the running system without touching boot
// entries, and switch/boot additionally set the system profile so the
// configuration survives a reboot. There is no rollback — a failed
// activation leaves whatever the activation script managed to do, and
// recovery is deploying a known-good configuration.
package activate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/deploynix/deploynix/lib/nix"
	"github.com/deploynix/deploynix/lib/runner"
)

// Mode selects the side effects of a deployment run.
type Mode string

const (
	// ModeSwitch activates the configuration now and makes it the
	// boot default.
	ModeSwitch Mode = "switch"

	// ModeBoot makes the configuration the boot default without
	// touching the running system.
	ModeBoot Mode = "boot"

	// ModeTest activates the configuration now but leaves boot
	// entries alone; a reboot reverts it.
	ModeTest Mode = "test"

	// ModeDryActivate reports what activation would change without
	// changing anything.
	ModeDryActivate Mode = "dry-activate"

	// ModeBuild builds the artifact and stops. It never reaches this
	// package's Activate.
	ModeBuild Mode = "build"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch mode := Mode(s); mode {
	case ModeSwitch, ModeBoot, ModeTest, ModeDryActivate, ModeBuild:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected switch, boot, test, dry-activate, or build)", s)
	}
}

// PersistsBootDefault reports whether the mode updates the system
// profile and boot entries.
func (m Mode) PersistsBootDefault() bool {
	return m == ModeSwitch || m == ModeBoot
}

// Activates reports whether the mode runs the activation script at all.
func (m Mode) Activates() bool {
	return m != ModeBuild
}

// systemProfile is the profile that boot loader generations are
// enumerated from. Setting it is what makes a configuration permanent.
const systemProfile = "/nix/var/nix/profiles/system"

// Options adjusts one activation.
type Options struct {
	// Specialisation selects a specialised variant of the artifact.
	// Empty activates the base configuration.
	Specialisation string

	// InstallBootloader asks the activation script to (re)install the
	// boot loader. Only honored for persisting modes.
	InstallBootloader bool

	// Progress receives the activation script's streamed output. Nil
	// discards.
	Progress io.Writer
}

// Activate applies the artifact on the runner's host with the given
// mode. For persisting modes the system profile is set first, so a
// mid-activation crash still leaves the new configuration bootable.
// Panics on ModeBuild: the orchestrator short-circuits before
// activation for build-only runs.
func Activate(ctx context.Context, run runner.Runner, artifact string, mode Mode, options Options) error {
	if !mode.Activates() {
		panic("activate: Activate called with build mode")
	}

	if mode.PersistsBootDefault() {
		if err := setSystemProfile(ctx, run, artifact); err != nil {
			return err
		}
	}

	entry, err := entryPoint(ctx, run, artifact, options.Specialisation)
	if err != nil {
		return err
	}

	command := runner.Command{
		Argv:   []string{entry, string(mode)},
		Stdout: writerOrDiscard(options.Progress),
		Sudo:   true,
	}
	if options.InstallBootloader && mode.PersistsBootDefault() {
		command.Env = map[string]string{"NIXOS_INSTALL_BOOTLOADER": "1"}
	}

	var diagnostics bytes.Buffer
	command.Stderr = io.MultiWriter(writerOrDiscard(options.Progress), &diagnostics)

	result, err := run.Run(ctx, command)
	if err != nil {
		return fmt.Errorf("activating %s (%s): %w", artifact, mode, err)
	}
	if result.ExitCode != 0 {
		text := strings.TrimSpace(diagnostics.String())
		if text == "" {
			return fmt.Errorf("activating %s (%s): exit %d", artifact, mode, result.ExitCode)
		}
		return fmt.Errorf("activating %s (%s): exit %d: %s", artifact, mode, result.ExitCode, text)
	}
	return nil
}

// setSystemProfile registers the artifact as the current system
// generation.
func setSystemProfile(ctx context.Context, run runner.Runner, artifact string) error {
	binary := "nix-env"
	if run.Host().Local() {
		found, err := nix.FindBinary("nix-env")
		if err != nil {
			return err
		}
		binary = found
	}

	_, err := run.Output(ctx, runner.Command{
		Argv: []string{binary, "--profile", systemProfile, "--set", artifact},
		Sudo: true,
	})
	if err != nil {
		return fmt.Errorf("setting system profile to %s: %w", artifact, err)
	}
	return nil
}

// entryPoint picks the switch-to-configuration script to run. A
// requested specialisation is honored only when the artifact actually
// contains it; otherwise activation falls back to the base entry point
// rather than failing, matching what a marker left by a since-removed
// specialisation should do.
func entryPoint(ctx context.Context, run runner.Runner, artifact, specialisation string) (string, error) {
	base := path.Join(artifact, "bin", "switch-to-configuration")
	if specialisation == "" {
		return base, nil
	}

	specialisedDir := path.Join(artifact, "specialisation", specialisation)
	result, err := run.Run(ctx, runner.Command{
		Argv: []string{"test", "-d", specialisedDir},
	})
	if err != nil {
		return "", fmt.Errorf("probing specialisation %q in %s: %w", specialisation, artifact, err)
	}
	if result.ExitCode != 0 {
		return base, nil
	}
	return path.Join(specialisedDir, "bin", "switch-to-configuration"), nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
