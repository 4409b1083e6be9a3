// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/deploynix/deploynix/lib/hosts"
)

// Local runs commands as child processes of the deployer.
type Local struct {
	host hosts.Host
}

// NewLocal creates a runner for a local host reference. Panics if the
// host is remote — that is a wiring bug, not runtime data.
func NewLocal(host hosts.Host) *Local {
	if !host.Local() {
		panic("runner: NewLocal called with remote host " + host.String())
	}
	return &Local{host: host}
}

// Host returns the bound host reference.
func (l *Local) Host() hosts.Host { return l.host }

// Run executes the command in its own process group. Cancellation
// kills the whole group (negative PID), not just the immediate child:
// nix and activation scripts spawn children that would otherwise
// survive and hold the inherited output descriptors open.
func (l *Local) Run(ctx context.Context, command Command) (Result, error) {
	if len(command.Argv) == 0 {
		return Result{}, errors.New("runner: empty argv")
	}

	argv := expandedArgv(command, os.Geteuid() == 0)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = writerOrDiscard(command.Stdout)
	cmd.Stderr = writerOrDiscard(command.Stderr)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	err := cmd.Run()
	if err == nil {
		return Result{ExitCode: 0}, nil
	}

	// A cancelled context kills the process group, which surfaces as
	// a signal-death ExitError; report the cancellation, not the exit.
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("%s: %w", argv[0], ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ExitCode: exitErr.ExitCode()}, nil
	}

	return Result{}, fmt.Errorf("%s: %w", argv[0], err)
}

// Output executes the command and returns captured stdout; nonzero
// exit is an error carrying the command's stderr text.
func (l *Local) Output(ctx context.Context, command Command) (string, error) {
	return output(ctx, l, command)
}

// Close is a no-op: local runners hold no connection state.
func (l *Local) Close() error { return nil }

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
