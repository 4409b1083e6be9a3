// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package build drives construction of the system artifact on the
// chosen build host. The external nix builder does the actual
// compilation against its content-addressed store; this package only
// composes the invocation, streams progress, and extracts the
// resulting store path. A cache hit (near-instant "already built") is
// indistinguishable from a fresh build — both yield the same artifact
// identifier.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/deploynix/deploynix/lib/nix"
	"github.com/deploynix/deploynix/lib/runner"
)

// Options adjusts one build invocation.
type Options struct {
	// OutLink, when non-empty, is the path for the build result
	// symlink. Only honored for local builds; remote builds always
	// build link-free and the caller creates a local link after the
	// artifact is transferred back (see [Link]).
	OutLink string

	// ExtraArgs are passed through to nix build verbatim (the
	// trailing "-- ..." CLI arguments).
	ExtraArgs []string

	// Progress receives the builder's streamed diagnostic output
	// (nix writes build progress to stderr). Nil discards.
	Progress io.Writer
}

// Build compiles the target on the runner's host and returns the
// artifact: the store path of the built system closure. The build is
// not retried on failure — a failed build aborts the deployment.
func Build(ctx context.Context, run runner.Runner, target Target, options Options) (string, error) {
	binary, err := nixBinary(run)
	if err != nil {
		return "", err
	}

	argv := []string{binary, "build", "--print-out-paths"}
	if options.OutLink != "" && run.Host().Local() {
		argv = append(argv, "--out-link", options.OutLink)
	} else {
		argv = append(argv, "--no-link")
	}
	argv = append(argv, target.InstallableArgs()...)
	argv = append(argv, options.ExtraArgs...)

	// Stdout carries only the resulting store path; everything human
	// readable streams to Progress as the build runs.
	var stdout bytes.Buffer
	var diagnostics tailBuffer
	stderr := io.MultiWriter(writerOrDiscard(options.Progress), &diagnostics)

	result, err := run.Run(ctx, runner.Command{
		Argv:   argv,
		Stdout: &stdout,
		Stderr: stderr,
	})
	if err != nil {
		return "", fmt.Errorf("building %s: %w", target, err)
	}
	if result.ExitCode != 0 {
		return "", buildFailure(target, result.ExitCode, diagnostics.String())
	}

	artifact, err := parseOutPath(stdout.String())
	if err != nil {
		return "", fmt.Errorf("building %s: %w", target, err)
	}
	return artifact, nil
}

// Link creates a local result symlink for an artifact that is already
// present in the local store. Store paths are valid installables, so
// this is a link-only nix build. Used after a remote build-only run to
// give the operator a local build-result reference.
func Link(ctx context.Context, run runner.Runner, artifact, link string) error {
	binary, err := nixBinary(run)
	if err != nil {
		return err
	}

	var diagnostics tailBuffer
	result, err := run.Run(ctx, runner.Command{
		Argv:   []string{binary, "build", "--out-link", link, artifact},
		Stderr: &diagnostics,
	})
	if err != nil {
		return fmt.Errorf("linking %s to %s: %w", artifact, link, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("linking %s to %s: exit %d: %s",
			artifact, link, result.ExitCode, strings.TrimSpace(diagnostics.String()))
	}
	return nil
}

// parseOutPath extracts the store path from nix build --print-out-paths
// output. Multi-output derivations print several lines; the system
// closure is the first.
func parseOutPath(stdout string) (string, error) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return nix.StoreDirectory(line)
	}
	return "", errors.New("nix build produced no output path")
}

// buildFailure formats a nonzero build exit with the tail of the
// builder's diagnostics. The full stream already went to Progress;
// the error carries enough to be meaningful in logs on its own.
func buildFailure(target Target, exitCode int, diagnostics string) error {
	diagnostics = strings.TrimSpace(diagnostics)
	if diagnostics == "" {
		return fmt.Errorf("building %s: nix build exited with status %d", target, exitCode)
	}
	return fmt.Errorf("building %s: nix build exited with status %d: %s", target, exitCode, diagnostics)
}

// nixBinary resolves the nix binary for the runner's host: full path
// resolution locally, bare name remotely (the remote login shell's
// PATH decides).
func nixBinary(run runner.Runner) (string, error) {
	if !run.Host().Local() {
		return "nix", nil
	}
	return nix.FindBinary("nix")
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// tailBuffer retains the last few kilobytes written to it, so error
// messages can include the end of a long diagnostic stream without
// holding the whole build log in memory.
type tailBuffer struct {
	buffer bytes.Buffer
}

const tailBufferLimit = 8 * 1024

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buffer.Write(p)
	if t.buffer.Len() > tailBufferLimit {
		data := t.buffer.Bytes()
		trimmed := make([]byte, tailBufferLimit)
		copy(trimmed, data[len(data)-tailBufferLimit:])
		t.buffer.Reset()
		t.buffer.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return t.buffer.String() }
