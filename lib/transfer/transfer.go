// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer moves built system closures between hosts.
//
// Transfers always execute on the deployer: nix copy reaches the remote
// side over ssh:// store URLs, so even a build-host-to-target-host move
// is a single deployer-side command with --from and --to. The store is
// content-addressed, which makes every copy idempotent — re-copying an
// already-present closure transfers only the missing paths, usually
// nothing.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/deploynix/deploynix/lib/hosts"
	"github.com/deploynix/deploynix/lib/nix"
	"github.com/deploynix/deploynix/lib/runner"
)

// Copy moves the artifact closure from one host's store to another's.
// deployer must be the local runner; from and to name the stores. When
// both sides are the same machine the copy is a no-op. Progress
// receives nix's streamed transfer output; nil discards.
func Copy(ctx context.Context, deployer runner.Runner, artifact string, from, to hosts.Host, progress io.Writer) error {
	if from.SameHost(to) {
		return nil
	}

	binary, err := nix.FindBinary("nix")
	if err != nil {
		return err
	}

	argv := []string{binary, "copy"}
	if !from.Local() {
		argv = append(argv, "--from", storeURL(from))
	}
	if !to.Local() {
		argv = append(argv, "--to", storeURL(to))
	}
	argv = append(argv, artifact)

	var diagnostics tail
	result, err := deployer.Run(ctx, runner.Command{
		Argv:   argv,
		Stderr: io.MultiWriter(writerOrDiscard(progress), &diagnostics),
	})
	if err != nil {
		return fmt.Errorf("copying %s from %s to %s: %w", artifact, from, to, err)
	}
	if result.ExitCode != 0 {
		return copyFailure(artifact, from, to, result.ExitCode, diagnostics.String())
	}
	return nil
}

// storeURL renders the ssh:// store URL for a remote host.
func storeURL(host hosts.Host) string {
	return "ssh://" + host.SSHDestination()
}

func copyFailure(artifact string, from, to hosts.Host, exitCode int, diagnostics string) error {
	if diagnostics == "" {
		return fmt.Errorf("copying %s from %s to %s: nix copy exited with status %d",
			artifact, from, to, exitCode)
	}
	return fmt.Errorf("copying %s from %s to %s: nix copy exited with status %d: %s",
		artifact, from, to, exitCode, diagnostics)
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// tail retains the last few kilobytes of the transfer's diagnostic
// stream for error reporting.
type tail struct {
	buffer bytes.Buffer
}

const tailLimit = 8 * 1024

func (t *tail) Write(p []byte) (int, error) {
	t.buffer.Write(p)
	if t.buffer.Len() > tailLimit {
		data := t.buffer.Bytes()
		trimmed := make([]byte, tailLimit)
		copy(trimmed, data[len(data)-tailLimit:])
		t.buffer.Reset()
		t.buffer.Write(trimmed)
	}
	return len(p), nil
}

func (t *tail) String() string { return strings.TrimSpace(t.buffer.String()) }
