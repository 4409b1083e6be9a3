// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"strings"
	"sync"

	"github.com/deploynix/deploynix/lib/hosts"
)

// Fake is an in-memory Runner for tests. It records every executed
// command and delegates behavior to a Handler, so pipeline tests can
// simulate build output, marker files, and failures without processes
// or network.
type Fake struct {
	// FakeHost is returned by Host().
	FakeHost hosts.Host

	// Handler decides the outcome of each command: the result, the
	// text to write to the command's stdout, and a transport error.
	// A nil Handler makes every command succeed with no output.
	Handler func(command Command) (Result, string, error)

	mu       sync.Mutex
	commands []Command
	closed   bool
}

// Run records the command and applies the handler.
func (f *Fake) Run(ctx context.Context, command Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.Handler == nil {
		return Result{ExitCode: 0}, nil
	}

	result, stdout, err := f.Handler(command)
	if err != nil {
		return Result{}, err
	}
	if stdout != "" && command.Stdout != nil {
		if _, err := command.Stdout.Write([]byte(stdout)); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

// Output mirrors the production Output semantics on top of Run.
func (f *Fake) Output(ctx context.Context, command Command) (string, error) {
	return output(ctx, f, command)
}

// Host returns the configured fake host.
func (f *Fake) Host() hosts.Host { return f.FakeHost }

// Close marks the runner closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Commands returns a snapshot of every command Run has seen.
func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

// CommandLines renders the recorded commands as joined argv strings,
// which keeps test assertions readable.
func (f *Fake) CommandLines() []string {
	commands := f.Commands()
	lines := make([]string, len(commands))
	for i, command := range commands {
		lines[i] = strings.Join(command.Argv, " ")
	}
	return lines
}
