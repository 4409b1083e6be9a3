// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner abstracts "run this command against this host" over
// two implementations: a local process runner and a remote SSH session
// runner. Pipeline stages depend only on the Runner interface, so the
// same build/transfer/activate code serves every host topology without
// branching on locality.
//
// Exit status and transport status are kept apart: a command that ran
// and exited nonzero yields a Result with that exit code and a nil
// error, while a command that could not be run at all (connection
// refused, auth failure, context cancelled) yields an error.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/deploynix/deploynix/lib/hosts"
)

// Command describes one command execution against a host.
type Command struct {
	// Argv is the program and its arguments. Must be non-empty.
	Argv []string

	// Env holds extra environment variables for the command. They
	// survive sudo (applied via an env prefix after escalation).
	Env map[string]string

	// Stdout and Stderr receive the command's output streams. Nil
	// writers discard. Output is streamed as the command runs, so
	// progress text is visible before the command completes.
	Stdout io.Writer
	Stderr io.Writer

	// Sudo requests privilege escalation. It is a no-op when the
	// executing identity is already root.
	Sudo bool
}

// Result is the outcome of a command that actually ran.
type Result struct {
	// ExitCode is the command's exit status. Zero is success.
	ExitCode int
}

// Runner executes commands against one host.
type Runner interface {
	// Host returns the host this runner is bound to.
	Host() hosts.Host

	// Run executes the command, streaming output to the command's
	// writers. A nonzero exit is reported in the Result, not as an
	// error. Context cancellation terminates the underlying process
	// (local process group kill, remote session teardown) rather
	// than orphaning it.
	Run(ctx context.Context, command Command) (Result, error)

	// Output executes the command and returns its captured stdout.
	// A nonzero exit is an error here, formatted with the command's
	// stderr text when available.
	Output(ctx context.Context, command Command) (string, error)

	// Close releases any held connections. Safe to call on runners
	// that never connected.
	Close() error
}

// output implements the shared Output semantics on top of Run.
func output(ctx context.Context, r Runner, command Command) (string, error) {
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	result, err := r.Run(ctx, command)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", exitError(command.Argv, result.ExitCode, stderr.String())
	}
	return stdout.String(), nil
}

// exitError formats a nonzero-exit failure, preferring the command's
// own stderr diagnostics over the bare exit code.
func exitError(argv []string, exitCode int, stderrText string) error {
	commandString := strings.Join(argv, " ")
	stderrText = strings.TrimSpace(stderrText)
	if stderrText != "" {
		return fmt.Errorf("%s: exit %d: %s", commandString, exitCode, stderrText)
	}
	return fmt.Errorf("%s: exit %d", commandString, exitCode)
}

// safeWord matches strings that need no shell quoting.
var safeWord = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_^-]+$`)

// ShellQuote renders a single word safely for a POSIX shell. Used when
// composing remote command lines, where the SSH protocol transports a
// string that the remote login shell re-parses.
func ShellQuote(word string) string {
	if word == "" {
		return "''"
	}
	if safeWord.MatchString(word) {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}

// expandedArgv returns the final argument vector with the sudo and env
// prefixes applied. alreadyRoot suppresses sudo. Env entries are
// sorted so composed command lines are deterministic.
func expandedArgv(command Command, alreadyRoot bool) []string {
	argv := make([]string, 0, len(command.Argv)+len(command.Env)+2)
	if command.Sudo && !alreadyRoot {
		argv = append(argv, "sudo")
	}
	if len(command.Env) > 0 {
		argv = append(argv, "env")
		keys := make([]string, 0, len(command.Env))
		for key := range command.Env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			argv = append(argv, key+"="+command.Env[key])
		}
	}
	return append(argv, command.Argv...)
}
