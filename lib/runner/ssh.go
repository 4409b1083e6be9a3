// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/deploynix/deploynix/lib/hosts"
)

// connectTimeout bounds the TCP dial and SSH handshake for one
// connection attempt. Command execution itself is unbounded (builds
// can run for hours) and is governed by the caller's context.
const connectTimeout = 30 * time.Second

// SSH runs commands on a remote host over an SSH connection.
//
// Authentication is agent-only: keys come from the ssh-agent named by
// SSH_AUTH_SOCK, and host keys are verified against the user's
// known_hosts file. There is no password prompt and no
// accept-new-host-key fallback — remote deployment assumes the ambient
// environment (agent, known_hosts) is already set up, and only
// distinguishes "connection succeeded" from "connection/auth failed".
//
// The connection is established lazily on the first command and reused
// for the rest of the run; each command gets its own session.
type SSH struct {
	host hosts.Host

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH creates a runner for a remote host reference. Panics if the
// host is local — that is a wiring bug, not runtime data.
func NewSSH(host hosts.Host) *SSH {
	if host.Local() {
		panic("runner: NewSSH called with local host " + host.String())
	}
	return &SSH{host: host}
}

// Host returns the bound host reference.
func (s *SSH) Host() hosts.Host { return s.host }

// Run executes the command in a fresh session on the shared
// connection. Cancellation signals the remote process and tears the
// session down so nothing is left running on the target.
func (s *SSH) Run(ctx context.Context, command Command) (Result, error) {
	if len(command.Argv) == 0 {
		return Result{}, errors.New("runner: empty argv")
	}

	client, err := s.connect(ctx)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("ssh %s: opening session: %w", s.host.SSHDestination(), err)
	}
	defer session.Close()

	session.Stdout = writerOrDiscard(command.Stdout)
	session.Stderr = writerOrDiscard(command.Stderr)

	commandLine := remoteCommandLine(command, s.remoteUserIsRoot())
	if err := session.Start(commandLine); err != nil {
		return Result{}, fmt.Errorf("ssh %s: starting %q: %w", s.host.SSHDestination(), command.Argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		// Best-effort terminate, then close the session so Wait
		// unblocks even if the remote ignores the signal.
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-done
		return Result{}, fmt.Errorf("ssh %s: %s: %w", s.host.SSHDestination(), command.Argv[0], ctx.Err())
	case err := <-done:
		if err == nil {
			return Result{ExitCode: 0}, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitStatus()}, nil
		}
		return Result{}, fmt.Errorf("ssh %s: %s: %w", s.host.SSHDestination(), command.Argv[0], err)
	}
}

// Output executes the command and returns captured stdout; nonzero
// exit is an error carrying the command's stderr text.
func (s *SSH) Output(ctx context.Context, command Command) (string, error) {
	return output(ctx, s, command)
}

// Close tears down the shared connection, if one was established.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	return client.Close()
}

// connect establishes the shared SSH connection on first use.
func (s *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	destination := s.host.SSHDestination()

	signers, err := agentSigners(ctx)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", destination, err)
	}

	hostKeyCallback, err := knownHostsCallback()
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", destination, err)
	}

	config := &ssh.ClientConfig{
		User:            s.loginUser(),
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         connectTimeout,
	}

	address := s.host.Address
	if needsDefaultPort(address) {
		address += ":22"
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: connect: %w", destination, err)
	}

	sshConn, channels, requests, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh %s: handshake: %w", destination, err)
	}

	s.client = ssh.NewClient(sshConn, channels, requests)
	return s.client, nil
}

// loginUser resolves the remote login name: the endpoint's explicit
// user, or the current local user.
func (s *SSH) loginUser() string {
	if s.host.User != "" {
		return s.host.User
	}
	if current, err := user.Current(); err == nil {
		return current.Username
	}
	return os.Getenv("USER")
}

func (s *SSH) remoteUserIsRoot() bool {
	return s.loginUser() == "root"
}

// agentSigners collects signing keys from the ambient ssh-agent.
func agentSigners(ctx context.Context) ([]ssh.Signer, error) {
	socketPath := os.Getenv("SSH_AUTH_SOCK")
	if socketPath == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set — remote deployment requires a running ssh-agent")
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to ssh-agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("listing ssh-agent keys: %w", err)
	}
	if len(signers) == 0 {
		conn.Close()
		return nil, errors.New("ssh-agent holds no keys — add one with ssh-add")
	}
	return signers, nil
}

// knownHostsCallback builds the host key verifier from the user's
// known_hosts file. A missing file is an error rather than an insecure
// accept-anything fallback.
func knownHostsCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	path := filepath.Join(home, ".ssh", "known_hosts")

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return callback, nil
}

// needsDefaultPort reports whether the address carries no explicit
// port. Bracketed IPv6 addresses are ported when the bracket is the
// last character.
func needsDefaultPort(address string) bool {
	if strings.HasPrefix(address, "[") {
		return strings.HasSuffix(address, "]")
	}
	return !strings.Contains(address, ":")
}

// remoteCommandLine composes the single string the remote login shell
// will re-parse: optional sudo, optional env prefix, then the quoted
// argv.
func remoteCommandLine(command Command, alreadyRoot bool) string {
	argv := expandedArgv(command, alreadyRoot)
	words := make([]string, len(argv))
	for i, word := range argv {
		words[i] = ShellQuote(word)
	}
	return strings.Join(words, " ")
}
