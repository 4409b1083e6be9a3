// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"strings"
	"testing"

	"github.com/deploynix/deploynix/lib/hosts"
	"github.com/deploynix/deploynix/lib/nix"
	"github.com/deploynix/deploynix/lib/runner"
)

const testArtifact = "/nix/store/abc123-nixos-system-box-25.05"

func remoteBuilder() *runner.Fake {
	return &runner.Fake{
		FakeHost: hosts.Host{Role: hosts.Build, Address: "builder.example.com"},
		Handler: func(command runner.Command) (runner.Result, string, error) {
			return runner.Result{}, testArtifact + "\n", nil
		},
	}
}

func TestBuildReturnsStorePath(t *testing.T) {
	t.Parallel()

	fake := remoteBuilder()
	target := Target{Flake: true, Ref: ".", Attr: []string{"nixosConfigurations", "box"}}

	artifact, err := Build(context.Background(), fake, target, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if artifact != testArtifact {
		t.Errorf("artifact = %q, want %q", artifact, testArtifact)
	}

	lines := fake.CommandLines()
	if len(lines) != 1 {
		t.Fatalf("commands = %v, want one", lines)
	}
	want := "nix build --print-out-paths --no-link .#nixosConfigurations.box"
	if lines[0] != want {
		t.Errorf("command = %q, want %q", lines[0], want)
	}
}

func TestBuildRemoteNeverLinks(t *testing.T) {
	t.Parallel()

	fake := remoteBuilder()
	_, err := Build(context.Background(), fake, Target{Flake: true, Ref: "."}, Options{
		OutLink: "result",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	line := fake.CommandLines()[0]
	if strings.Contains(line, "--out-link") {
		t.Errorf("remote build must not pass --out-link: %q", line)
	}
	if !strings.Contains(line, "--no-link") {
		t.Errorf("remote build should pass --no-link: %q", line)
	}
}

func TestBuildLocalOutLink(t *testing.T) {
	t.Parallel()

	if _, err := nix.FindBinary("nix"); err != nil {
		t.Skipf("nix unavailable: %v", err)
	}

	fake := &runner.Fake{
		FakeHost: hosts.Host{Role: hosts.Deployer},
		Handler: func(command runner.Command) (runner.Result, string, error) {
			return runner.Result{}, testArtifact + "\n", nil
		},
	}
	_, err := Build(context.Background(), fake, Target{Flake: true, Ref: "."}, Options{
		OutLink: "result",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	line := fake.CommandLines()[0]
	if !strings.Contains(line, "--out-link result") {
		t.Errorf("local build should pass --out-link: %q", line)
	}
}

func TestBuildExtraArgsAppended(t *testing.T) {
	t.Parallel()

	fake := remoteBuilder()
	_, err := Build(context.Background(), fake, Target{Flake: true, Ref: "."}, Options{
		ExtraArgs: []string{"--refresh", "--option", "substitute", "false"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	line := fake.CommandLines()[0]
	if !strings.HasSuffix(line, "--refresh --option substitute false") {
		t.Errorf("extra args should trail the command: %q", line)
	}
}

func TestBuildFailureCarriesDiagnostics(t *testing.T) {
	t.Parallel()

	fake := &runner.Fake{
		FakeHost: hosts.Host{Role: hosts.Build, Address: "builder"},
		Handler: func(command runner.Command) (runner.Result, string, error) {
			command.Stderr.Write([]byte("error: attribute 'box' missing\n"))
			return runner.Result{ExitCode: 1}, "", nil
		},
	}
	_, err := Build(context.Background(), fake, Target{Flake: true, Ref: "."}, Options{})
	if err == nil {
		t.Fatal("expected build failure")
	}
	if !strings.Contains(err.Error(), "attribute 'box' missing") {
		t.Errorf("error should carry diagnostics, got %q", err)
	}
}

func TestBuildRejectsNonStoreOutput(t *testing.T) {
	t.Parallel()

	fake := &runner.Fake{
		FakeHost: hosts.Host{Role: hosts.Build, Address: "builder"},
		Handler: func(command runner.Command) (runner.Result, string, error) {
			return runner.Result{}, "/tmp/not-a-store-path\n", nil
		},
	}
	if _, err := Build(context.Background(), fake, Target{Flake: true, Ref: "."}, Options{}); err == nil {
		t.Fatal("expected error for non-store output path")
	}
}

func TestBuildEmptyOutput(t *testing.T) {
	t.Parallel()

	fake := &runner.Fake{
		FakeHost: hosts.Host{Role: hosts.Build, Address: "builder"},
		Handler: func(command runner.Command) (runner.Result, string, error) {
			return runner.Result{}, "\n\n", nil
		},
	}
	if _, err := Build(context.Background(), fake, Target{Flake: true, Ref: "."}, Options{}); err == nil {
		t.Fatal("expected error for empty build output")
	}
}

func TestLinkComposesLinkOnlyBuild(t *testing.T) {
	t.Parallel()

	if _, err := nix.FindBinary("nix"); err != nil {
		t.Skipf("nix unavailable: %v", err)
	}

	fake := &runner.Fake{FakeHost: hosts.Host{Role: hosts.Deployer}}
	if err := Link(context.Background(), fake, testArtifact, "result"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	line := fake.CommandLines()[0]
	if !strings.Contains(line, "--out-link result "+testArtifact) {
		t.Errorf("link command = %q", line)
	}
}

func TestParseOutPathSkipsBlankLines(t *testing.T) {
	t.Parallel()

	artifact, err := parseOutPath("\n  \n" + testArtifact + "\n")
	if err != nil {
		t.Fatalf("parseOutPath: %v", err)
	}
	if artifact != testArtifact {
		t.Errorf("artifact = %q", artifact)
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	t.Parallel()

	var tail tailBuffer
	tail.Write([]byte(strings.Repeat("x", tailBufferLimit)))
	tail.Write([]byte("the-very-end"))
	got := tail.String()
	if len(got) > tailBufferLimit {
		t.Errorf("tail length = %d, want <= %d", len(got), tailBufferLimit)
	}
	if !strings.HasSuffix(got, "the-very-end") {
		t.Error("tail should retain the most recent writes")
	}
}
