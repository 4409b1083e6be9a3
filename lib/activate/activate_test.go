// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package activate

import (
	"context"
	"strings"
	"testing"

	"github.com/deploynix/deploynix/lib/hosts"
	"github.com/deploynix/deploynix/lib/runner"
)

const testArtifact = "/nix/store/abc123-nixos-system-box-25.05"

// remoteTarget returns a fake remote host so activation composes bare
// binary names instead of resolving local paths.
func remoteTarget(handler func(runner.Command) (runner.Result, string, error)) *runner.Fake {
	return &runner.Fake{
		FakeHost: hosts.Host{Role: hosts.Target, Address: "web1.example.com"},
		Handler:  handler,
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"switch", "boot", "test", "dry-activate", "build"} {
		mode, err := ParseMode(valid)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", valid, err)
		}
		if string(mode) != valid {
			t.Errorf("ParseMode(%q) = %q", valid, mode)
		}
	}
	if _, err := ParseMode("reboot"); err == nil {
		t.Error("ParseMode should reject unknown modes")
	}
}

func TestModeSideEffects(t *testing.T) {
	t.Parallel()

	persisting := map[Mode]bool{
		ModeSwitch:      true,
		ModeBoot:        true,
		ModeTest:        false,
		ModeDryActivate: false,
		ModeBuild:       false,
	}
	for mode, want := range persisting {
		if got := mode.PersistsBootDefault(); got != want {
			t.Errorf("%s.PersistsBootDefault() = %v, want %v", mode, got, want)
		}
	}
	if ModeBuild.Activates() {
		t.Error("build mode must not activate")
	}
	if !ModeDryActivate.Activates() {
		t.Error("dry-activate still runs the activation script")
	}
}

func TestActivateSwitchSetsProfileFirst(t *testing.T) {
	t.Parallel()

	fake := remoteTarget(nil)
	err := Activate(context.Background(), fake, testArtifact, ModeSwitch, Options{})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	lines := fake.CommandLines()
	if len(lines) != 2 {
		t.Fatalf("commands = %v, want profile set then activation", lines)
	}
	wantProfile := "nix-env --profile /nix/var/nix/profiles/system --set " + testArtifact
	if lines[0] != wantProfile {
		t.Errorf("first command = %q, want %q", lines[0], wantProfile)
	}
	wantActivate := testArtifact + "/bin/switch-to-configuration switch"
	if lines[1] != wantActivate {
		t.Errorf("second command = %q, want %q", lines[1], wantActivate)
	}

	for i, command := range fake.Commands() {
		if !command.Sudo {
			t.Errorf("command %d should request sudo", i)
		}
	}
}

func TestActivateTestSkipsProfile(t *testing.T) {
	t.Parallel()

	fake := remoteTarget(nil)
	if err := Activate(context.Background(), fake, testArtifact, ModeTest, Options{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	for _, line := range fake.CommandLines() {
		if strings.Contains(line, "nix-env") {
			t.Errorf("test mode must not set the system profile: %q", line)
		}
	}
}

func TestActivateSpecialisationPresent(t *testing.T) {
	t.Parallel()

	fake := remoteTarget(func(command runner.Command) (runner.Result, string, error) {
		// The artifact contains the requested specialisation.
		return runner.Result{ExitCode: 0}, "", nil
	})
	err := Activate(context.Background(), fake, testArtifact, ModeTest, Options{
		Specialisation: "gaming",
	})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	lines := fake.CommandLines()
	wantProbe := "test -d " + testArtifact + "/specialisation/gaming"
	if lines[0] != wantProbe {
		t.Errorf("probe = %q, want %q", lines[0], wantProbe)
	}
	wantEntry := testArtifact + "/specialisation/gaming/bin/switch-to-configuration test"
	if lines[1] != wantEntry {
		t.Errorf("activation = %q, want %q", lines[1], wantEntry)
	}
}

func TestActivateSpecialisationMissingFallsBack(t *testing.T) {
	t.Parallel()

	fake := remoteTarget(func(command runner.Command) (runner.Result, string, error) {
		if command.Argv[0] == "test" {
			return runner.Result{ExitCode: 1}, "", nil
		}
		return runner.Result{}, "", nil
	})
	err := Activate(context.Background(), fake, testArtifact, ModeTest, Options{
		Specialisation: "removed-long-ago",
	})
	if err != nil {
		t.Fatalf("missing specialisation should fall back, not fail: %v", err)
	}

	lines := fake.CommandLines()
	wantEntry := testArtifact + "/bin/switch-to-configuration test"
	if lines[len(lines)-1] != wantEntry {
		t.Errorf("activation = %q, want base entry point %q", lines[len(lines)-1], wantEntry)
	}
}

func TestActivateInstallBootloader(t *testing.T) {
	t.Parallel()

	fake := remoteTarget(nil)
	err := Activate(context.Background(), fake, testArtifact, ModeBoot, Options{
		InstallBootloader: true,
	})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	commands := fake.Commands()
	activation := commands[len(commands)-1]
	if activation.Env["NIXOS_INSTALL_BOOTLOADER"] != "1" {
		t.Errorf("boot with --install-bootloader should set NIXOS_INSTALL_BOOTLOADER=1, env = %v", activation.Env)
	}
}

func TestActivateInstallBootloaderIgnoredForTest(t *testing.T) {
	t.Parallel()

	fake := remoteTarget(nil)
	err := Activate(context.Background(), fake, testArtifact, ModeTest, Options{
		InstallBootloader: true,
	})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	activation := fake.Commands()[0]
	if len(activation.Env) != 0 {
		t.Errorf("non-persisting mode must not set bootloader env, env = %v", activation.Env)
	}
}

func TestActivateFailureCarriesDiagnostics(t *testing.T) {
	t.Parallel()

	fake := remoteTarget(func(command runner.Command) (runner.Result, string, error) {
		if strings.HasSuffix(command.Argv[0], "switch-to-configuration") {
			command.Stderr.Write([]byte("Failed to restart nginx.service\n"))
			return runner.Result{ExitCode: 4}, "", nil
		}
		return runner.Result{}, "", nil
	})
	err := Activate(context.Background(), fake, testArtifact, ModeSwitch, Options{})
	if err == nil {
		t.Fatal("expected activation failure")
	}
	if !strings.Contains(err.Error(), "nginx.service") {
		t.Errorf("error should carry script diagnostics, got %q", err)
	}
}

func TestActivatePanicsOnBuildMode(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("Activate with build mode should panic")
		}
	}()
	Activate(context.Background(), remoteTarget(nil), testArtifact, ModeBuild, Options{})
}
