// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package nix provides typed access to the Nix CLI binaries the deploy
// pipeline shells out to (nix, nix-env). It centralizes binary
// resolution for the Determinate Nix installation pattern (PATH first,
// then /nix/var/nix/profiles/default/bin/) and uniform error
// formatting across all local nix invocations.
//
// Only local invocations resolve binaries through this package; on
// remote hosts the bare binary name is used and the remote login
// shell's PATH decides.
package nix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// determinateProfileBin is where Determinate Nix installs its binaries.
// This location is outside PATH by default, so it is checked explicitly
// after the PATH lookup fails.
const determinateProfileBin = "/nix/var/nix/profiles/default/bin"

// FindBinary resolves a Nix binary by name (e.g., "nix", "nix-env"),
// checking PATH first and then the standard Determinate Nix
// installation directory. Returns the absolute path to the binary.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	determinatePath := filepath.Join(determinateProfileBin, name)
	if _, err := os.Stat(determinatePath); err == nil {
		return determinatePath, nil
	}

	return "", fmt.Errorf("%s not found on PATH or at %s — is Nix installed on this machine?",
		name, determinatePath)
}

// Run executes "nix <args>" locally and returns the stdout output.
// Stderr is captured and included in error messages (nix writes its
// diagnostics to stderr).
func Run(args ...string) (string, error) {
	return run(context.Background(), "nix", args)
}

// RunContext is like Run but accepts a context for cancellation.
func RunContext(ctx context.Context, args ...string) (string, error) {
	return run(ctx, "nix", args)
}

// run resolves the named binary, executes it with the given arguments,
// and returns stdout. Stderr is captured separately and included in
// error messages.
func run(ctx context.Context, binaryName string, args []string) (string, error) {
	binaryPath, err := FindBinary(binaryName)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, binaryPath, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", formatError(binaryName, args, &stderr, err)
	}
	return stdout.String(), nil
}

// StorePrefix is the standard Nix store root directory. Every artifact
// the pipeline handles lives under it.
const StorePrefix = "/nix/store/"

// StoreDirectory extracts the Nix store directory from a path within
// it. A Nix store directory is the first path component after
// /nix/store/:
//
//	"/nix/store/abc-nixos-system/bin/switch-to-configuration" → "/nix/store/abc-nixos-system"
//	"/nix/store/abc-nixos-system"                             → "/nix/store/abc-nixos-system"
//
// Returns an error for paths not under /nix/store/ or paths that are
// exactly /nix/store/ with no entry name.
func StoreDirectory(path string) (string, error) {
	if !strings.HasPrefix(path, StorePrefix) {
		return "", fmt.Errorf("path %q is not under /nix/store/", path)
	}

	// Everything after "/nix/store/" is the store entry name,
	// potentially followed by subdirectory components. The store
	// directory is just the first component.
	remainder := path[len(StorePrefix):]
	if remainder == "" {
		return "", fmt.Errorf("path %q has no store entry name", path)
	}

	slashIndex := strings.IndexByte(remainder, '/')
	if slashIndex == -1 {
		return path, nil
	}

	return path[:len(StorePrefix)+slashIndex], nil
}

// versionPattern matches the "x.y.z" version component in the first
// line of "nix --version" output.
var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// Version returns the installed Nix version string (e.g., "2.24.14").
func Version(ctx context.Context) (string, error) {
	output, err := run(ctx, "nix", []string{"--version"})
	if err != nil {
		return "", err
	}
	return ParseVersion(output)
}

// ParseVersion extracts the semantic version from "nix --version"
// output. Split out from Version so the parsing is testable without a
// nix installation.
func ParseVersion(output string) (string, error) {
	firstLine, _, _ := strings.Cut(output, "\n")
	version := versionPattern.FindString(firstLine)
	if version == "" {
		return "", fmt.Errorf("no version found in %q", firstLine)
	}
	return version, nil
}

// CompareVersions orders two dotted numeric versions ("2.24.14"):
// -1 when a is older than b, 0 when equal, 1 when newer. Missing
// components compare as zero, so "2.24" equals "2.24.0". Both Nix and
// Lix version this way; anything else is a parse error.
func CompareVersions(a, b string) (int, error) {
	left, err := versionComponents(a)
	if err != nil {
		return 0, err
	}
	right, err := versionComponents(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(left) || i < len(right); i++ {
		var l, r int
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		if l < r {
			return -1, nil
		}
		if l > r {
			return 1, nil
		}
	}
	return 0, nil
}

func versionComponents(version string) ([]int, error) {
	parts := strings.Split(version, ".")
	components := make([]int, len(parts))
	for i, part := range parts {
		number, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("version %q: component %q is not a number", version, part)
		}
		components[i] = number
	}
	return components, nil
}

// IsLix reports whether the installed nix binary is actually Lix.
// Both implementations are supported; some feature probes differ.
func IsLix(ctx context.Context) (bool, error) {
	output, err := run(ctx, "nix", []string{"--version"})
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(output), "lix"), nil
}

// ExperimentalFeatures returns the set of experimental features the
// local nix installation has enabled.
func ExperimentalFeatures(ctx context.Context) (map[string]bool, error) {
	output, err := run(ctx, "nix", []string{"config", "show", "experimental-features"})
	if err != nil {
		return nil, err
	}
	return ParseFeatureSet(output), nil
}

// ParseFeatureSet parses whitespace-separated feature names into a
// set. Empty output yields an empty, non-nil set.
func ParseFeatureSet(output string) map[string]bool {
	features := make(map[string]bool)
	for _, feature := range strings.Fields(output) {
		features[feature] = true
	}
	return features
}

// MissingExperimentalFeatures returns the subset of required features
// that are not enabled, in the order given. Flake-based deployments
// require "nix-command" and "flakes"; the os command group checks
// before building so the operator gets a configuration error instead
// of a mid-build evaluation failure.
func MissingExperimentalFeatures(ctx context.Context, required ...string) ([]string, error) {
	enabled, err := ExperimentalFeatures(ctx)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, feature := range required {
		if !enabled[feature] {
			missing = append(missing, feature)
		}
	}
	return missing, nil
}

// formatError produces an error message for a failed nix command,
// preferring stderr output (which contains the actual nix error) over
// the generic exec error.
func formatError(binaryName string, args []string, stderr *bytes.Buffer, err error) error {
	commandString := binaryName + " " + strings.Join(args, " ")
	stderrText := strings.TrimSpace(stderr.String())
	if stderrText != "" {
		return fmt.Errorf("%s: %s", commandString, stderrText)
	}
	return fmt.Errorf("%s: %w", commandString, err)
}
