// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Target is a configuration source descriptor: either a flake
// reference with an attribute path, or a legacy Nix expression file.
// Immutable once resolved from flags and environment.
type Target struct {
	// Flake distinguishes the two forms.
	Flake bool

	// Ref is the flake reference (e.g., ".", "github:org/config").
	// Only set for flake targets.
	Ref string

	// File is the path to a legacy Nix expression. Only set for
	// legacy targets.
	File string

	// Attr is the attribute path to build, as parsed elements.
	Attr []string
}

// Environment fallbacks for the configuration target. Every CLI flag
// has one, so non-interactive callers (systemd units, CI) can pin the
// configuration source without wrapping the command line.
const (
	EnvFlake     = "DEPLOYNIX_FLAKE"
	EnvFile      = "DEPLOYNIX_FILE"
	EnvAttribute = "DEPLOYNIX_ATTR"
)

// FromCLI resolves the configuration target from the positional
// installable argument and the --file flag, falling back to the
// DEPLOYNIX_FLAKE / DEPLOYNIX_FILE / DEPLOYNIX_ATTR environment
// variables when both are empty. Precedence: --file beats the
// positional form; flags beat the environment.
func FromCLI(installable, file string) (Target, error) {
	if file != "" {
		return Target{File: file, Attr: parseAttribute(installable)}, nil
	}
	if installable != "" {
		return parseFlakeRef(installable), nil
	}

	if flake := os.Getenv(EnvFlake); flake != "" {
		return parseFlakeRef(flake), nil
	}
	if file := os.Getenv(EnvFile); file != "" {
		return Target{File: file, Attr: parseAttribute(os.Getenv(EnvAttribute))}, nil
	}

	return Target{}, errors.New("no configuration target: pass a flake reference, " +
		"--file, or set " + EnvFlake + " / " + EnvFile)
}

// parseFlakeRef splits "reference#attribute.path" at the first '#'.
func parseFlakeRef(installable string) Target {
	reference, attribute, _ := strings.Cut(installable, "#")
	return Target{Flake: true, Ref: reference, Attr: parseAttribute(attribute)}
}

// systemAttributeSuffix is the flake attribute path from a named NixOS
// configuration to its buildable system closure.
var systemAttributeSuffix = []string{"config", "system", "build", "toplevel"}

// ForSystem returns a copy of the target with the default system
// attribute filled in. For flake targets with no explicit attribute,
// the conventional nixosConfigurations.<name>.config.system.build.toplevel
// path is selected; name is the local hostname for local deployments
// and the target host's name for remote ones. Targets with an explicit
// attribute are returned unchanged, as are legacy targets (their file
// is expected to evaluate to the system closure directly).
func (t Target) ForSystem(name string) Target {
	if !t.Flake || len(t.Attr) != 0 {
		return t
	}
	attr := append([]string{"nixosConfigurations", name}, systemAttributeSuffix...)
	t.Attr = attr
	return t
}

// InstallableArgs renders the target as nix build arguments.
func (t Target) InstallableArgs() []string {
	if t.Flake {
		return []string{t.Ref + "#" + joinAttribute(t.Attr)}
	}
	args := []string{"--file", t.File}
	if len(t.Attr) > 0 {
		args = append(args, joinAttribute(t.Attr))
	}
	return args
}

// String renders the target for logs.
func (t Target) String() string {
	if t.Flake {
		return t.Ref + "#" + joinAttribute(t.Attr)
	}
	if len(t.Attr) == 0 {
		return t.File
	}
	return fmt.Sprintf("%s [%s]", t.File, joinAttribute(t.Attr))
}

// parseAttribute splits a dotted attribute path into elements. Empty
// input yields nil.
//
// TODO: handle quoted elements like foo."bar.baz" — nix accepts them,
// this split does not.
func parseAttribute(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// joinAttribute renders attribute path elements back into dotted form,
// quoting elements that themselves contain dots.
func joinAttribute(attribute []string) string {
	var builder strings.Builder
	for i, element := range attribute {
		if i > 0 {
			builder.WriteByte('.')
		}
		if strings.Contains(element, ".") {
			builder.WriteString(fmt.Sprintf("%q", element))
		} else {
			builder.WriteString(element)
		}
	}
	return builder.String()
}
