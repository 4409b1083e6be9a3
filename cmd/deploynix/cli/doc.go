// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the deploynix command framework: a small
// command tree with pflag-based flag parsing, struct-tag flag binding,
// categorized errors, and structured logging.
//
// Commands are declared as [Command] values with parameter structs
// whose fields carry flag tags; [FlagsFromParams] binds them. Trailing
// arguments after "--" are preserved and recovered with [SplitDash],
// which the os commands use to forward extra arguments to nix build.
package cli
