// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard enforces the non-root-execution invariant.
//
// Running the deploy pipeline as root is a common operator mistake:
// artifacts built by root end up owned by root, and nix itself is
// expected to be invoked by an unprivileged user that escalates only
// for the activation step. The check runs once, before any build or
// network action, and is bypassable but never silently skipped.
package guard

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// RootCheckViolation is returned when the process runs with superuser
// privileges and the bypass was not requested.
type RootCheckViolation struct{}

func (RootCheckViolation) Error() string {
	return "refusing to run as root: build artifacts would be owned by root and " +
		"privilege escalation is handled per-step (pass --bypass-root-check to override)"
}

// Check validates the effective user ID against the root-check policy.
// euid is the effective UID of the executing process; bypass is the
// operator's explicit opt-out. When the check is bypassed while
// actually running as root, a warning is logged so the bypass is
// never invisible. logger may be nil for callers that handle their
// own reporting.
func Check(logger *slog.Logger, euid int, bypass bool) error {
	if euid != 0 {
		return nil
	}
	if !bypass {
		return RootCheckViolation{}
	}
	if logger != nil {
		logger.Warn("root check bypassed: running with superuser privileges")
	}
	return nil
}

// CheckCurrent runs Check against the current process identity.
func CheckCurrent(logger *slog.Logger, bypass bool) error {
	return Check(logger, unix.Geteuid(), bypass)
}
