// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package specialisation resolves which specialisation of a built
// system should be activated.
//
// A running NixOS system records its active specialisation in a marker
// file; re-deploying should land in the same specialisation unless the
// operator says otherwise. Resolution is strictly best-effort: a host
// without the marker, an unreadable marker, or an empty one all mean
// the base configuration. A deployment never fails because the marker
// could not be read.
package specialisation

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/deploynix/deploynix/lib/runner"
)

// Profile selects which marker location a deployment consults: the
// system-wide marker on the target, or the per-user marker for
// user-profile activation.
type Profile int

const (
	ProfileSystem Profile = iota
	ProfileUser
)

// MarkerPath returns the marker location for the profile. The user
// location is "" when no data directory can be determined, which
// Resolve treats as "no marker".
func (p Profile) MarkerPath() string {
	if p == ProfileUser {
		return UserMarkerPath()
	}
	return SystemMarkerPath
}

// SystemMarkerPath is where a NixOS system records its active
// specialisation.
const SystemMarkerPath = "/etc/specialisation"

// UserMarkerPath returns the per-user marker location, honoring
// XDG_DATA_HOME with the conventional ~/.local/share fallback.
func UserMarkerPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "deploynix", "specialisation")
}

// Resolve reads the specialisation marker at markerPath on the runner's
// host. Returns the recorded specialisation name, or "" for the base
// configuration. Read failures of any kind resolve to base — the marker
// is advisory, not authoritative.
func Resolve(ctx context.Context, run runner.Runner, markerPath string) string {
	if markerPath == "" {
		return ""
	}
	content, err := run.Output(ctx, runner.Command{
		Argv: []string{"cat", markerPath},
	})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(content)
}
