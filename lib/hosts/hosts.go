// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package hosts resolves the three machine roles of a deployment run —
// deployer, build host, and target host — into typed host references.
//
// Role endpoints arrive as raw "user@address" strings from flags or the
// environment. Resolution is purely syntactic: no network probing
// happens here, so a topology with an unreachable host resolves fine
// and fails on the first actual connection attempt. Locality is decided
// once per run and never changes afterwards.
package hosts

import (
	"fmt"
	"strings"
)

// Role names the function a host performs in one deployment run.
type Role string

const (
	// Deployer is the machine the command was invoked on. It is
	// always local.
	Deployer Role = "deployer"

	// Build is the machine that compiles the configuration into a
	// store artifact.
	Build Role = "build"

	// Target is the machine the built configuration is activated on.
	Target Role = "target"
)

// Host is a resolved reference to one machine in the deployment
// topology. A Host with an empty Address is the local machine; a
// remote Host always carries a non-empty address. Credentials are
// implicit (ssh-agent), so a Host never holds secrets.
type Host struct {
	// Role is the function this host plays in the run.
	Role Role

	// User is the remote login name. Empty means "current user",
	// resolved at connect time. Always empty for local hosts.
	User string

	// Address is the remote host address, optionally with a ":port"
	// suffix. Empty means the local machine.
	Address string
}

// Local reports whether the host is the local machine.
func (h Host) Local() bool {
	return h.Address == ""
}

// SameHost reports whether two host references point at the same
// logical machine: both local, or both remote with the same address.
// The login user is deliberately ignored — two endpoints naming the
// same address are one machine regardless of which account connects,
// and treating them as distinct would trigger pointless transfers.
func (h Host) SameHost(other Host) bool {
	if h.Local() || other.Local() {
		return h.Local() && other.Local()
	}
	return h.Address == other.Address
}

// SSHDestination returns the "user@address" form used by ssh and by
// nix copy ssh:// store URLs. Panics on local hosts: callers must
// check Local() first, because a local host has no SSH destination.
func (h Host) SSHDestination() string {
	if h.Local() {
		panic("hosts: SSHDestination called on local host")
	}
	if h.User == "" {
		return h.Address
	}
	return h.User + "@" + h.Address
}

// String renders the host for logs and error messages.
func (h Host) String() string {
	if h.Local() {
		return string(h.Role) + " (local)"
	}
	return fmt.Sprintf("%s (%s)", h.Role, h.SSHDestination())
}

// Topology is the resolved set of host references for one run. The
// deployer is always local; build and target are each either the local
// machine or a remote endpoint.
type Topology struct {
	Deployer Host
	Build    Host
	Target   Host
}

// Resolve parses the optional build-host and target-host endpoints
// into a Topology. An empty endpoint means "the deployer, locally":
// unset build-host builds on the deployer, unset target-host activates
// on the deployer. In particular, a remote build with an unset target
// activates on the deployer, not on the build host — the operator who
// named a machine only as a build farm should not have it mutated.
//
// Malformed endpoints are configuration errors; no connection is
// attempted.
func Resolve(buildEndpoint, targetEndpoint string) (Topology, error) {
	topology := Topology{
		Deployer: Host{Role: Deployer},
		Build:    Host{Role: Build},
		Target:   Host{Role: Target},
	}

	if buildEndpoint != "" {
		host, err := ParseEndpoint(Build, buildEndpoint)
		if err != nil {
			return Topology{}, err
		}
		topology.Build = host
	}

	if targetEndpoint != "" {
		host, err := ParseEndpoint(Target, targetEndpoint)
		if err != nil {
			return Topology{}, err
		}
		topology.Target = host
	}

	return topology, nil
}

// ParseEndpoint parses a raw "user@address" or "address" endpoint
// string into a remote Host with the given role. The address may carry
// a ":port" suffix. The user part is optional; an explicit empty user
// ("@address") or empty address ("user@") is malformed.
func ParseEndpoint(role Role, endpoint string) (Host, error) {
	if strings.TrimSpace(endpoint) != endpoint || endpoint == "" {
		return Host{}, fmt.Errorf("%s host %q: leading or trailing whitespace", role, endpoint)
	}
	if strings.ContainsAny(endpoint, " \t") {
		return Host{}, fmt.Errorf("%s host %q: embedded whitespace", role, endpoint)
	}

	user := ""
	address := endpoint
	if at := strings.LastIndexByte(endpoint, '@'); at >= 0 {
		user = endpoint[:at]
		address = endpoint[at+1:]
		if user == "" {
			return Host{}, fmt.Errorf("%s host %q: empty user before '@'", role, endpoint)
		}
	}
	if address == "" {
		return Host{}, fmt.Errorf("%s host %q: empty address", role, endpoint)
	}
	if strings.Count(address, ":") > 1 && !strings.Contains(address, "[") {
		return Host{}, fmt.Errorf("%s host %q: bare IPv6 addresses must be bracketed", role, endpoint)
	}

	return Host{Role: role, User: user, Address: address}, nil
}
