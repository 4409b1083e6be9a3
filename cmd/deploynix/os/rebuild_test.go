// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package os

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/deploynix/deploynix/lib/build"
	"github.com/deploynix/deploynix/lib/config"
	"github.com/deploynix/deploynix/lib/deploy"
)

func TestEndpointHostname(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     string
	}{
		{"web1", "web1"},
		{"web1.example.com", "web1"},
		{"admin@web1.example.com", "web1"},
		{"admin@web1.example.com:2222", "web1"},
		{"web1:2222", "web1"},
	}
	for _, test := range tests {
		if got := endpointHostname(test.endpoint); got != test.want {
			t.Errorf("endpointHostname(%q) = %q, want %q", test.endpoint, got, test.want)
		}
	}
}

func TestConfigurationName(t *testing.T) {
	t.Parallel()

	if got, err := configurationName("pinned", "admin@web1.example.com"); err != nil || got != "pinned" {
		t.Errorf("explicit hostname: got %q, %v", got, err)
	}
	if got, err := configurationName("", "admin@web1.example.com"); err != nil || got != "web1" {
		t.Errorf("target hostname: got %q, %v", got, err)
	}
	got, err := configurationName("", "")
	if err != nil || got == "" {
		t.Errorf("local hostname: got %q, %v", got, err)
	}
}

func TestExitCodeForStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stage deploy.Stage
		want  int
	}{
		{deploy.StageResolving, exitConfig},
		{deploy.StageGuarding, exitConfig},
		{deploy.StageBuilding, exitBuild},
		{deploy.StageTransferring, exitTransfer},
		{deploy.StageResolvingSpecialisation, exitConfig},
		{deploy.StageActivating, exitActivation},
	}
	for _, test := range tests {
		if got := exitCodeForStage(test.stage); got != test.want {
			t.Errorf("exitCodeForStage(%s) = %d, want %d", test.stage, got, test.want)
		}
	}
}

func TestResolveTargetPrecedence(t *testing.T) {
	t.Setenv(build.EnvFlake, "")
	t.Setenv(build.EnvFile, "")

	// Flag beats config.
	target, err := resolveTarget(".#box", "", config.Config{Flake: "github:org/other"})
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if target.Ref != "." {
		t.Errorf("ref = %q, want flag value", target.Ref)
	}

	// Config fills in when flags and environment are empty.
	target, err = resolveTarget("", "", config.Config{Flake: "github:org/infra#box"})
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if target.Ref != "github:org/infra" {
		t.Errorf("ref = %q, want config value", target.Ref)
	}

	// Config file form.
	target, err = resolveTarget("", "", config.Config{File: "/etc/nixos/default.nix"})
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if target.Flake || target.File != "/etc/nixos/default.nix" {
		t.Errorf("target = %+v", target)
	}

	// Nothing anywhere is an error.
	if _, err := resolveTarget("", "", config.Config{}); err == nil {
		t.Fatal("expected error with no target anywhere")
	}
}

func TestRenderReport(t *testing.T) {
	t.Parallel()

	report := deploy.Report{
		Stages: []deploy.StageResult{
			{Stage: deploy.StageResolving, Status: deploy.StatusOK},
			{Stage: deploy.StageGuarding, Status: deploy.StatusOK},
			{Stage: deploy.StageBuilding, Status: deploy.StatusFailed, Err: errors.New("evaluation error")},
			{Stage: deploy.StageTransferring, Status: deploy.StatusSkipped},
		},
	}
	rendered := renderReport(report)
	for _, want := range []string{"resolving", "building", "evaluation error", "skipped"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered report missing %q:\n%s", want, rendered)
		}
	}
}

func TestReportDocument(t *testing.T) {
	t.Parallel()

	report := deploy.Report{
		Stages: []deploy.StageResult{
			{Stage: deploy.StageResolving, Status: deploy.StatusOK},
			{Stage: deploy.StageGuarding, Status: deploy.StatusFailed, Err: errors.New("running as root")},
		},
		Artifact: "/nix/store/abc-system",
	}
	runErr := &deploy.StageError{Stage: deploy.StageGuarding, Err: errors.New("running as root")}

	document := reportDocument(report, runErr)
	if len(document.Stages) != 2 {
		t.Fatalf("stages = %d", len(document.Stages))
	}
	if document.Stages[1].Error != "running as root" {
		t.Errorf("stage error = %q", document.Stages[1].Error)
	}
	if document.Artifact != "/nix/store/abc-system" {
		t.Errorf("artifact = %q", document.Artifact)
	}
	if !strings.Contains(document.Error, "running as root") {
		t.Errorf("document error = %q", document.Error)
	}
}

func TestPreflightChecksSkipRemoteBuilds(t *testing.T) {
	t.Parallel()

	// A remote builder has its own nix installation; the local probes
	// must not run at all, so this passes even without nix on PATH.
	target := build.Target{Flake: true, Ref: "."}
	preflight := preflightChecks(discardLogger(), target, "builder@farm.example.com")
	if err := preflight(context.Background()); err != nil {
		t.Errorf("preflight for a remote build should be a no-op, got %v", err)
	}
}

func TestPreflightChecksHonorNoChecksEnv(t *testing.T) {
	t.Setenv(EnvNoChecks, "1")

	target := build.Target{Flake: true, Ref: "."}
	preflight := preflightChecks(discardLogger(), target, "")
	if err := preflight(context.Background()); err != nil {
		t.Errorf("preflight with %s set should be a no-op, got %v", EnvNoChecks, err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFirstNonEmpty(t *testing.T) {
	t.Parallel()

	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty = %q, want empty", got)
	}
}
