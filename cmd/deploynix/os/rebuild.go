// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package os

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdos "os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/deploynix/deploynix/cmd/deploynix/cli"
	"github.com/deploynix/deploynix/lib/activate"
	"github.com/deploynix/deploynix/lib/build"
	"github.com/deploynix/deploynix/lib/config"
	"github.com/deploynix/deploynix/lib/deploy"
	"github.com/deploynix/deploynix/lib/nix"
)

// Environment fallbacks for the host-selection flags. The target and
// specialisation variables mirror the configuration-source variables in
// lib/build; DEPLOYNIX_NO_CHECKS skips the pre-build environment
// checks (version warning and flake feature probe).
const (
	EnvBuildHost       = "DEPLOYNIX_BUILD_HOST"
	EnvTargetHost      = "DEPLOYNIX_TARGET_HOST"
	EnvSpecialisation  = "DEPLOYNIX_SPECIALISATION"
	EnvBypassRootCheck = "DEPLOYNIX_BYPASS_ROOT_CHECK"
	EnvNoChecks        = "DEPLOYNIX_NO_CHECKS"
)

// Exit codes per failed pipeline stage, so scripts can branch on what
// went wrong without parsing output.
const (
	exitConfig     = 1
	exitBuild      = 2
	exitTransfer   = 3
	exitActivation = 4
)

// rebuildParams is the shared flag surface of every os subcommand.
type rebuildParams struct {
	cli.JSONOutput

	File              string `flag:"file,f" desc:"build from a legacy Nix expression file instead of a flake"`
	Hostname          string `flag:"hostname,H" desc:"NixOS configuration name to build (defaults to the target's hostname)"`
	Specialisation    string `flag:"specialisation,s" desc:"activate this specialisation"`
	NoSpecialisation  bool   `flag:"no-specialisation,S" desc:"activate the base configuration, ignoring the host's marker"`
	InstallBootloader bool   `flag:"install-bootloader" desc:"(re)install the boot loader during activation"`
	BypassRootCheck   bool   `flag:"bypass-root-check,R" desc:"allow running as root"`
	BuildHost         string `flag:"build-host" desc:"build on this host (user@address)"`
	TargetHost        string `flag:"target-host" desc:"activate on this host (user@address)"`
	OutLink           string `flag:"out-link" desc:"path for the build result symlink (local builds and build-only runs)"`
	ConfigFile        string `flag:"config" desc:"path to the deploy defaults file"`
}

// runRebuild is the shared handler behind switch/boot/test/dry-activate/build.
func runRebuild(ctx context.Context, args []string, logger *slog.Logger, params *rebuildParams, mode activate.Mode) error {
	positional, extraBuildArgs := cli.SplitDash(args)
	if len(positional) > 1 {
		return cli.Validation("expected at most one INSTALLABLE argument, got %d: %s",
			len(positional), strings.Join(positional, " "))
	}
	installable := ""
	if len(positional) == 1 {
		installable = positional[0]
	}

	cfg, err := config.Load(params.ConfigFile)
	if err != nil {
		return cli.Validation("%v", err)
	}

	target, err := resolveTarget(installable, params.File, cfg)
	if err != nil {
		return cli.Validation("%v", err)
	}

	buildHost := firstNonEmpty(params.BuildHost, stdos.Getenv(EnvBuildHost), cfg.BuildHost)
	targetHost := firstNonEmpty(params.TargetHost, stdos.Getenv(EnvTargetHost), cfg.TargetHost)
	spec := firstNonEmpty(params.Specialisation, stdos.Getenv(EnvSpecialisation), cfg.Specialisation)
	outLink := firstNonEmpty(params.OutLink, cfg.OutLink)

	hostname, err := configurationName(params.Hostname, targetHost)
	if err != nil {
		return cli.Internal("determining configuration name: %v", err)
	}
	target = target.ForSystem(hostname)

	logger.Info("deploying",
		"target", target.String(),
		"mode", string(mode),
		"build_host", orLocal(buildHost),
		"target_host", orLocal(targetHost))

	pipeline := &deploy.Pipeline{
		BuildHost:         buildHost,
		TargetHost:        targetHost,
		Target:            target,
		Mode:              mode,
		BypassRootCheck:   params.BypassRootCheck || stdos.Getenv(EnvBypassRootCheck) != "",
		EffectiveUID:      unix.Geteuid(),
		Specialisation:    spec,
		NoSpecialisation:  params.NoSpecialisation,
		InstallBootloader: params.InstallBootloader,
		Preflight:         preflightChecks(logger, target, buildHost),
		OutLink:           outLink,
		ExtraBuildArgs:    extraBuildArgs,
		Progress:          stdos.Stderr,
		Logger:            logger,
	}

	report, runErr := pipeline.Run(ctx)

	if done, err := params.EmitJSON(reportDocument(report, runErr)); done {
		if err != nil {
			return err
		}
	} else {
		fmt.Fprint(stdos.Stdout, renderReport(report))
	}

	if runErr == nil {
		return nil
	}

	var stageErr *deploy.StageError
	if errors.As(runErr, &stageErr) {
		logger.Error("deployment failed", "stage", string(stageErr.Stage), "error", stageErr.Err.Error())
		return &cli.ExitError{Code: exitCodeForStage(stageErr.Stage)}
	}
	return runErr
}

// Minimum supported toolchain versions. Older installations usually
// work, so the check only warns; the minimums track the current stable
// releases of each implementation.
const (
	minNixVersion = "2.24.14"
	minLixVersion = "2.91.1"
)

// preflightChecks builds the pipeline's pre-build environment checks.
// They run inside the guarding stage, after the root check, so a
// refused privileged run never invokes nix. Only meaningful for local
// builds — a remote builder has its own nix installation and
// configuration — and skippable wholesale via DEPLOYNIX_NO_CHECKS.
func preflightChecks(logger *slog.Logger, target build.Target, buildHost string) func(context.Context) error {
	return func(ctx context.Context) error {
		if buildHost != "" || stdos.Getenv(EnvNoChecks) != "" {
			return nil
		}

		warnOutdatedNix(ctx, logger)

		if !target.Flake {
			return nil
		}
		// Flakes need the experimental features enabled; probing here
		// gets the operator a configuration error instead of a
		// mid-evaluation failure.
		missing, err := nix.MissingExperimentalFeatures(ctx, "nix-command", "flakes")
		if err != nil {
			logger.Warn("could not probe nix experimental features", "error", err)
			return nil
		}
		if len(missing) > 0 {
			return fmt.Errorf("nix experimental features %s are not enabled "+
				"(enable them in nix.conf, or set %s=1 to skip this check)",
				strings.Join(missing, ", "), EnvNoChecks)
		}
		return nil
	}
}

// warnOutdatedNix nudges the operator when the local nix is older than
// the supported minimum. Advisory only: a probe failure or an old
// version never aborts the run.
func warnOutdatedNix(ctx context.Context, logger *slog.Logger) {
	version, err := nix.Version(ctx)
	if err != nil {
		logger.Warn("could not probe nix version", "error", err)
		return
	}

	implementation, minimum := "Nix", minNixVersion
	if lix, err := nix.IsLix(ctx); err == nil && lix {
		implementation, minimum = "Lix", minLixVersion
	}

	ordering, err := nix.CompareVersions(version, minimum)
	if err != nil {
		logger.Warn("could not compare nix versions", "version", version, "error", err)
		return
	}
	if ordering < 0 {
		logger.Warn("installed nix is older than the supported minimum; you may encounter issues",
			"implementation", implementation, "version", version, "minimum", minimum)
	}
}

// resolveTarget layers the config file under the flag and environment
// resolution in lib/build: flags beat environment beat config file.
func resolveTarget(installable, file string, cfg config.Config) (build.Target, error) {
	target, err := build.FromCLI(installable, file)
	if err == nil {
		return target, nil
	}
	if cfg.Flake != "" {
		return build.FromCLI(cfg.Flake, "")
	}
	if cfg.File != "" {
		return build.FromCLI("", cfg.File)
	}
	return build.Target{}, err
}

// configurationName picks the NixOS configuration name to build: the
// explicit --hostname, the target host's name for remote deployments,
// or the local hostname.
func configurationName(flagValue, targetEndpoint string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if targetEndpoint != "" {
		return endpointHostname(targetEndpoint), nil
	}
	return stdos.Hostname()
}

// endpointHostname extracts the bare machine name from a "user@address"
// endpoint: the login user, port suffix, and domain components are all
// dropped, matching how NixOS configurations are conventionally named
// after short hostnames.
func endpointHostname(endpoint string) string {
	address := endpoint
	if at := strings.LastIndexByte(address, '@'); at >= 0 {
		address = address[at+1:]
	}
	if colon := strings.IndexByte(address, ':'); colon >= 0 && !strings.Contains(address, "[") {
		address = address[:colon]
	}
	name, _, _ := strings.Cut(address, ".")
	return name
}

// exitCodeForStage maps a failed pipeline stage to the command's exit
// code.
func exitCodeForStage(stage deploy.Stage) int {
	switch stage {
	case deploy.StageBuilding:
		return exitBuild
	case deploy.StageTransferring:
		return exitTransfer
	case deploy.StageActivating:
		return exitActivation
	default:
		// Resolving, guarding, and specialisation resolution are all
		// configuration-shaped failures.
		return exitConfig
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func orLocal(endpoint string) string {
	if endpoint == "" {
		return "local"
	}
	return endpoint
}
