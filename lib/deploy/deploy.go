// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy sequences one deployment run: resolve the host
// topology, check the execution guard, build the artifact, move it to
// where it activates, resolve the specialisation, and activate.
//
// Stages run strictly in order and the pipeline short-circuits on the
// first failure; there are no retries and no rollback. Completed stages
// stay completed — a failed activation does not un-copy the closure,
// and recovery is another deployment. Every run produces a Report with
// a per-stage outcome, including the stages that never ran.
package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/deploynix/deploynix/lib/activate"
	"github.com/deploynix/deploynix/lib/build"
	"github.com/deploynix/deploynix/lib/guard"
	"github.com/deploynix/deploynix/lib/hosts"
	"github.com/deploynix/deploynix/lib/runner"
	"github.com/deploynix/deploynix/lib/specialisation"
	"github.com/deploynix/deploynix/lib/transfer"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageResolving               Stage = "resolving"
	StageGuarding                Stage = "guarding"
	StageBuilding                Stage = "building"
	StageTransferring            Stage = "transferring"
	StageResolvingSpecialisation Stage = "resolving-specialisation"
	StageActivating              Stage = "activating"
)

// stageOrder is the fixed execution sequence; Report rows follow it.
var stageOrder = []Stage{
	StageResolving,
	StageGuarding,
	StageBuilding,
	StageTransferring,
	StageResolvingSpecialisation,
	StageActivating,
}

// StageError tags a failure with the stage it happened in, so callers
// can map outcomes to exit codes without string matching.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Status is the outcome of one stage in a run.
type Status string

const (
	// StatusOK means the stage completed.
	StatusOK Status = "ok"

	// StatusFailed means the stage aborted the run.
	StatusFailed Status = "failed"

	// StatusSkipped means the stage never ran, either because an
	// earlier stage failed or because the mode excludes it.
	StatusSkipped Status = "skipped"
)

// StageResult is one row of a run's report.
type StageResult struct {
	Stage  Stage
	Status Status
	Err    error
}

// Report is the full outcome of one pipeline run.
type Report struct {
	// Stages holds one result per pipeline stage, in execution order.
	Stages []StageResult

	// Artifact is the built system's store path. Empty when the build
	// stage never completed.
	Artifact string

	// Specialisation is the resolved specialisation name; empty is the
	// base configuration.
	Specialisation string
}

// RunnerFactory creates the runner for a resolved host. Tests inject
// fakes here; production uses [DefaultRunners].
type RunnerFactory func(host hosts.Host) runner.Runner

// DefaultRunners binds local hosts to process execution and remote
// hosts to SSH sessions.
func DefaultRunners(host hosts.Host) runner.Runner {
	if host.Local() {
		return runner.NewLocal(host)
	}
	return runner.NewSSH(host)
}

// Pipeline holds everything one deployment run needs. Construct, set
// fields, call Run once.
type Pipeline struct {
	// BuildHost and TargetHost are the raw role endpoints ("user@addr"
	// or ""); resolution happens inside Run so endpoint errors are
	// reported as a stage failure like everything else.
	BuildHost  string
	TargetHost string

	// Target is the configuration to build.
	Target build.Target

	// Mode selects the run's side effects.
	Mode activate.Mode

	// BypassRootCheck and EffectiveUID feed the guard stage. Callers
	// populate EffectiveUID from the process identity; the zero value
	// reads as root, which fails closed.
	BypassRootCheck bool
	EffectiveUID    int

	// Preflight runs extra environment checks inside the guarding
	// stage, after the root check, so a privileged run refused by the
	// guard never invokes external tooling. Nil skips.
	Preflight func(ctx context.Context) error

	// Profile selects which specialisation marker the target host is
	// asked for: the system marker (default) or the per-user marker
	// for user-profile activation.
	Profile specialisation.Profile

	// Specialisation pins the specialisation explicitly;
	// NoSpecialisation forces the base configuration. When neither is
	// set the target host's marker decides.
	Specialisation   string
	NoSpecialisation bool

	// InstallBootloader asks activation to reinstall the boot loader.
	InstallBootloader bool

	// OutLink is the local result symlink path. Build-only runs
	// default it to "result".
	OutLink string

	// ExtraBuildArgs pass through to nix build.
	ExtraBuildArgs []string

	// Progress receives streamed build, transfer, and activation
	// output. Nil discards.
	Progress io.Writer

	// Logger receives run-level events. Nil discards.
	Logger *slog.Logger

	// Runners creates per-host runners; nil means [DefaultRunners].
	Runners RunnerFactory
}

// Run executes the pipeline. The returned error, when non-nil, is a
// *StageError naming the failed stage; the Report always covers every
// stage.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	run := &pipelineRun{
		pipeline: p,
		logger:   p.logger(),
		factory:  p.factory(),
		runners:  make(map[string]runner.Runner),
	}
	defer run.closeRunners()
	return run.execute(ctx)
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (p *Pipeline) factory() RunnerFactory {
	if p.Runners != nil {
		return p.Runners
	}
	return DefaultRunners
}

// pipelineRun is the mutable state of one Run call.
type pipelineRun struct {
	pipeline *Pipeline
	logger   *slog.Logger
	factory  RunnerFactory

	runners map[string]runner.Runner
	report  Report
}

// runnerFor returns the runner for a host, creating and caching it by
// address so each machine gets one connection for the whole run. Two
// role endpoints naming the same address with different login users
// share the first-created connection, including its login user;
// per-command privilege comes from sudo on the remote side, not from
// the login identity.
func (r *pipelineRun) runnerFor(host hosts.Host) runner.Runner {
	key := host.Address // "" is the local machine
	if existing, ok := r.runners[key]; ok {
		return existing
	}
	created := r.factory(host)
	r.runners[key] = created
	return created
}

func (r *pipelineRun) closeRunners() {
	for _, run := range r.runners {
		if err := run.Close(); err != nil {
			r.logger.Warn("closing runner", "host", run.Host().String(), "error", err)
		}
	}
}

func (r *pipelineRun) execute(ctx context.Context) (Report, error) {
	p := r.pipeline
	buildOnly := p.Mode == activate.ModeBuild

	// Resolving.
	topology, err := hosts.Resolve(p.BuildHost, p.TargetHost)
	if err != nil {
		return r.fail(StageResolving, err)
	}
	r.ok(StageResolving)
	r.logger.Info("topology resolved",
		"build", topology.Build.String(),
		"target", topology.Target.String())

	// Guarding. The root check comes first: a refused privileged run
	// must not have touched nix or the network through Preflight.
	if err := guard.Check(r.logger, p.EffectiveUID, p.BypassRootCheck); err != nil {
		return r.fail(StageGuarding, err)
	}
	if p.Preflight != nil {
		if err := p.Preflight(ctx); err != nil {
			return r.fail(StageGuarding, err)
		}
	}
	r.ok(StageGuarding)

	// Building. The out-link is only created by a local build; remote
	// build-only runs link after the artifact is transferred back.
	outLink := p.OutLink
	if buildOnly && outLink == "" {
		outLink = "result"
	}
	buildRunner := r.runnerFor(topology.Build)
	artifact, err := build.Build(ctx, buildRunner, p.Target, build.Options{
		OutLink:   outLink,
		ExtraArgs: p.ExtraBuildArgs,
		Progress:  p.Progress,
	})
	if err != nil {
		return r.fail(StageBuilding, err)
	}
	r.report.Artifact = artifact
	r.ok(StageBuilding)
	r.logger.Info("artifact built", "artifact", artifact, "host", topology.Build.String())

	// Transferring. Build-only runs pull the artifact back to the
	// deployer; everything else pushes it to the target.
	destination := topology.Target
	if buildOnly {
		destination = topology.Deployer
	}
	deployerRunner := r.runnerFor(topology.Deployer)
	if err := transfer.Copy(ctx, deployerRunner, artifact, topology.Build, destination, p.Progress); err != nil {
		return r.fail(StageTransferring, err)
	}
	if buildOnly && !topology.Build.Local() {
		if err := build.Link(ctx, deployerRunner, artifact, outLink); err != nil {
			return r.fail(StageTransferring, err)
		}
	}
	r.ok(StageTransferring)

	if buildOnly {
		r.skip(StageResolvingSpecialisation)
		r.skip(StageActivating)
		return r.report, nil
	}

	// Resolving specialisation. Explicit choice beats the marker.
	targetRunner := r.runnerFor(topology.Target)
	switch {
	case p.NoSpecialisation:
		r.report.Specialisation = ""
	case p.Specialisation != "":
		r.report.Specialisation = p.Specialisation
	default:
		r.report.Specialisation = specialisation.Resolve(ctx, targetRunner, p.Profile.MarkerPath())
	}
	r.ok(StageResolvingSpecialisation)
	if r.report.Specialisation != "" {
		r.logger.Info("specialisation resolved", "specialisation", r.report.Specialisation)
	}

	// Activating.
	err = activate.Activate(ctx, targetRunner, artifact, p.Mode, activate.Options{
		Specialisation:    r.report.Specialisation,
		InstallBootloader: p.InstallBootloader,
		Progress:          p.Progress,
	})
	if err != nil {
		return r.fail(StageActivating, err)
	}
	r.ok(StageActivating)
	r.logger.Info("activation complete", "mode", string(p.Mode), "target", topology.Target.String())

	return r.report, nil
}

func (r *pipelineRun) ok(stage Stage) {
	r.report.Stages = append(r.report.Stages, StageResult{Stage: stage, Status: StatusOK})
}

func (r *pipelineRun) skip(stage Stage) {
	r.report.Stages = append(r.report.Stages, StageResult{Stage: stage, Status: StatusSkipped})
}

// fail records the failed stage, marks every remaining stage skipped,
// and returns the tagged error.
func (r *pipelineRun) fail(stage Stage, err error) (Report, error) {
	r.report.Stages = append(r.report.Stages, StageResult{Stage: stage, Status: StatusFailed, Err: err})
	seen := make(map[Stage]bool, len(r.report.Stages))
	for _, result := range r.report.Stages {
		seen[result.Stage] = true
	}
	for _, remaining := range stageOrder {
		if !seen[remaining] {
			r.skip(remaining)
		}
	}
	return r.report, &StageError{Stage: stage, Err: err}
}
