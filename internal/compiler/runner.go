// Package compiler runs the toolchain under test against single source
// units inside disposable scratch directories and classifies the outcome.
package compiler

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"icehunt/internal/config"
	"icehunt/internal/errors"
)

// Classification is the outcome category of one compile invocation.
type Classification string

const (
	Success               Classification = "success"
	CompileError          Classification = "compile_error"
	Timeout               Classification = "timeout"
	InternalCompilerError Classification = "ice"
)

// Result is the immutable outcome of one Compile call.
type Result struct {
	Classification Classification
	// Output is the concatenated diagnostic text, error stream first,
	// since a crash signature may land in either stream.
	Output string
	// MatchedSignature is the ICE marker that fired, when any did.
	MatchedSignature string
	// ExitCode is the process exit code, -1 on timeout.
	ExitCode int
	Duration time.Duration
}

// IsICE reports whether the result was classified as an internal
// compiler error.
func (r *Result) IsICE() bool {
	return r.Classification == InternalCompilerError
}

// Compiler compiles one source unit and classifies the outcome.
// Implementations must enforce their own timeout and leave no build
// artifact behind.
type Compiler interface {
	Compile(ctx context.Context, unitPath string) (*Result, error)
}

// Runner invokes the external toolchain. Safe for concurrent use: each
// call owns a fresh scratch directory and shares no mutable state.
type Runner struct {
	profile    config.ToolchainProfile
	signatures *SignatureSet
	timeout    time.Duration

	// ScratchRoot is the parent for per-invocation scratch directories.
	// Empty means the system temp dir.
	ScratchRoot string

	// ExtraEnv entries are appended to the subprocess environment
	// (used for LLVM_PROFILE_FILE injection in coverage mode).
	ExtraEnv []string
}

// NewRunner creates a runner for the given toolchain profile.
func NewRunner(profile config.ToolchainProfile, signatures *SignatureSet, timeout time.Duration) *Runner {
	if signatures == nil {
		signatures = DefaultSignatures()
	}
	return &Runner{
		profile:    profile,
		signatures: signatures,
		timeout:    timeout,
	}
}

// Compile runs the toolchain against one source unit. Build artifacts go
// to a fresh scratch directory that is removed on every exit path, and the
// subprocess works inside that directory so the input tree stays clean.
// A process that cannot be spawned is reported as a SPAWN_FAILED error,
// not mapped to any classification.
func (r *Runner) Compile(ctx context.Context, unitPath string) (*Result, error) {
	scratch, err := os.MkdirTemp(r.ScratchRoot, "icehunt-scratch-*")
	if err != nil {
		return nil, errors.New(errors.ScratchFailed, "creating scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	// The subprocess runs inside the scratch dir, so the unit path must
	// not be taken relative to it.
	unitPath, err = filepath.Abs(unitPath)
	if err != nil {
		return nil, errors.New(errors.SpawnFailed, "resolving unit path", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append([]string(nil), r.profile.Args...)
	args = append(args, unitPath, "--out-dir", scratch)

	cmd := exec.CommandContext(ctx, r.profile.Bin, args...)
	cmd.Dir = scratch
	if len(r.ExtraEnv) > 0 {
		cmd.Env = append(os.Environ(), r.ExtraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Do not wait on lingering pipe readers once the process is killed.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	timedOut := stderrors.Is(ctx.Err(), context.DeadlineExceeded)

	// A cancelled parent context kills the process mid-compile. The exit
	// status then says nothing about the unit, so the outcome must not be
	// classified (a killed rustc looks exactly like a compile error).
	if !timedOut && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil && !timedOut {
		var exitErr *exec.ExitError
		if !stderrors.As(runErr, &exitErr) {
			return nil, errors.New(errors.SpawnFailed, "starting "+r.profile.Bin, runErr)
		}
	}

	output := stderr.String() + stdout.String()
	result := &Result{
		Output:   output,
		ExitCode: exitCode,
		Duration: duration,
	}
	result.Classification, result.MatchedSignature = r.classify(output, exitCode, timedOut)
	return result, nil
}

// classify applies the fixed priority order: timeout beats everything, a
// signature hit beats the exit code, and only then does a nonzero exit
// mean a plain compile error.
func (r *Runner) classify(output string, exitCode int, timedOut bool) (Classification, string) {
	if timedOut {
		return Timeout, ""
	}
	if sig, ok := r.signatures.Match(output); ok {
		return InternalCompilerError, sig
	}
	if exitCode != 0 {
		return CompileError, ""
	}
	return Success, ""
}
