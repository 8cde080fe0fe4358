package compiler

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"icehunt/internal/config"
	"icehunt/internal/errors"
)

// fakeToolchain writes an executable shell script standing in for rustc.
// The script sees the unit path as $1 and the scratch dir after --out-dir.
func fakeToolchain(t *testing.T, script string) config.ToolchainProfile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-rustc")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return config.ToolchainProfile{Bin: path}
}

func testUnit(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unit.rs")
	if err := os.WriteFile(path, []byte("fn main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompileSuccess(t *testing.T) {
	runner := NewRunner(fakeToolchain(t, "exit 0"), nil, 5*time.Second)

	result, err := runner.Compile(context.Background(), testUnit(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Classification != Success {
		t.Errorf("classification = %s, want success", result.Classification)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestCompileError(t *testing.T) {
	runner := NewRunner(fakeToolchain(t, `echo "error[E0308]: mismatched types" >&2; exit 1`), nil, 5*time.Second)

	result, err := runner.Compile(context.Background(), testUnit(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Classification != CompileError {
		t.Errorf("classification = %s, want compile_error", result.Classification)
	}
}

func TestCompileICESignatureBeatsExitCode(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"panicked on stderr nonzero exit", `echo "thread 'rustc' panicked at 'boom'" >&2; exit 101`},
		{"signature on stdout clean exit", `echo "note: Internal Compiler Error detected"; exit 0`},
		{"case insensitive", `echo "QUERY STACK DURING PANIC" >&2; exit 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := NewRunner(fakeToolchain(t, tt.script), nil, 5*time.Second)

			result, err := runner.Compile(context.Background(), testUnit(t))
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if result.Classification != InternalCompilerError {
				t.Errorf("classification = %s, want ice", result.Classification)
			}
			if result.MatchedSignature == "" {
				t.Error("matched signature should be reported")
			}
		})
	}
}

func TestCompileTimeout(t *testing.T) {
	runner := NewRunner(fakeToolchain(t, "sleep 10"), nil, 200*time.Millisecond)

	result, err := runner.Compile(context.Background(), testUnit(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Classification != Timeout {
		t.Errorf("classification = %s, want timeout", result.Classification)
	}
}

func TestCombinedOutputOrdersErrorStreamFirst(t *testing.T) {
	runner := NewRunner(fakeToolchain(t, `echo "to stdout"; echo "to stderr" >&2; exit 0`), nil, 5*time.Second)

	result, err := runner.Compile(context.Background(), testUnit(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Output != "to stderr\nto stdout\n" {
		t.Errorf("combined output = %q, want stderr before stdout", result.Output)
	}
}

func TestScratchCleanupOnAllPaths(t *testing.T) {
	scripts := map[string]string{
		"success": `touch "$3/unit"; exit 0`,
		"failure": `touch "$3/unit"; exit 1`,
		"timeout": `touch "$3/unit"; sleep 10`,
	}

	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			scratchRoot := t.TempDir()
			runner := NewRunner(fakeToolchain(t, script), nil, 200*time.Millisecond)
			runner.ScratchRoot = scratchRoot

			if _, err := runner.Compile(context.Background(), testUnit(t)); err != nil {
				t.Fatalf("Compile: %v", err)
			}

			entries, err := os.ReadDir(scratchRoot)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("scratch root not empty after compile: %d entries remain", len(entries))
			}
		})
	}
}

func TestSpawnFailureIsDistinctError(t *testing.T) {
	profile := config.ToolchainProfile{Bin: filepath.Join(t.TempDir(), "no-such-rustc")}
	runner := NewRunner(profile, nil, time.Second)

	result, err := runner.Compile(context.Background(), testUnit(t))
	if err == nil {
		t.Fatal("spawn failure should surface as an error, not a classification")
	}
	if result != nil {
		t.Error("no result should accompany a spawn failure")
	}

	var he *errors.HarnessError
	if !stderrors.As(err, &he) || he.Code != errors.SpawnFailed {
		t.Errorf("error = %v, want SPAWN_FAILED harness error", err)
	}
}

func TestCancelledCompileIsNotClassified(t *testing.T) {
	runner := NewRunner(fakeToolchain(t, "sleep 10"), nil, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result, err := runner.Compile(ctx, testUnit(t))
	if err == nil {
		t.Fatal("a compile killed by cancellation should surface as an error, not a classification")
	}
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil: a killed process must not be classified", result)
	}
}

func TestExtraEnvInjection(t *testing.T) {
	runner := NewRunner(fakeToolchain(t, `echo "profile=$LLVM_PROFILE_FILE" >&2; exit 0`), nil, 5*time.Second)
	runner.ExtraEnv = []string{"LLVM_PROFILE_FILE=/tmp/cov_%p_%m.profraw"}

	result, err := runner.Compile(context.Background(), testUnit(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Output != "profile=/tmp/cov_%p_%m.profraw\n" {
		t.Errorf("env not injected, output = %q", result.Output)
	}
}
