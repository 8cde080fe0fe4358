package sweep

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"icehunt/internal/archive"
	"icehunt/internal/compiler"
	"icehunt/internal/config"
	"icehunt/internal/coverage"
	"icehunt/internal/errors"
	"icehunt/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.JSONFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
}

// stubCompiler records invocations and answers with a canned result per
// unit. The default answer is a clean success.
type stubCompiler struct {
	mu     sync.Mutex
	calls  map[string]int
	answer func(unitPath string) (*compiler.Result, error)
}

func newStubCompiler() *stubCompiler {
	return &stubCompiler{calls: make(map[string]int)}
}

func (s *stubCompiler) Compile(ctx context.Context, unitPath string) (*compiler.Result, error) {
	s.mu.Lock()
	s.calls[filepath.Base(unitPath)]++
	s.mu.Unlock()
	if s.answer != nil {
		return s.answer(unitPath)
	}
	return &compiler.Result{Classification: compiler.Success}, nil
}

func (s *stubCompiler) callCount(base string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[base]
}

func writeUnits(t *testing.T, root string, units map[string]string) {
	t.Helper()
	for rel, content := range units {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func openTestLedger(t *testing.T, dir string) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(dir, "checked_files.log"), 50)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSweepEndToEnd(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	archiveRoot := filepath.Join(dir, "ice")
	writeUnits(t, root, map[string]string{
		"clean.rs":        "fn main() {}\n",
		"broken.rs":       "fn main() { BAD }\n",
		"crash/panics.rs": "fn main() { PANIC }\n",
	})

	// The fake toolchain keys its behavior off markers in the unit text,
	// the way a real compiler keys off the code it is fed.
	script := filepath.Join(dir, "fake-rustc")
	body := `#!/bin/sh
if grep -q PANIC "$1"; then
  echo "thread 'rustc' panicked at 'assertion failed'" >&2
  exit 101
fi
if grep -q BAD "$1"; then
  echo "error[E0425]: cannot find value" >&2
  exit 1
fi
exit 0
`
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}

	runner := compiler.NewRunner(config.ToolchainProfile{Bin: script}, nil, 10*time.Second)
	ledger := openTestLedger(t, dir)
	ctrl := NewController(
		Options{Root: root, FileSuffix: ".rs", Workers: 2},
		runner, ledger, archive.NewArchiver(root, archiveRoot), nil, testLogger(),
	)

	var observed []string
	ctrl.OnICE = func(relPath, signature string) {
		observed = append(observed, relPath+"|"+signature)
	}

	stats, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Total != 3 || stats.Processed != 3 {
		t.Errorf("total/processed = %d/%d, want 3/3", stats.Total, stats.Processed)
	}
	if stats.Successes != 1 || stats.CompileErrors != 1 || stats.ICEFound != 1 {
		t.Errorf("successes/errors/ice = %d/%d/%d, want 1/1/1",
			stats.Successes, stats.CompileErrors, stats.ICEFound)
	}

	for _, rel := range []string{"clean.rs", "broken.rs", filepath.Join("crash", "panics.rs")} {
		if !ledger.Contains(rel) {
			t.Errorf("%s missing from ledger", rel)
		}
	}

	// Exactly one finding archived: mirrored source plus diagnostic log.
	src := filepath.Join(archiveRoot, "crash", "panics.rs")
	if _, err := os.Stat(src); err != nil {
		t.Errorf("archived source missing: %v", err)
	}
	logData, err := os.ReadFile(filepath.Join(archiveRoot, "crash", "panics.err.log"))
	if err != nil {
		t.Fatalf("archived diagnostic missing: %v", err)
	}
	if !strings.Contains(string(logData), "panicked at") {
		t.Errorf("diagnostic log = %q, want compiler output", logData)
	}
	var archived int
	filepath.WalkDir(archiveRoot, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			archived++
		}
		return nil
	})
	if archived != 2 {
		t.Errorf("archive root holds %d files, want source + log pair", archived)
	}

	if len(observed) != 1 || !strings.HasPrefix(observed[0], filepath.Join("crash", "panics.rs")+"|") {
		t.Errorf("OnICE observations = %v", observed)
	}
}

func TestSweepSkipsLedgeredUnits(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	writeUnits(t, root, map[string]string{
		"seen.rs": "fn main() {}\n",
		"new.rs":  "fn main() {}\n",
	})

	ledger := openTestLedger(t, dir)
	if err := ledger.Append("seen.rs"); err != nil {
		t.Fatal(err)
	}

	stub := newStubCompiler()
	ctrl := NewController(
		Options{Root: root, Workers: 1},
		stub, ledger, archive.NewArchiver(root, filepath.Join(dir, "ice")), nil, testLogger(),
	)

	stats, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Skipped != 1 || stats.Processed != 1 {
		t.Errorf("skipped/processed = %d/%d, want 1/1", stats.Skipped, stats.Processed)
	}
	if stub.callCount("seen.rs") != 0 {
		t.Error("ledgered unit was recompiled")
	}
	if stub.callCount("new.rs") != 1 {
		t.Error("unledgered unit was not compiled")
	}
}

func TestSweepResumeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	writeUnits(t, root, map[string]string{
		"a.rs": "fn main() {}\n",
		"b.rs": "fn main() {}\n",
		"c.rs": "fn main() {}\n",
	})

	ledger := openTestLedger(t, dir)
	stub := newStubCompiler()
	ctrl := NewController(
		Options{Root: root, Workers: 2},
		stub, ledger, archive.NewArchiver(root, filepath.Join(dir, "ice")), nil, testLogger(),
	)

	first, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Processed != 3 {
		t.Fatalf("first run processed %d, want 3", first.Processed)
	}

	second, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Processed != 0 || second.Skipped != 3 {
		t.Errorf("resume processed/skipped = %d/%d, want 0/3",
			second.Processed, second.Skipped)
	}
	for base, n := range map[string]int{"a.rs": 1, "b.rs": 1, "c.rs": 1} {
		if stub.callCount(base) != n {
			t.Errorf("%s compiled %d times, want exactly once", base, stub.callCount(base))
		}
	}
}

func TestSweepTimeoutIsLedgered(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	writeUnits(t, root, map[string]string{"slow.rs": "fn main() { loop {} }\n"})

	ledger := openTestLedger(t, dir)
	stub := newStubCompiler()
	stub.answer = func(string) (*compiler.Result, error) {
		return &compiler.Result{Classification: compiler.Timeout, ExitCode: -1}, nil
	}
	ctrl := NewController(
		Options{Root: root, Workers: 1},
		stub, ledger, archive.NewArchiver(root, filepath.Join(dir, "ice")), nil, testLogger(),
	)

	stats, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Timeouts != 1 || stats.Processed != 1 {
		t.Errorf("timeouts/processed = %d/%d, want 1/1", stats.Timeouts, stats.Processed)
	}
	if !ledger.Contains("slow.rs") {
		t.Error("timed-out unit must be ledgered so it is never retried")
	}
}

func TestSweepSpawnFailureRetriedNextRun(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	writeUnits(t, root, map[string]string{"unit.rs": "fn main() {}\n"})

	ledger := openTestLedger(t, dir)
	stub := newStubCompiler()
	stub.answer = func(string) (*compiler.Result, error) {
		return nil, errors.New(errors.SpawnFailed, "failed to invoke compiler", nil)
	}
	ctrl := NewController(
		Options{Root: root, Workers: 1},
		stub, ledger, archive.NewArchiver(root, filepath.Join(dir, "ice")), nil, testLogger(),
	)

	stats, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.SpawnFailures != 1 || stats.Processed != 0 {
		t.Errorf("spawn failures/processed = %d/%d, want 1/0",
			stats.SpawnFailures, stats.Processed)
	}
	if ledger.Contains("unit.rs") {
		t.Error("spawn failure must not be ledgered")
	}

	// The next run sees the unit again.
	stub.answer = nil
	stats, err = ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats.Processed != 1 {
		t.Errorf("retry processed = %d, want 1", stats.Processed)
	}
	if stub.callCount("unit.rs") != 2 {
		t.Errorf("unit compiled %d times, want 2", stub.callCount("unit.rs"))
	}
}

func TestSweepCancelledCompileNotLedgered(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	writeUnits(t, root, map[string]string{"unit.rs": "fn main() {}\n"})

	ledger := openTestLedger(t, dir)
	stub := newStubCompiler()

	// The compile is killed mid-flight by cancellation and surfaces the
	// context error, the way the runner reports a killed process.
	ctx, cancel := context.WithCancel(context.Background())
	stub.answer = func(string) (*compiler.Result, error) {
		cancel()
		return nil, context.Canceled
	}
	ctrl := NewController(
		Options{Root: root, Workers: 1},
		stub, ledger, archive.NewArchiver(root, filepath.Join(dir, "ice")), nil, testLogger(),
	)

	stats, err := ctrl.Run(ctx)
	if err == nil {
		t.Fatal("Run should report the cancellation")
	}
	if stats.Processed != 0 || stats.SpawnFailures != 0 {
		t.Errorf("processed/spawn failures = %d/%d, want 0/0 for a cancelled compile",
			stats.Processed, stats.SpawnFailures)
	}
	if ledger.Contains("unit.rs") {
		t.Error("a unit whose compile was killed by cancellation must not be ledgered")
	}

	// The next run retries the unit.
	stub.answer = nil
	stats, err = ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats.Processed != 1 || !ledger.Contains("unit.rs") {
		t.Errorf("retry processed = %d, ledgered = %v, want the unit processed",
			stats.Processed, ledger.Contains("unit.rs"))
	}
}

func TestSweepArchiveFailureStillLedgers(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	writeUnits(t, root, map[string]string{"crash.rs": "fn main() {}\n"})

	ledger := openTestLedger(t, dir)
	stub := newStubCompiler()
	stub.answer = func(unitPath string) (*compiler.Result, error) {
		// Remove the unit before the archiver can mirror it.
		os.Remove(unitPath)
		return &compiler.Result{
			Classification:   compiler.InternalCompilerError,
			MatchedSignature: "internal compiler error",
			Output:           "error: internal compiler error: boom\n",
		}, nil
	}
	ctrl := NewController(
		Options{Root: root, Workers: 1},
		stub, ledger, archive.NewArchiver(root, filepath.Join(dir, "ice")), nil, testLogger(),
	)

	stats, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.ICEFound != 0 {
		t.Errorf("ICEFound = %d, want 0 when archival failed", stats.ICEFound)
	}
	if stats.Processed != 1 {
		t.Errorf("processed = %d, want 1", stats.Processed)
	}
	if !ledger.Contains("crash.rs") {
		t.Error("unit must stay ledgered even when archival fails")
	}
}

// fakeProfdata concatenates every input profile into the output, so the
// merged index records which fragments contributed.
func fakeProfdata(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-profdata")
	body := `#!/bin/sh
out=""
inputs=""
while [ $# -gt 0 ]; do
  case "$1" in
    merge|-sparse) ;;
    -o) shift; out="$1" ;;
    *) inputs="$inputs $1" ;;
  esac
  shift
done
cat $inputs > "$out"
`
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweepMergesCoverageInBatches(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "code_gen")
	units := map[string]string{}
	for _, name := range []string{"a.rs", "b.rs", "c.rs", "d.rs"} {
		units[name] = "fn main() {}\n"
	}
	writeUnits(t, root, units)

	fragmentDir := filepath.Join(dir, "coverage_incoming")
	indexPath := filepath.Join(dir, "fuzzing_total.profdata")
	merger, err := coverage.NewMerger(fragmentDir, indexPath, fakeProfdata(t, dir), 2, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ledger := openTestLedger(t, dir)
	stub := newStubCompiler()
	stub.answer = func(unitPath string) (*compiler.Result, error) {
		// Each compile drops one instrumented-run fragment, the way an
		// instrumented rustc honours LLVM_PROFILE_FILE.
		name := "cov_" + filepath.Base(unitPath) + "_0.profraw"
		frag := filepath.Join(fragmentDir, name)
		if err := os.WriteFile(frag, []byte(filepath.Base(unitPath)+"\n"), 0644); err != nil {
			return nil, err
		}
		return &compiler.Result{Classification: compiler.Success}, nil
	}

	ctrl := NewController(
		Options{Root: root, Workers: 1},
		stub, ledger, archive.NewArchiver(root, filepath.Join(dir, "ice")), merger, testLogger(),
	)

	stats, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 4 {
		t.Fatalf("processed = %d, want 4", stats.Processed)
	}

	// Every fragment was consumed by a merge.
	pending, err := merger.PendingFragments()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("%d fragments left after sweep, want 0", len(pending))
	}

	// The index reflects all four instrumented runs.
	index, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("merged index missing: %v", err)
	}
	for _, name := range []string{"a.rs", "b.rs", "c.rs", "d.rs"} {
		if !strings.Contains(string(index), name) {
			t.Errorf("index missing contribution from %s", name)
		}
	}
}
