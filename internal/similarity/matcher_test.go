package similarity

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"icehunt/internal/logging"
)

const snippetCode = `if a > b {
    println!("a > b");
}
`

const selfMatchFile = `fn main() {
    let a = 3;
    let b = 5;
    if a > b {
        println!("a > b");
    }
}
`

const unrelatedFile = `struct Point {
    x: f64,
    y: f64,
}

impl Point {
    fn norm(&self) -> f64 {
        (self.x * self.x + self.y * self.y).sqrt()
    }
}
`

func TestSelfMatchScoresOne(t *testing.T) {
	m := NewMatcher(0.6)

	score, err := m.Score(context.Background(), []byte(snippetCode), []byte(selfMatchFile))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(score-1.0) > 1e-6 {
		t.Errorf("score = %v, want 1.0 for a file containing the exact snippet", score)
	}

	matched, _, err := m.Matches(context.Background(), []byte(snippetCode), []byte(selfMatchFile))
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !matched {
		t.Error("exact containment should match at threshold 0.6")
	}
}

func TestTrivialSnippetNeverMatches(t *testing.T) {
	// A comment-only snippet has structural depth 1. It must not match
	// anything even at threshold 0, where a zero score would otherwise
	// clear the bar.
	m := NewMatcher(0.0)

	score, err := m.Score(context.Background(), []byte("// flat\n"), []byte(selfMatchFile))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0 {
		t.Errorf("depth-1 snippet score = %v, want 0", score)
	}

	matched, score, err := m.Matches(context.Background(), []byte("// flat\n"), []byte(selfMatchFile))
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if matched {
		t.Errorf("depth-1 snippet matched (score %v); trivial snippets must never match", score)
	}

	// An empty snippet produces no structural document at all.
	matched, _, err = m.Matches(context.Background(), nil, []byte(selfMatchFile))
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if matched {
		t.Error("empty snippet must never match")
	}
}

func TestUnrelatedFileScoresLow(t *testing.T) {
	m := NewMatcher(0.6)

	score, err := m.Score(context.Background(), []byte(snippetCode), []byte(unrelatedFile))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score >= 0.6 {
		t.Errorf("unrelated file score = %v, want < 0.6", score)
	}
}

func TestScoresAreThresholdIndependent(t *testing.T) {
	low := NewMatcher(0.1)
	high := NewMatcher(0.9)

	ctx := context.Background()
	s1, err := low.Score(ctx, []byte(snippetCode), []byte(selfMatchFile))
	if err != nil {
		t.Fatal(err)
	}
	s2, err := high.Score(ctx, []byte(snippetCode), []byte(selfMatchFile))
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Errorf("score depends on threshold: %v vs %v", s1, s2)
	}
}

func TestPersistMirrorsRelativePath(t *testing.T) {
	corpus := t.TempDir()
	output := t.TempDir()

	src := filepath.Join(corpus, "batch_01", "seed_042.rs")
	if err := os.MkdirAll(filepath.Dir(src), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte(selfMatchFile), 0644); err != nil {
		t.Fatal(err)
	}

	saved, err := Persist([]byte(selfMatchFile), corpus, src, output)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	want := filepath.Join(output, "batch_01", "seed_042.rs")
	if saved != want {
		t.Errorf("saved path = %q, want %q", saved, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("matched file not written: %v", err)
	}
	if string(data) != selfMatchFile {
		t.Error("persisted content must be the untouched candidate source")
	}
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel, Output: os.Stderr})
}

func TestMatchDirectory(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"hit/contains_snippet.rs": selfMatchFile,
		"miss/geometry.rs":        unrelatedFile,
		"miss/not_rust.txt":       "plain text, wrong suffix",
	})
	output := t.TempDir()

	results, err := MatchDirectory(context.Background(), []byte(snippetCode), BatchOptions{
		CorpusRoot: corpus,
		OutputRoot: output,
		FileSuffix: ".rs",
		Threshold:  0.6,
		Workers:    2,
	}, testLogger())
	if err != nil {
		t.Fatalf("MatchDirectory: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("got %d matches, want 1: %+v", len(results), results)
	}
	if results[0].Path != filepath.Join("hit", "contains_snippet.rs") {
		t.Errorf("matched path = %q", results[0].Path)
	}
	if _, err := os.Stat(filepath.Join(output, "hit", "contains_snippet.rs")); err != nil {
		t.Errorf("matched file should be mirrored under output root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(output, "miss", "geometry.rs")); !os.IsNotExist(err) {
		t.Error("non-matching file must not be persisted")
	}
}

func TestMatchDirectoryThresholdMonotonicity(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"a.rs": selfMatchFile,
		"b.rs": unrelatedFile,
	})

	matchedAt := func(threshold float64) map[string]bool {
		results, err := MatchDirectory(context.Background(), []byte(snippetCode), BatchOptions{
			CorpusRoot: corpus,
			OutputRoot: t.TempDir(),
			Threshold:  threshold,
			Workers:    1,
		}, testLogger())
		if err != nil {
			t.Fatalf("MatchDirectory(%v): %v", threshold, err)
		}
		set := make(map[string]bool)
		for _, r := range results {
			set[r.Path] = true
		}
		return set
	}

	loose := matchedAt(0.2)
	strict := matchedAt(0.9)

	for path := range strict {
		if !loose[path] {
			t.Errorf("raising the threshold must only shrink the match set; %q matched only at 0.9", path)
		}
	}
	if len(strict) > len(loose) {
		t.Errorf("strict set (%d) larger than loose set (%d)", len(strict), len(loose))
	}
}
