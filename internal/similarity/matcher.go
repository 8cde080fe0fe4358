package similarity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"icehunt/internal/ast"
)

// Matcher scores candidate files against one defect-pattern snippet.
// A Matcher owns its parser and is not safe for concurrent use; the batch
// runner gives each worker its own instance.
type Matcher struct {
	parser    *ast.Parser
	threshold float64
}

// NewMatcher creates a matcher with the given score threshold.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{
		parser:    ast.NewParser(),
		threshold: threshold,
	}
}

// Score parses the snippet and candidate and returns the candidate file's
// overall score: the maximum cosine similarity across all its subtrees.
// A snippet of structural depth <= 1 is too trivial to match meaningfully
// and scores zero against everything.
func (m *Matcher) Score(ctx context.Context, snippetCode, candidateCode []byte) (float64, error) {
	score, _, err := m.score(ctx, snippetCode, candidateCode)
	return score, err
}

// score additionally reports whether any structural comparison took place.
// A trivial snippet, an empty snippet document, or a candidate with no
// usable subtrees is an unconditional no-match, never a zero score left to
// lose against a low threshold.
func (m *Matcher) score(ctx context.Context, snippetCode, candidateCode []byte) (float64, bool, error) {
	snippetTree, err := m.parser.Parse(ctx, snippetCode)
	if err != nil {
		return 0, false, fmt.Errorf("parsing snippet: %w", err)
	}
	defer snippetTree.Close()

	depth := ast.StructuralDepth(snippetTree.Root())
	if depth <= 1 {
		return 0, false, nil
	}

	candidateTree, err := m.parser.Parse(ctx, candidateCode)
	if err != nil {
		return 0, false, fmt.Errorf("parsing candidate: %w", err)
	}
	defer candidateTree.Close()

	snippetDoc := DocumentFromProfile(ast.ExtractProfile(snippetTree.Root(), depth))
	if len(snippetDoc) == 0 {
		return 0, false, nil
	}

	// Every named subtree is an independent root: the pattern may sit
	// anywhere inside a file much larger than itself.
	var candidateDocs []Document
	for _, root := range ast.CollectCandidateRoots(candidateTree.Root()) {
		profile := ast.ExtractProfile(root, depth)
		if profile.Empty() {
			continue
		}
		candidateDocs = append(candidateDocs, DocumentFromProfile(profile))
	}
	if len(candidateDocs) == 0 {
		return 0, false, nil
	}

	best := 0.0
	for _, s := range ScoreAgainst(snippetDoc, candidateDocs) {
		if s > best {
			best = s
		}
	}
	return best, true, nil
}

// Matches reports whether the candidate's best subtree score reaches the
// threshold. When no structural comparison took place there is nothing to
// compare against the threshold, so the answer is no-match even at
// threshold zero.
func (m *Matcher) Matches(ctx context.Context, snippetCode, candidateCode []byte) (bool, float64, error) {
	score, scored, err := m.score(ctx, snippetCode, candidateCode)
	if err != nil {
		return false, 0, err
	}
	if !scored {
		return false, score, nil
	}
	return score >= m.threshold, score, nil
}

// Persist writes the untouched candidate source to outputRoot, mirroring
// its path relative to corpusRoot and creating directories as needed.
func Persist(candidateCode []byte, corpusRoot, candidatePath, outputRoot string) (string, error) {
	rel, err := filepath.Rel(corpusRoot, candidatePath)
	if err != nil {
		return "", fmt.Errorf("relativizing %s: %w", candidatePath, err)
	}

	dest := filepath.Join(outputRoot, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(dest, candidateCode, 0644); err != nil {
		return "", fmt.Errorf("writing matched file: %w", err)
	}
	return dest, nil
}
