package ast

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Bigram is a (parentType, childType) pair recorded once per occurrence
// during a depth-bounded traversal.
type Bigram struct {
	Parent string
	Child  string
}

// Profile is the structural document of one (sub)tree: a multiset of
// bigrams tagged with the depth bound that produced it.
type Profile struct {
	Counts map[Bigram]int
	Depth  int
}

// Empty reports whether the profile recorded no bigrams.
func (p *Profile) Empty() bool {
	return len(p.Counts) == 0
}

// Total returns the number of bigram occurrences, counting repetitions.
func (p *Profile) Total() int {
	total := 0
	for _, n := range p.Counts {
		total += n
	}
	return total
}

// StructuralDepth computes the longest chain of named-node descent below
// the top-level wrapper. The wrapper itself contributes nothing; a file
// holding only flat tokens has depth 1.
func StructuralDepth(node *sitter.Node) int {
	if node.Type() == sourceFileType {
		max := 0
		for _, c := range namedChildren(node) {
			if d := StructuralDepth(c); d > max {
				max = d
			}
		}
		return max
	}

	children := namedChildren(node)
	if len(children) == 0 {
		return 1
	}
	max := 0
	for _, c := range children {
		if d := StructuralDepth(c); d > max {
			max = d
		}
	}
	return 1 + max
}

// CollectCandidateRoots enumerates every named node in the tree except the
// top-level wrapper. The defect pattern may recur anywhere within a larger
// file, so each named node is an independent subtree root for matching.
func CollectCandidateRoots(root *sitter.Node) []*sitter.Node {
	var result []*sitter.Node

	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.Type() != sourceFileType {
			result = append(result, current)
		}
		stack = append(stack, namedChildren(current)...)
	}

	return result
}

// ExtractProfile builds the depth-bounded bigram histogram rooted at node.
// For each named node shallower than maxDepth, one bigram is recorded per
// named child before recursing into it; nodes reached exactly at the bound
// emit nothing. A wrapper root delegates to its children at the same depth.
func ExtractProfile(node *sitter.Node, maxDepth int) *Profile {
	profile := &Profile{
		Counts: make(map[Bigram]int),
		Depth:  maxDepth,
	}
	collectBigrams(node, profile.Counts, maxDepth, 1)
	return profile
}

func collectBigrams(node *sitter.Node, counts map[Bigram]int, maxDepth, depth int) {
	if node.Type() == sourceFileType {
		for _, c := range namedChildren(node) {
			collectBigrams(c, counts, maxDepth, depth)
		}
		return
	}
	if depth >= maxDepth {
		return
	}
	for _, c := range namedChildren(node) {
		counts[Bigram{Parent: node.Type(), Child: c.Type()}]++
		collectBigrams(c, counts, maxDepth, depth+1)
	}
}
