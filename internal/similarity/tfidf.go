// Package similarity ranks corpus files by syntactic resemblance to a known
// defect pattern using per-query TF-IDF over structural bigram documents.
package similarity

import (
	"math"

	"icehunt/internal/ast"
)

// Document is a bag of structural tokens with occurrence counts.
type Document map[string]int

// DocumentFromProfile converts a bigram histogram into a pseudo-document,
// one token per distinct (parent, child) pair with its repetition count.
func DocumentFromProfile(p *ast.Profile) Document {
	doc := make(Document, len(p.Counts))
	for bg, n := range p.Counts {
		doc[bg.Parent+"__"+bg.Child] = n
	}
	return doc
}

// vectorSpace is an ad hoc TF-IDF model scoped to a single query. IDF
// statistics are local to one snippet-versus-file comparison and discarded
// afterwards; no model state persists across queries.
type vectorSpace struct {
	idf map[string]float64
}

// newVectorSpace fits IDF weights over the given corpus using smoothed
// document frequencies: idf = ln((1+N)/(1+df)) + 1.
func newVectorSpace(corpus []Document) *vectorSpace {
	df := make(map[string]int)
	for _, doc := range corpus {
		for term := range doc {
			df[term]++
		}
	}

	n := float64(len(corpus))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log((1+n)/(1+float64(count))) + 1
	}

	return &vectorSpace{idf: idf}
}

// vectorize weighs a document's raw term frequencies by IDF and normalizes
// the result to unit length. An empty document yields a nil vector.
func (vs *vectorSpace) vectorize(doc Document) map[string]float64 {
	if len(doc) == 0 {
		return nil
	}

	vec := make(map[string]float64, len(doc))
	var norm float64
	for term, tf := range doc {
		w := float64(tf) * vs.idf[term]
		vec[term] = w
		norm += w * w
	}
	if norm == 0 {
		return nil
	}

	norm = math.Sqrt(norm)
	for term := range vec {
		vec[term] /= norm
	}
	return vec
}

// cosine computes the dot product of two unit-normalized vectors.
func cosine(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, wa := range a {
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}
	return dot
}

// ScoreAgainst fits a fresh vector space over the snippet document plus all
// candidate documents, then returns the cosine similarity of each candidate
// against the snippet, in input order.
func ScoreAgainst(snippet Document, candidates []Document) []float64 {
	corpus := make([]Document, 0, len(candidates)+1)
	corpus = append(corpus, snippet)
	corpus = append(corpus, candidates...)

	vs := newVectorSpace(corpus)
	snippetVec := vs.vectorize(snippet)

	scores := make([]float64, len(candidates))
	if snippetVec == nil {
		return scores
	}
	for i, doc := range candidates {
		scores[i] = cosine(snippetVec, vs.vectorize(doc))
	}
	return scores
}
