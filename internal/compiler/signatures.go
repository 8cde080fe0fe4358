package compiler

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SignatureSet is the case-insensitive substring table that identifies an
// internal compiler error in combined toolchain output. Classification
// policy never changes with the signature list; only this table does.
type SignatureSet struct {
	patterns []string // original casing, for reporting
	lowered  []string
}

// DefaultSignatures returns the built-in ICE markers for rustc.
func DefaultSignatures() *SignatureSet {
	return NewSignatureSet([]string{
		"internal compiler error",
		"thread 'rustc' panicked at",
		"Box<Any>",
		"delay_span_bug",
		"query stack during panic",
	})
}

// NewSignatureSet builds a signature set from the given substrings.
func NewSignatureSet(patterns []string) *SignatureSet {
	s := &SignatureSet{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		s.patterns = append(s.patterns, p)
		s.lowered = append(s.lowered, strings.ToLower(p))
	}
	return s
}

// signaturesFile is the on-disk YAML schema.
type signaturesFile struct {
	Signatures []string `yaml:"signatures"`
}

// LoadSignatures reads a signature set from a YAML file. An empty path
// yields the defaults.
func LoadSignatures(path string) (*SignatureSet, error) {
	if path == "" {
		return DefaultSignatures(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signatures file: %w", err)
	}

	var f signaturesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing signatures file: %w", err)
	}
	if len(f.Signatures) == 0 {
		return nil, fmt.Errorf("signatures file %s defines no signatures", path)
	}

	return NewSignatureSet(f.Signatures), nil
}

// Match scans output for any signature, case-insensitively. It returns
// the first matching pattern in its original casing.
func (s *SignatureSet) Match(output string) (string, bool) {
	lowered := strings.ToLower(output)
	for i, p := range s.lowered {
		if strings.Contains(lowered, p) {
			return s.patterns[i], true
		}
	}
	return "", false
}

// Patterns returns the configured signature substrings.
func (s *SignatureSet) Patterns() []string {
	return append([]string(nil), s.patterns...)
}
