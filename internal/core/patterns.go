package core

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// FrameworkPattern maps the leading token of a template or table code to the
// framework it belongs to, e.g. "F 08.01" -> FINREP.
type FrameworkPattern struct {
	Prefix    string `yaml:"prefix" json:"prefix"`
	Framework string `yaml:"framework" json:"framework"`
	Version   string `yaml:"version" json:"version"`
}

// PatternTable is the static code-prefix table behind the pattern fallback.
type PatternTable struct {
	patterns []FrameworkPattern
}

// defaultPatterns covers the template code conventions of the EBA reporting
// frameworks.
var defaultPatterns = []FrameworkPattern{
	{Prefix: "F", Framework: "FINREP", Version: "3.2"},
	{Prefix: "C", Framework: "COREP", Version: "3.2"},
	{Prefix: "AE", Framework: "AE", Version: "3.2"},
	{Prefix: "FP", Framework: "FP", Version: "3.2"},
	{Prefix: "S", Framework: "SBP", Version: "3.2"},
	{Prefix: "G", Framework: "GSII", Version: "3.2"},
	{Prefix: "R", Framework: "REM", Version: "3.2"},
	{Prefix: "Z", Framework: "RESOL", Version: "3.2"},
	{Prefix: "M", Framework: "MREL", Version: "3.2"},
	{Prefix: "I", Framework: "IF", Version: "3.2"},
}

// DefaultPatterns returns the built-in table.
func DefaultPatterns() *PatternTable {
	return NewPatternTable(defaultPatterns)
}

// NewPatternTable builds a table. Each framework code is also accepted as a
// prefix of itself. Longer prefixes are tried first; ties are ordered
// lexically so matching never depends on input order.
func NewPatternTable(patterns []FrameworkPattern) *PatternTable {
	seen := make(map[string]bool)
	var out []FrameworkPattern

	add := func(p FrameworkPattern) {
		p.Prefix = SanitizeComponent(p.Prefix)
		p.Framework = SanitizeComponent(p.Framework)
		if p.Prefix == "" || p.Framework == "" || seen[p.Prefix] {
			return
		}
		seen[p.Prefix] = true
		out = append(out, p)
	}

	for _, p := range patterns {
		add(p)
	}
	for _, p := range patterns {
		add(FrameworkPattern{Prefix: p.Framework, Framework: p.Framework, Version: p.Version})
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Prefix) != len(out[j].Prefix) {
			return len(out[i].Prefix) > len(out[j].Prefix)
		}
		return out[i].Prefix < out[j].Prefix
	})
	return &PatternTable{patterns: out}
}

type patternFile struct {
	Frameworks []FrameworkPattern `yaml:"frameworks"`
}

// LoadPatternTable reads a YAML file of the form
//
//	frameworks:
//	  - prefix: F
//	    framework: FINREP
//	    version: "3.2"
//
// The file replaces the built-in table.
func LoadPatternTable(path string) (*PatternTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pattern file %s: %w", path, err)
	}
	if len(pf.Frameworks) == 0 {
		return nil, fmt.Errorf("pattern file %s defines no frameworks", path)
	}
	return NewPatternTable(pf.Frameworks), nil
}

// Patterns returns a copy of the table in match order.
func (t *PatternTable) Patterns() []FrameworkPattern {
	out := make([]FrameworkPattern, len(t.patterns))
	copy(out, t.patterns)
	return out
}

// Match finds the framework for a template or table code. The code is
// normalized first (case, repeated separators, hyphens); its first token is
// matched exactly, then the token's leading letters ("F08.01" -> "F").
func (t *PatternTable) Match(code string) (FrameworkPattern, bool) {
	if t == nil {
		return FrameworkPattern{}, false
	}
	token := leadingToken(code)
	if token == "" {
		return FrameworkPattern{}, false
	}
	alpha := leadingLetters(token)

	for _, p := range t.patterns {
		if p.Prefix == token {
			return p, true
		}
	}
	for _, p := range t.patterns {
		if p.Prefix == alpha {
			return p, true
		}
	}
	return FrameworkPattern{}, false
}

// NormalizeCode upper-cases a code and collapses runs of whitespace,
// underscores, hyphens and slashes into single spaces.
func NormalizeCode(code string) string {
	fields := strings.FieldsFunc(strings.ToUpper(code), func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '-' || r == '/'
	})
	return strings.Join(fields, " ")
}

func leadingToken(code string) string {
	n := NormalizeCode(code)
	if i := strings.IndexByte(n, ' '); i >= 0 {
		n = n[:i]
	}
	return strings.Trim(n, ".")
}

func leadingLetters(token string) string {
	for i, r := range token {
		if r < 'A' || r > 'Z' {
			return token[:i]
		}
	}
	return token
}
