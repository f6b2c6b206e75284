// Package metric scores a candidate text against a reference (and the
// source it was generated from) with a configurable list of metric blocks.
//
// Each block names a Kind and carries typed parameters. A Registry maps kinds
// to scoring functions and the Dispatcher runs a block list in order,
// merging every block's scores into one Scores map where later blocks win.
package metric

import (
	"math"
	"sort"
)

// Canonical text keys. Block parameters refer to texts by these names.
const (
	TextPred   = "pred"
	TextGold   = "gold"
	TextSource = "source"
)

// Texts are the three named inputs every scoring function receives.
type Texts struct {
	Candidate string
	Reference string
	Source    string
}

// Get resolves a text key. "candidate" and "reference" are accepted as
// aliases of pred and gold; unknown keys read as empty.
func (t Texts) Get(key string) string {
	switch key {
	case TextPred, "candidate":
		return t.Candidate
	case TextGold, "reference":
		return t.Reference
	case TextSource:
		return t.Source
	default:
		return ""
	}
}

// Scores maps a score name to its value.
type Scores map[string]float64

// Names returns the score names in lexical order.
func (s Scores) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge copies other into s, overwriting names that already exist.
func (s Scores) Merge(other Scores) {
	for k, v := range other {
		s[k] = v
	}
}

// Bool coerces a boolean outcome to 1 or 0.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
