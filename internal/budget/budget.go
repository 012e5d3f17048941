// Package budget enforces the per-kind byte caps on admitted stylesheets and
// stores admitted text content-addressed in insertion order.
package budget

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Fingerprint content-addresses a stylesheet.
func Fingerprint(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Accumulator tracks cumulative admitted bytes against a cap. Identical
// stylesheets deduplicate: a fingerprint already present admits without
// consuming budget.
type Accumulator struct {
	max    int
	size   int
	order  []string
	sheets map[string]string
}

func New(max int) *Accumulator {
	return &Accumulator{max: max, sheets: make(map[string]string)}
}

// Admit checks the candidate against the remaining budget, all-or-nothing.
// On rejection it returns the overage in bytes and the accumulator is
// unchanged.
func (a *Accumulator) Admit(text string) (ok bool, overage int) {
	fp := Fingerprint(text)
	if _, found := a.sheets[fp]; found {
		return true, 0
	}
	if a.size+len(text) > a.max {
		return false, a.size + len(text) - a.max
	}
	a.size += len(text)
	a.sheets[fp] = text
	a.order = append(a.order, fp)
	return true, 0
}

// Size is the cumulative admitted byte count.
func (a *Accumulator) Size() int { return a.size }

// Empty reports whether nothing has been admitted.
func (a *Accumulator) Empty() bool { return len(a.order) == 0 }

// Concat joins admitted stylesheets in admission order, which is document
// order of their sources.
func (a *Accumulator) Concat() string {
	var b strings.Builder
	for _, fp := range a.order {
		b.WriteString(a.sheets[fp])
	}
	return b.String()
}
