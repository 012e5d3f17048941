// Package treeshake renders a filtered stylesheet, dropping rule sets whose
// selectors require class names the document never uses.
package treeshake

import (
	"strings"

	"github.com/daaku/ampcss/internal/cssfilter"

	"go.uber.org/zap"
)

// Used answers whether a class name appears anywhere in the document.
type Used interface {
	Has(class string) bool
}

// Retain reports whether a selector survives shaking: every class it depends
// on must be present. A selector with no class dependencies always survives.
func Retain(s cssfilter.Selector, used Used) bool {
	for c := range s.Classes {
		if !used.Has(c) {
			return false
		}
	}
	return true
}

// Concat renders parts in order. With shaking enabled, rule sets keep only
// their retained selectors and vanish entirely when none remain.
func Concat(parts []cssfilter.Part, used Used, shake bool, log *zap.Logger) string {
	if log == nil {
		log = zap.NewNop()
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Rule == nil {
			b.WriteString(p.Raw)
			continue
		}
		first := true
		any := false
		for _, s := range p.Rule.Selectors {
			if shake && !Retain(s, used) {
				log.Debug("excluding selector", zap.String("selector", s.Text))
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			b.WriteString(s.Text)
			first = false
			any = true
		}
		if any {
			b.WriteString(p.Rule.Block)
		}
	}
	return b.String()
}
