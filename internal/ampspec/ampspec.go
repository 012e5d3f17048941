// Package ampspec holds the read-only platform rules for document CSS: the
// per-tag CDATA specs and the allowed font provider URLs. The tables are
// initialized once and never mutated.
package ampspec

import "regexp"

// CDataSpec constrains the contents of one kind of style element.
type CDataSpec struct {
	// MaxBytes caps the cumulative size of admitted stylesheets.
	MaxBytes int
	// AllowedAtRules names the at-rules permitted, without the leading @.
	AllowedAtRules map[string]struct{}
	// AllowedDeclarations, when non-empty, whitelists declaration names. An
	// empty map means any declaration outside the blacklist is permitted.
	AllowedDeclarations map[string]struct{}
	// ValidateKeyframes marks the stylesheet as keyframes-only.
	ValidateKeyframes bool
}

// Spec is the full set of platform rules a sanitization pass runs under.
type Spec struct {
	Custom         CDataSpec
	Keyframes      CDataSpec
	AllowedFontURL *regexp.Regexp
}

// Set builds a string set from its arguments.
func Set(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

var allowedFontURL = regexp.MustCompile(
	`^https://(cloud\.typography\.com|fast\.fonts\.net|fonts\.googleapis\.com|use\.typekit\.net|maxcdn\.bootstrapcdn\.com|use\.fontawesome\.com)/`)

// Default returns the platform rules for style[amp-custom] and
// style[amp-keyframes].
func Default() *Spec {
	return &Spec{
		Custom: CDataSpec{
			MaxBytes:       75000,
			AllowedAtRules: Set("media", "supports", "font-face", "keyframes", "page"),
		},
		Keyframes: CDataSpec{
			MaxBytes:       500000,
			AllowedAtRules: Set("media", "supports", "keyframes"),
			AllowedDeclarations: Set(
				"animation-timing-function",
				"offset-distance",
				"opacity",
				"transform",
				"visibility",
			),
			ValidateKeyframes: true,
		},
		AllowedFontURL: allowedFontURL,
	}
}
