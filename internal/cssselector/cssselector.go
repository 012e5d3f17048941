// Package cssselector extracts the class names a selector depends on, for
// the purpose of shaking unused rules. It discards everything else about the
// selector and isn't generically useful.
package cssselector

import (
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Classes returns the set of class names the selector requires to match.
// Contents of :not(...) groups and [...] attribute groups are skipped: a
// class that appears only negated or inside an attribute match must not
// count as a dependency. A nil result means the selector depends on no
// classes and is always retained by the shaker.
func Classes(selector string) map[string]struct{} {
	l := css.NewLexer(parse.NewInputString(selector))
	var classes map[string]struct{}
	notDepth := 0
	for {
		tt, data := l.Next()
		switch tt {
		case css.ErrorToken:
			return classes
		case css.FunctionToken:
			// any function opens a paren; only :not(...) starts a skip group
			if notDepth > 0 || strings.EqualFold(string(data), "not(") {
				notDepth++
			}
		case css.LeftParenthesisToken:
			if notDepth > 0 {
				notDepth++
			}
		case css.RightParenthesisToken:
			if notDepth > 0 {
				notDepth--
			}
		case css.LeftBracketToken:
			for {
				tt, _ = l.Next()
				if tt == css.RightBracketToken || tt == css.ErrorToken {
					break
				}
			}
		case css.DelimToken:
			if notDepth > 0 || len(data) != 1 || data[0] != '.' {
				continue
			}
			tt, next := l.Next()
			if tt != css.IdentToken {
				continue
			}
			if classes == nil {
				classes = make(map[string]struct{})
			}
			classes[string(next)] = struct{}{}
		}
	}
}
