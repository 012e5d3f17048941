// Package fontface normalizes the src values of @font-face rules against the
// stylesheet that declared them: relative URLs resolve to the stylesheet's
// directory, and data: URLs are replaced by a guessed file URL when a sibling
// file source exists in the same declaration.
package fontface

import (
	"net/url"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Normalizer carries the origin stylesheet URL the rewrites are based on.
type Normalizer struct {
	stylesheetURL string
}

func New(stylesheetURL string) *Normalizer {
	return &Normalizer{stylesheetURL: stylesheetURL}
}

// baseDir is the stylesheet URL with its last path segment and any query or
// fragment stripped.
func (n *Normalizer) baseDir() string {
	s := n.stylesheetURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[:i+1]
	}
	return s
}

// origin is the scheme://host of the stylesheet URL, empty when it has none.
func (n *Normalizer) origin() string {
	u, err := url.Parse(n.stylesheetURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isAbsolute(u string) bool {
	if strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/") {
		return true
	}
	p, err := url.Parse(u)
	return err == nil && p.IsAbs()
}

func (n *Normalizer) resolveRelative(u string) string {
	if isAbsolute(u) || n.stylesheetURL == "" {
		return u
	}
	return n.baseDir() + strings.TrimPrefix(u, "./")
}

// absolutize roots a guessed URL at the stylesheet's origin host.
func (n *Normalizer) absolutize(u string) string {
	p, err := url.Parse(u)
	if err == nil && (p.IsAbs() || strings.HasPrefix(u, "//")) {
		return u
	}
	origin := n.origin()
	if origin == "" {
		return u
	}
	u = strings.TrimPrefix(u, "./")
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return origin + u
}

// subtype extracts the file extension implied by a data URL's MIME type: the
// substring after the last /, with any leading token prefix up to the last -
// stripped (x-font-woff yields woff).
func subtype(dataURL string) string {
	mime := strings.TrimPrefix(dataURL, "data:")
	if i := strings.IndexAny(mime, ";,"); i >= 0 {
		mime = mime[:i]
	}
	if i := strings.LastIndexByte(mime, '/'); i >= 0 {
		mime = mime[i+1:]
	}
	if i := strings.LastIndexByte(mime, '-'); i >= 0 {
		mime = mime[i+1:]
	}
	return mime
}

// swapExt replaces the file extension of u with ext, dropping any query or
// fragment.
func swapExt(u, ext string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndexByte(u, '.'); i > strings.LastIndexByte(u, '/') {
		return u[:i+1] + ext
	}
	return u + "." + ext
}

func unquote(s string) string {
	return strings.Trim(s, `"'`)
}

// component is one comma-separated element of a src value: at most one URL
// plus surrounding tokens such as format(...).
type component struct {
	tokens  []css.Token
	url     string
	urlFrom int // index of the first token of the url, -1 when none
	urlTo   int // index one past the last token of the url
}

func splitComponents(value string) []component {
	l := css.NewLexer(parse.NewInputString(value))
	var comps []component
	cur := component{urlFrom: -1}
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			break
		}
		if tt == css.CommaToken {
			comps = append(comps, cur)
			cur = component{urlFrom: -1}
			continue
		}
		switch tt {
		case css.URLToken:
			inner := strings.TrimSuffix(strings.TrimPrefix(string(data), "url("), ")")
			cur.url = unquote(strings.TrimSpace(inner))
			cur.urlFrom = len(cur.tokens)
			cur.tokens = append(cur.tokens, css.Token{TokenType: tt, Data: data})
			cur.urlTo = len(cur.tokens)
			continue
		case css.FunctionToken:
			if strings.EqualFold(string(data), "url(") && cur.urlFrom < 0 {
				cur.urlFrom = len(cur.tokens)
				cur.tokens = append(cur.tokens, css.Token{TokenType: tt, Data: data})
				for {
					tt, data = l.Next()
					if tt == css.ErrorToken {
						break
					}
					if tt == css.StringToken {
						cur.url = unquote(string(data))
					}
					cur.tokens = append(cur.tokens, css.Token{TokenType: tt, Data: data})
					if tt == css.RightParenthesisToken {
						break
					}
				}
				cur.urlTo = len(cur.tokens)
				continue
			}
		}
		cur.tokens = append(cur.tokens, css.Token{TokenType: tt, Data: data})
	}
	return append(comps, cur)
}

// Src rewrites the value of one src declaration. The output is compacted:
// quotes inside url(...) and format(...) are dropped.
func (n *Normalizer) Src(value string) string {
	comps := splitComponents(value)

	// first file (non-data) URL in declaration order, kept raw for guessing
	var firstFile string
	for _, c := range comps {
		if c.url != "" && !strings.HasPrefix(strings.ToLower(c.url), "data:") {
			firstFile = c.url
			break
		}
	}

	var b strings.Builder
	for i, c := range comps {
		if i > 0 {
			b.WriteByte(',')
		}
		text := n.renderComponent(c, firstFile)
		b.WriteString(strings.TrimSpace(text))
	}
	return b.String()
}

func (n *Normalizer) renderComponent(c component, firstFile string) string {
	rewritten := c.url
	if c.url != "" {
		if strings.HasPrefix(strings.ToLower(c.url), "data:") {
			if firstFile != "" {
				rewritten = n.absolutize(swapExt(firstFile, subtype(c.url)))
			}
		} else {
			rewritten = n.resolveRelative(c.url)
		}
	}

	var b strings.Builder
	for i := 0; i < len(c.tokens); i++ {
		if c.urlFrom >= 0 && i == c.urlFrom {
			b.WriteString("url(")
			b.WriteString(rewritten)
			b.WriteByte(')')
			i = c.urlTo - 1
			continue
		}
		t := c.tokens[i]
		switch t.TokenType {
		case css.WhitespaceToken:
			b.WriteByte(' ')
		case css.StringToken:
			b.WriteString(unquote(string(t.Data)))
		default:
			b.Write(t.Data)
		}
	}
	return b.String()
}
