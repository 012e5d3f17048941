// Package cssfilter parses a stylesheet and filters it against the platform
// policy, producing an ordered sequence of parts: opaque CSS text chunks and
// rule sets that remain eligible for tree shaking. Font-face sources are
// normalized and !important declarations are rewritten into
// higher-specificity clones on the way through.
package cssfilter

import (
	"io"
	"strings"

	"github.com/daaku/ampcss/internal/amperr"
	"github.com/daaku/ampcss/internal/cssselector"
	"github.com/daaku/ampcss/internal/fontface"

	"github.com/pkg/errors"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// ImportantPrefix is prepended to every selector of an !important clone. The
// impossible ID raises specificity by 1,0,0 without changing the match set.
const ImportantPrefix = ":root:not(#FK_ID) "

// DefaultBlacklist forbids the legacy script-injection properties when no
// whitelist is in effect.
var DefaultBlacklist = map[string]struct{}{
	"behavior":     {},
	"-moz-binding": {},
}

// Options control a single filtering pass. The fields are the exhaustive set
// of recognized parse options; there is no open-ended option bag.
type Options struct {
	// AllowedAtRules permits at-rules by name, without the leading @.
	AllowedAtRules map[string]struct{}
	// PropertyWhitelist, when non-empty, takes precedence over the blacklist.
	// Names are compared with any vendor prefix stripped.
	PropertyWhitelist map[string]struct{}
	// PropertyBlacklist forbids declarations by raw name. Nil means
	// DefaultBlacklist.
	PropertyBlacklist map[string]struct{}
	// ValidateKeyframes treats the stylesheet as keyframes-only: rule sets
	// outside @keyframes pass through unfiltered and tree shaking is off.
	ValidateKeyframes bool
	// TreeShaking enables post-parse pruning of unused class selectors. It is
	// applied after cache lookup and is deliberately not part of the cache
	// key.
	TreeShaking bool
	// ConvertWidthToMaxWidth renames width declarations to max-width.
	ConvertWidthToMaxWidth bool
	// StylesheetURL and StylesheetPath identify the origin of an external
	// stylesheet. The URL is the base for font-face src resolution.
	StylesheetURL  string
	StylesheetPath string
}

func (o *Options) blacklist() map[string]struct{} {
	if o.PropertyBlacklist == nil {
		return DefaultBlacklist
	}
	return o.PropertyBlacklist
}

func (o *Options) atRuleAllowed(name string) bool {
	_, ok := o.AllowedAtRules[name]
	return ok
}

// Selector is one selector of a rule set together with the class names it
// depends on.
type Selector struct {
	Text    string
	Classes map[string]struct{}
}

// RuleSet is a declaration block that survived filtering.
type RuleSet struct {
	Selectors []Selector
	Block     string // braces included
}

// Part is one element of a parsed stylesheet. Exactly one field is set: Raw
// carries opaque CSS text (at-rule frames, keyframes), Rule a shakeable
// declaration block.
type Part struct {
	Raw  string
	Rule *RuleSet
}

// Result is a filtered stylesheet plus the findings recorded while
// filtering. Findings carry no node; the caller tags them with the origin
// element when replaying them into a sink.
type Result struct {
	Parts  []Part
	Errors []amperr.Error
}

// Filter parses and filters text under the given options. A parse failure is
// returned as an error; the caller converts it to a css_parse_error finding
// with an empty part sequence.
func Filter(text string, o Options, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f := &filter{
		o:      o,
		log:    log,
		parser: css.NewParser(parse.NewInputString(text), false),
		res:    &Result{},
		ff:     fontface.New(o.StylesheetURL),
	}
	if err := f.run(); err != nil {
		return nil, err
	}
	return f.res, nil
}

type decl struct {
	name      string
	value     string
	important bool
}

type next func() next

type filter struct {
	o      Options
	log    *zap.Logger
	parser *css.Parser
	data   []byte
	res    *Result
	ff     *fontface.Normalizer
	err    error

	// current rule set
	selectors []Selector
	decls     []decl

	// open block at-rules, innermost last: "generic", "font-face",
	// "keyframes"
	stack []string

	ffDecls []decl

	kf        strings.Builder
	kfSels    []string
	kfInFrame bool
	kfFirst   bool
}

func (f *filter) run() error {
	for n := f.outer; n != nil; n = n() {
	}
	return f.err
}

func (f *filter) report(e amperr.Error) {
	f.res.Errors = append(f.res.Errors, e)
}

func (f *filter) emitRaw(s string) {
	f.res.Parts = append(f.res.Parts, Part{Raw: s})
}

func (f *filter) error() next {
	if err := f.parser.Err(); err != io.EOF {
		f.err = errors.WithStack(err)
	}
	return nil
}

// skipAtRule consumes a disallowed block at-rule, including nested blocks.
func (f *filter) skipAtRule() next {
	depth := 1
	for {
		switch gt, _, _ := f.parser.Next(); gt {
		case css.ErrorGrammar:
			return f.error
		case css.BeginAtRuleGrammar:
			depth++
		case css.EndAtRuleGrammar:
			depth--
			if depth == 0 {
				return f.outer
			}
		}
	}
}

func (f *filter) inKeyframes() bool {
	return len(f.stack) > 0 && f.stack[len(f.stack)-1] == "keyframes"
}

func (f *filter) inFontFace() bool {
	return len(f.stack) > 0 && f.stack[len(f.stack)-1] == "font-face"
}

// stripVendor removes a leading vendor prefix of the form -token- from a
// name.
func stripVendor(name string) string {
	if strings.HasPrefix(name, "-") {
		if i := strings.Index(name[1:], "-"); i >= 0 {
			return name[i+2:]
		}
	}
	return name
}

// atRuleName canonicalizes at-rule names: @-webkit-keyframes and @keyframes
// are the same rule for policy purposes.
func atRuleName(data []byte) string {
	return stripVendor(strings.ToLower(strings.TrimPrefix(string(data), "@")))
}

// valueText renders parser values compactly, collapsing whitespace runs.
func valueText(vals []css.Token) string {
	var b strings.Builder
	space := false
	for _, v := range vals {
		if v.TokenType == css.WhitespaceToken {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.Write(v.Data)
	}
	return b.String()
}

// declValue renders the current declaration's value and strips a trailing
// !important qualifier, reporting whether one was present.
func (f *filter) declValue() (string, bool) {
	vals := f.parser.Values()
	important := false
	kept := make([]css.Token, 0, len(vals))
	for i := 0; i < len(vals); i++ {
		v := vals[i]
		if v.TokenType == css.DelimToken && len(v.Data) == 1 && v.Data[0] == '!' {
			j := i + 1
			for j < len(vals) && vals[j].TokenType == css.WhitespaceToken {
				j++
			}
			if j < len(vals) && vals[j].TokenType == css.IdentToken &&
				strings.EqualFold(string(vals[j].Data), "important") {
				important = true
				i = j
				continue
			}
		}
		kept = append(kept, v)
	}
	return strings.TrimSpace(valueText(kept)), important
}

// allowed applies the declaration policy: whitelist on the vendor-stripped
// name when present, blacklist on the raw name otherwise.
func (f *filter) allowed(name string) bool {
	if len(f.o.PropertyWhitelist) > 0 {
		_, ok := f.o.PropertyWhitelist[stripVendor(name)]
		return ok
	}
	_, bad := f.o.blacklist()[name]
	return !bad
}

func (f *filter) filterDecls(decls []decl) []decl {
	kept := decls[:0]
	for _, d := range decls {
		if !f.allowed(d.name) {
			f.report(amperr.Error{
				Code:          amperr.IllegalProperty,
				PropertyName:  d.name,
				PropertyValue: d.value,
			})
			f.log.Debug("excluding declaration", zap.String("name", d.name))
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func block(decls []decl) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, d := range decls {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(d.name)
		b.WriteByte(':')
		b.WriteString(d.value)
	}
	b.WriteByte('}')
	return b.String()
}

func (f *filter) selectorText() string {
	return valueText(f.parser.Values())
}

func (f *filter) pushSelector() {
	text := f.selectorText()
	f.selectors = append(f.selectors, Selector{
		Text:    text,
		Classes: cssselector.Classes(text),
	})
}

// endRuleset flushes the collected rule set: declaration policy, width
// rename, then the !important split with its higher-specificity clone
// appended immediately after the original.
func (f *filter) endRuleset() {
	sels, decls := f.selectors, f.decls
	f.selectors, f.decls = nil, nil
	if len(sels) == 0 {
		return
	}

	if !f.o.ValidateKeyframes {
		decls = f.filterDecls(decls)
	}
	if f.o.ConvertWidthToMaxWidth {
		for i := range decls {
			if decls[i].name == "width" {
				decls[i].name = "max-width"
			}
		}
	}

	var normal, important []decl
	for _, d := range decls {
		if d.important {
			d.important = false
			important = append(important, d)
		} else {
			normal = append(normal, d)
		}
	}

	if len(normal) > 0 {
		f.res.Parts = append(f.res.Parts, Part{Rule: &RuleSet{
			Selectors: sels,
			Block:     block(normal),
		}})
	}
	if len(important) > 0 {
		clones := make([]Selector, len(sels))
		for i, s := range sels {
			clones[i] = Selector{
				Text:    ImportantPrefix + s.Text,
				Classes: s.Classes,
			}
		}
		f.res.Parts = append(f.res.Parts, Part{Rule: &RuleSet{
			Selectors: clones,
			Block:     block(important),
		}})
	}
}

func (f *filter) kfWriteDecl(d decl) {
	if !f.kfFirst {
		f.kf.WriteByte(';')
	}
	f.kfFirst = false
	f.kf.WriteString(d.name)
	f.kf.WriteByte(':')
	f.kf.WriteString(d.value)
}

func (f *filter) decl() next {
	name := strings.ToLower(string(f.data))
	value, important := f.declValue()
	d := decl{name: name, value: value, important: important}

	switch {
	case f.inFontFace():
		f.ffDecls = append(f.ffDecls, d)
	case f.inKeyframes():
		if !f.kfInFrame {
			return f.outer
		}
		if d.important {
			f.report(amperr.Error{Code: amperr.IllegalImportant, PropertyName: d.name})
			d.important = false
		}
		if !f.allowed(d.name) {
			f.report(amperr.Error{
				Code:          amperr.IllegalProperty,
				PropertyName:  d.name,
				PropertyValue: d.value,
			})
			return f.outer
		}
		f.kfWriteDecl(d)
	case len(f.selectors) > 0:
		f.decls = append(f.decls, d)
	default:
		// declarations directly inside an at-rule set such as @page
		if len(f.stack) > 0 {
			if f.allowed(d.name) {
				f.emitRaw(d.name + ":" + d.value + ";")
			} else {
				f.report(amperr.Error{
					Code:          amperr.IllegalProperty,
					PropertyName:  d.name,
					PropertyValue: d.value,
				})
			}
		}
	}
	return f.outer
}

func (f *filter) beginRuleset() next {
	if f.inKeyframes() {
		f.kfSels = append(f.kfSels, f.selectorText())
		f.kf.WriteString(strings.Join(f.kfSels, ","))
		f.kf.WriteByte('{')
		f.kfSels = f.kfSels[:0]
		f.kfInFrame = true
		f.kfFirst = true
		return f.outer
	}
	f.pushSelector()
	return f.outer
}

func (f *filter) qualifiedRule() next {
	if f.inKeyframes() {
		f.kfSels = append(f.kfSels, f.selectorText())
		return f.outer
	}
	f.pushSelector()
	return f.outer
}

func (f *filter) endRulesetState() next {
	if f.inKeyframes() {
		f.kf.WriteByte('}')
		f.kfInFrame = false
		return f.outer
	}
	f.endRuleset()
	return f.outer
}

// flushFontFace applies the declaration policy, rejects !important, and
// normalizes src URLs before emitting the rule as opaque text.
func (f *filter) flushFontFace() {
	decls := f.ffDecls
	f.ffDecls = nil
	for i := range decls {
		if decls[i].important {
			f.report(amperr.Error{Code: amperr.IllegalImportant, PropertyName: decls[i].name})
			decls[i].important = false
		}
	}
	decls = f.filterDecls(decls)
	for i := range decls {
		if decls[i].name == "src" {
			decls[i].value = f.ff.Src(decls[i].value)
		}
	}
	if len(decls) == 0 {
		return
	}
	f.emitRaw("@font-face" + block(decls))
}

func (f *filter) beginAtRule() next {
	name := atRuleName(f.data)
	if !f.o.atRuleAllowed(name) {
		f.report(amperr.Error{Code: amperr.IllegalAtRule, AtRuleName: name})
		f.log.Debug("excluding at-rule", zap.String("name", name))
		return f.skipAtRule
	}
	switch name {
	case "font-face":
		f.stack = append(f.stack, "font-face")
	case "keyframes":
		f.stack = append(f.stack, "keyframes")
		f.kf.Reset()
		f.kfSels = f.kfSels[:0]
		f.kfInFrame = false
		f.kf.Write(f.data)
		if prelude := valueText(f.parser.Values()); prelude != "" {
			f.kf.WriteByte(' ')
			f.kf.WriteString(prelude)
		}
		f.kf.WriteByte('{')
	default:
		f.stack = append(f.stack, "generic")
		header := string(f.data)
		if prelude := valueText(f.parser.Values()); prelude != "" {
			header += " " + prelude
		}
		f.emitRaw(header + "{")
	}
	return f.outer
}

func (f *filter) endAtRule() next {
	if len(f.stack) == 0 {
		return f.outer
	}
	kind := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	switch kind {
	case "font-face":
		f.flushFontFace()
	case "keyframes":
		f.kf.WriteByte('}')
		f.emitRaw(f.kf.String())
	default:
		f.emitRaw("}")
	}
	return f.outer
}

// atRule handles block-less at-rules: @import is always rejected, anything
// else follows the allowed set.
func (f *filter) atRule() next {
	name := atRuleName(f.data)
	if name == "import" {
		f.report(amperr.Error{Code: amperr.IllegalImportRule})
		f.log.Debug("excluding @import")
		return f.outer
	}
	if !f.o.atRuleAllowed(name) {
		f.report(amperr.Error{Code: amperr.IllegalAtRule, AtRuleName: name})
		return f.outer
	}
	header := string(f.data)
	if prelude := valueText(f.parser.Values()); prelude != "" {
		header += " " + prelude
	}
	f.emitRaw(header + ";")
	return f.outer
}

func (f *filter) outer() next {
	gt, _, data := f.parser.Next()
	f.data = data
	switch gt {
	default:
		if s := strings.TrimSpace(string(data)); s != "" && s != ";" {
			f.report(amperr.Error{Code: amperr.UnrecognizedCSS, Message: s})
		}
		return f.outer
	case css.ErrorGrammar:
		return f.error
	case css.CommentGrammar:
		return f.outer
	case css.QualifiedRuleGrammar:
		return f.qualifiedRule
	case css.BeginRulesetGrammar:
		return f.beginRuleset
	case css.EndRulesetGrammar:
		return f.endRulesetState
	case css.DeclarationGrammar, css.CustomPropertyGrammar:
		return f.decl
	case css.AtRuleGrammar:
		return f.atRule
	case css.BeginAtRuleGrammar:
		return f.beginAtRule
	case css.EndAtRuleGrammar:
		return f.endAtRule
	}
}
