package ampcss

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/daaku/ampcss/internal/amperr"
	"github.com/daaku/ampcss/internal/ampspec"
	"github.com/daaku/ampcss/internal/urlresolver"

	"github.com/daaku/ensure"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func parseDoc(t *testing.T, s string) *html.Node {
	doc, err := html.Parse(strings.NewReader(s))
	ensure.Nil(t, err)
	return doc
}

func attrVal(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findStyle(doc *html.Node, attr string) *html.Node {
	return findNode(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Style {
			return false
		}
		_, found := attrVal(n, attr)
		return found
	})
}

func styleText(t *testing.T, n *html.Node) string {
	ensure.NotNil(t, n)
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func countStyles(doc *html.Node) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return count
}

func sanitize(t *testing.T, doc *html.Node, cfg Config) []amperr.Record {
	var records []amperr.Record
	cfg.Sink = amperr.Collect(&records)
	ensure.Nil(t, New(cfg).Sanitize(doc))
	return records
}

func errorCodes(records []amperr.Record) []Code {
	var out []Code
	for _, r := range records {
		out = append(out, r.Error.Code)
	}
	return out
}

func TestTreeShake(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style>.foo{color:red}.bar{color:blue}</style></head>`+
			`<body><p class="foo">x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code(nil))
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")), ".foo{color:red}")
	// the source style element is gone, only the emitted host remains
	ensure.DeepEqual(t, countStyles(doc), 1)
}

func TestUnknownAtRule(t *testing.T) {
	spec := ampspec.Default()
	spec.Custom.AllowedAtRules = nil
	doc := parseDoc(t,
		`<html><head><style>@supports (display:grid){.a{display:grid}}</style></head>`+
			`<body><p class="a">x</p></body></html>`)
	records := sanitize(t, doc, Config{Spec: spec})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.IllegalAtRule})
	ensure.DeepEqual(t, records[0].Error.AtRuleName, "supports")
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")), "")
}

func TestImportRejected(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style>@import url(x.css);.a{color:red}</style></head>`+
			`<body><p class="a">x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.IllegalImportRule})
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")), ".a{color:red}")
}

func TestImportantTransform(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style>.a{color:red!important;font-size:10px}</style></head>`+
			`<body><p class="a">x</p></body></html>`)
	sanitize(t, doc, Config{})
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")),
		".a{font-size:10px}:root:not(#FK_ID) .a{color:red}")
}

func TestInlineStyleAttribute(t *testing.T) {
	doc := parseDoc(t,
		`<html><head></head><body><p style="color:red">x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code(nil))

	sum := md5.Sum([]byte("color:red"))
	class := "amp-wp-" + hex.EncodeToString(sum[:])[:7]

	p := findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.P })
	ensure.NotNil(t, p)
	_, hasStyle := attrVal(p, "style")
	ensure.False(t, hasStyle)
	got, _ := attrVal(p, "class")
	ensure.DeepEqual(t, got, class)
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")),
		"."+class+"{color:red}")
}

func TestInlineStyleAttributeAppendsClass(t *testing.T) {
	doc := parseDoc(t,
		`<html><head></head><body><p class="existing" style="color:red">x</p></body></html>`)
	sanitize(t, doc, Config{})
	p := findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.P })
	got, _ := attrVal(p, "class")
	ensure.True(t, strings.HasPrefix(got, "existing amp-wp-"))
}

func TestInlineStyleAttributeEmptyResult(t *testing.T) {
	// every declaration is rejected, so only the attribute goes away
	doc := parseDoc(t,
		`<html><head></head><body><p style="behavior:url(x.htc)">x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.IllegalProperty})
	p := findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.P })
	_, hasStyle := attrVal(p, "style")
	ensure.False(t, hasStyle)
	_, hasClass := attrVal(p, "class")
	ensure.False(t, hasClass)
}

func TestInlineStyleWidthConversion(t *testing.T) {
	doc := parseDoc(t,
		`<html><head></head><body><p style="width:10px">x</p></body></html>`)
	sanitize(t, doc, Config{})
	text := styleText(t, findStyle(doc, "amp-custom"))
	ensure.True(t, strings.HasSuffix(text, "{max-width:10px}"))
}

func TestOverBudget(t *testing.T) {
	spec := ampspec.Default()
	spec.Custom.MaxBytes = 10
	doc := parseDoc(t,
		`<html><head><style>.foo{color:red}</style></head>`+
			`<body><p class="foo">x</p></body></html>`)
	records := sanitize(t, doc, Config{Spec: spec})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.TooMuchCSS})
	// ".foo{color:red}" is 15 bytes against a 10 byte cap
	ensure.DeepEqual(t, records[0].Error.OverageBytes, 5)
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")), "")
}

func TestKeyframes(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style amp-keyframes>@keyframes spin{from{opacity:0}}</style></head>`+
			`<body><p>x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code(nil))

	kf := findStyle(doc, "amp-keyframes")
	ensure.DeepEqual(t, styleText(t, kf), "@keyframes spin{from{opacity:0}}")
	// emitted as the final child of body
	body := findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	ensure.DeepEqual(t, body.LastChild, kf)
}

func TestKeyframesDeclarationPolicy(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style amp-keyframes>@keyframes spin{from{color:red;opacity:0}}</style></head>`+
			`<body><p>x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.IllegalProperty})
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-keyframes")),
		"@keyframes spin{from{opacity:0}}")
}

func TestMissingBody(t *testing.T) {
	// hand-built tree with no body element
	doc := &html.Node{Type: html.DocumentNode}
	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Html, Data: "html"}
	head := &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
	style := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Style,
		Data:     "style",
		Attr:     []html.Attribute{{Key: "amp-keyframes"}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: "@keyframes spin{from{opacity:0}}"})
	head.AppendChild(style)
	root.AppendChild(head)
	doc.AppendChild(root)

	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.MissingBody})
	// the keyframes stylesheet is silently dropped
	ensure.True(t, findStyle(doc, "amp-keyframes") == nil)
}

func TestExistingCustomHostReused(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style amp-custom>.foo{color:red}.bar{color:blue}</style></head>`+
			`<body><p class="foo">x</p></body></html>`)
	sanitize(t, doc, Config{})
	ensure.DeepEqual(t, countStyles(doc), 1)
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")), ".foo{color:red}")
}

func TestBoilerplateLeftAlone(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style amp-boilerplate>body{visibility:hidden}</style></head>`+
			`<body><p>x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code(nil))
	ensure.NotNil(t, findStyle(doc, "amp-boilerplate"))
}

func TestLinkStylesheet(t *testing.T) {
	root := t.TempDir()
	ensure.Nil(t, os.MkdirAll(filepath.Join(root, "css"), 0o755))
	ensure.Nil(t, os.WriteFile(
		filepath.Join(root, "css", "site.css"),
		[]byte(".foo{color:red}.bar{color:blue}"), 0o644))

	doc := parseDoc(t,
		`<html><head><link rel="stylesheet" href="/css/site.css?ver=1"></head>`+
			`<body><p class="foo">x</p></body></html>`)
	records := sanitize(t, doc, Config{Resolver: urlresolver.New(root)})
	ensure.DeepEqual(t, errorCodes(records), []Code(nil))
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")), ".foo{color:red}")
	ensure.True(t, findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.Link }) == nil)
}

func TestLinkStylesheetMediaWrapped(t *testing.T) {
	root := t.TempDir()
	ensure.Nil(t, os.WriteFile(filepath.Join(root, "p.css"), []byte(".foo{color:red}"), 0o644))

	doc := parseDoc(t,
		`<html><head><link rel="stylesheet" href="/p.css" media="print"></head>`+
			`<body><p class="foo">x</p></body></html>`)
	records := sanitize(t, doc, Config{Resolver: urlresolver.New(root)})
	ensure.DeepEqual(t, errorCodes(records), []Code(nil))
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")),
		"@media print{.foo{color:red}}")
}

func TestLinkBadExtension(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><link rel="stylesheet" href="/x.js"></head>`+
			`<body><p>x</p></body></html>`)
	records := sanitize(t, doc, Config{Resolver: urlresolver.New(t.TempDir())})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.BadFileExtension})
	ensure.True(t, findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.Link }) == nil)
}

func TestLinkNotFound(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><link rel="stylesheet" href="/missing.css"></head>`+
			`<body><p>x</p></body></html>`)
	records := sanitize(t, doc, Config{Resolver: urlresolver.New(t.TempDir())})
	ensure.DeepEqual(t, errorCodes(records), []Code{amperr.PathNotFound})
}

func TestAllowedFontLinkUntouched(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><link rel="stylesheet" href="https://fonts.googleapis.com/css?family=Lato"></head>`+
			`<body><p>x</p></body></html>`)
	records := sanitize(t, doc, Config{})
	ensure.DeepEqual(t, errorCodes(records), []Code(nil))
	ensure.NotNil(t, findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.Link }))
}

func TestCacheReplaysErrors(t *testing.T) {
	var records []amperr.Record
	s := New(Config{Sink: amperr.Collect(&records)})
	page := `<html><head><style>@import url(x.css);</style></head><body><p>x</p></body></html>`

	ensure.Nil(t, s.Sanitize(parseDoc(t, page)))
	ensure.Nil(t, s.Sanitize(parseDoc(t, page)))
	// the second document hits the cache and still sees the finding
	ensure.DeepEqual(t, errorCodes(records),
		[]Code{amperr.IllegalImportRule, amperr.IllegalImportRule})
}

func TestTelemetryReported(t *testing.T) {
	var name string
	var seconds float64
	doc := parseDoc(t,
		`<html><head><style>.a{color:red}</style></head><body><p class="a">x</p></body></html>`)
	var records []amperr.Record
	s := New(Config{
		Sink: amperr.Collect(&records),
		Telemetry: func(n string, sec float64, _ string) {
			name, seconds = n, sec
		},
	})
	ensure.Nil(t, s.Sanitize(doc))
	ensure.DeepEqual(t, name, "amp_css_parse")
	ensure.True(t, seconds >= 0)
}

func TestDocumentOrderPreserved(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style>.a{color:red}</style><style>.b{color:blue}</style></head>`+
			`<body><p class="a b">x</p></body></html>`)
	sanitize(t, doc, Config{})
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")),
		".a{color:red}.b{color:blue}")
}

func TestIdenticalStylesheetsDeduped(t *testing.T) {
	doc := parseDoc(t,
		`<html><head><style>.a{color:red}</style><style>.a{color:red}</style></head>`+
			`<body><p class="a">x</p></body></html>`)
	sanitize(t, doc, Config{})
	ensure.DeepEqual(t, styleText(t, findStyle(doc, "amp-custom")), ".a{color:red}")
}
