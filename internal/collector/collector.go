// Package collector walks a document, routes every reachable stylesheet
// through the parse/filter pipeline, admits the results against the platform
// byte caps, and writes the final amp-custom and amp-keyframes style
// elements back into the tree.
package collector

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path"
	"strings"
	"time"

	"github.com/daaku/ampcss/internal/amperr"
	"github.com/daaku/ampcss/internal/ampspec"
	"github.com/daaku/ampcss/internal/budget"
	"github.com/daaku/ampcss/internal/cssfilter"
	"github.com/daaku/ampcss/internal/htmlusage"
	"github.com/daaku/ampcss/internal/parsecache"
	"github.com/daaku/ampcss/internal/treeshake"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// URLResolver maps a stylesheet URL onto a validated local filesystem path.
type URLResolver interface {
	Resolve(src string) (string, error)
}

// Telemetry receives one timing report per pass.
type Telemetry func(name string, seconds float64, description string)

// allowed extensions for linked stylesheets
var styleExtensions = map[string]struct{}{
	".css": {}, ".less": {}, ".scss": {}, ".sass": {},
}

// Collector owns one sanitization pass. It is single-use: construct, Run,
// discard.
type Collector struct {
	spec     *ampspec.Spec
	cache    parsecache.Cache
	resolver URLResolver
	sink     amperr.Sink
	log      *zap.Logger

	used       *htmlusage.Info
	custom     *budget.Accumulator
	keyframes  *budget.Accumulator
	customHost *html.Node
	parseTime  time.Duration
}

func New(spec *ampspec.Spec, cache parsecache.Cache, resolver URLResolver, sink amperr.Sink, log *zap.Logger) *Collector {
	if sink == nil {
		sink = amperr.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		spec:     spec,
		cache:    cache,
		resolver: resolver,
		sink:     sink,
		log:      log.Named("collector"),
	}
}

// ParseTime is the cumulative CSS parse duration of the pass.
func (c *Collector) ParseTime() time.Duration { return c.parseTime }

// Run executes the full pass: used-class scan, element discovery and
// processing in document order, style attribute processing, then emission.
func (c *Collector) Run(doc *html.Node) error {
	c.used = htmlusage.Extract(doc)
	c.custom = budget.New(c.spec.Custom.MaxBytes)
	c.keyframes = budget.New(c.spec.Keyframes.MaxBytes)

	for _, n := range c.discoverSheets(doc) {
		if n.DataAtom == atom.Link {
			c.processLink(n)
		} else {
			c.processStyle(n)
		}
	}
	for _, n := range c.discoverStyled(doc) {
		c.processStyleAttr(n)
	}

	c.emitCustom(doc)
	c.emitKeyframes(doc)
	return nil
}

// discoverSheets finds style and link elements in document order, excluding
// boilerplate and non-CSS types.
func (c *Collector) discoverSheets(doc *html.Node) []*html.Node {
	var found []*html.Node
	walk(doc, func(n *html.Node) {
		switch n.DataAtom {
		case atom.Style:
			if hasAttr(n, "amp-boilerplate") {
				return
			}
			if t, ok := getAttr(n, "type"); ok && !strings.EqualFold(strings.TrimSpace(t), "text/css") {
				return
			}
			found = append(found, n)
		case atom.Link:
			rel, _ := getAttr(n, "rel")
			for _, r := range strings.Fields(rel) {
				if strings.EqualFold(r, "stylesheet") {
					found = append(found, n)
					return
				}
			}
		}
	})
	return found
}

func (c *Collector) discoverStyled(doc *html.Node) []*html.Node {
	var found []*html.Node
	walk(doc, func(n *html.Node) {
		if _, ok := getAttr(n, "style"); ok {
			found = append(found, n)
		}
	})
	return found
}

func (c *Collector) parse(text string, o cssfilter.Options, origin *html.Node) *parsecache.Entry {
	start := time.Now()
	entry := parsecache.Parse(c.cache, text, o, c.log)
	c.parseTime += time.Since(start)
	for _, e := range entry.Errors {
		c.sink(e, origin)
	}
	return entry
}

func (c *Collector) elementOptions(cdata *ampspec.CDataSpec) cssfilter.Options {
	return cssfilter.Options{
		AllowedAtRules:    cdata.AllowedAtRules,
		PropertyWhitelist: cdata.AllowedDeclarations,
		ValidateKeyframes: cdata.ValidateKeyframes,
		TreeShaking:       !cdata.ValidateKeyframes,
	}
}

// admit routes text into the accumulator for its kind; on rejection the
// origin element is removed and too_much_css raised with the overage.
func (c *Collector) admit(text string, keyframes bool, origin *html.Node) bool {
	acc := c.custom
	if keyframes {
		acc = c.keyframes
	}
	ok, overage := acc.Admit(text)
	if !ok {
		c.sink(amperr.Error{Code: amperr.TooMuchCSS, OverageBytes: overage}, origin)
		c.log.Debug("stylesheet over budget", zap.Int("overage", overage))
	}
	return ok
}

func (c *Collector) processStyle(n *html.Node) {
	isKeyframes := hasAttr(n, "amp-keyframes")
	cdata := &c.spec.Custom
	if isKeyframes {
		cdata = &c.spec.Keyframes
	}
	o := c.elementOptions(cdata)
	entry := c.parse(textContent(n), o, n)
	text := treeshake.Concat(entry.Parts, c.used, o.TreeShaking, c.log)
	if !c.admit(text, isKeyframes, n) {
		remove(n)
		return
	}
	if !isKeyframes && c.customHost == nil && hasAttr(n, "amp-custom") {
		// designated host, kept and repopulated at emit
		c.customHost = n
		return
	}
	remove(n)
}

func (c *Collector) processLink(n *html.Node) {
	href, _ := getAttr(n, "href")
	if c.spec.AllowedFontURL != nil && c.spec.AllowedFontURL.MatchString(href) {
		return
	}
	if _, ok := styleExtensions[strings.ToLower(path.Ext(urlPath(href)))]; !ok {
		c.sink(amperr.Error{Code: amperr.BadFileExtension, URL: href}, n)
		remove(n)
		return
	}
	if c.resolver == nil {
		c.sink(amperr.Error{Code: amperr.PathNotFound, URL: href}, n)
		remove(n)
		return
	}
	p, err := c.resolver.Resolve(href)
	if err != nil {
		c.sink(amperr.Error{Code: amperr.PathNotFound, URL: href, Message: err.Error()}, n)
		remove(n)
		return
	}
	b, err := os.ReadFile(p)
	if err != nil {
		err = errors.WithStack(err)
		c.sink(amperr.Error{Code: amperr.FileReadError, URL: href, Message: err.Error()}, n)
		remove(n)
		return
	}
	contents := string(b)
	if media, ok := getAttr(n, "media"); ok {
		if m := strings.TrimSpace(media); m != "" && !strings.EqualFold(m, "all") {
			contents = "@media " + m + "{" + contents + "}"
		}
	}
	o := c.elementOptions(&c.spec.Custom)
	o.StylesheetURL = href
	o.StylesheetPath = p
	entry := c.parse(contents, o, n)
	text := treeshake.Concat(entry.Parts, c.used, o.TreeShaking, c.log)
	c.admit(text, false, n)
	remove(n)
}

// InlineClassPrefix prefixes the synthesized class for a style attribute.
const InlineClassPrefix = "amp-wp-"

// InlineClass derives the class name for a style attribute value: the
// prefix plus the first 7 hex digits of the value's md5.
func InlineClass(value string) string {
	sum := md5.Sum([]byte(value))
	return InlineClassPrefix + hex.EncodeToString(sum[:])[:7]
}

func (c *Collector) processStyleAttr(n *html.Node) {
	value, _ := getAttr(n, "style")
	if strings.TrimSpace(value) == "" {
		removeAttr(n, "style")
		return
	}
	class := InlineClass(value)
	o := c.elementOptions(&c.spec.Custom)
	o.TreeShaking = false
	o.ConvertWidthToMaxWidth = true
	entry := c.parse("."+class+"{"+value+"}", o, n)
	text := treeshake.Concat(entry.Parts, c.used, false, c.log)
	if text == "" {
		removeAttr(n, "style")
		return
	}
	if !c.admit(text, false, n) {
		removeAttr(n, "style")
		return
	}
	removeAttr(n, "style")
	appendClass(n, class)
}

// emitCustom ensures a style[amp-custom] exists in head and fills it with
// the concatenated admitted custom stylesheets.
func (c *Collector) emitCustom(doc *html.Node) {
	host := c.customHost
	if host == nil {
		head := findElement(doc, atom.Head)
		if head == nil {
			head = &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
			if root := findElement(doc, atom.Html); root != nil {
				root.InsertBefore(head, root.FirstChild)
			} else {
				doc.AppendChild(head)
			}
		}
		host = &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Style,
			Data:     "style",
			Attr:     []html.Attribute{{Key: "amp-custom"}},
		}
		head.AppendChild(host)
	}
	for host.FirstChild != nil {
		host.RemoveChild(host.FirstChild)
	}
	host.AppendChild(&html.Node{Type: html.TextNode, Data: c.custom.Concat()})
}

// emitKeyframes appends a style[amp-keyframes] as the final child of body.
// With no body the keyframes are dropped and missing_body_element raised.
func (c *Collector) emitKeyframes(doc *html.Node) {
	if c.keyframes.Empty() {
		return
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		c.sink(amperr.Error{Code: amperr.MissingBody}, doc)
		return
	}
	style := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Style,
		Data:     "style",
		Attr:     []html.Attribute{{Key: "amp-keyframes"}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: c.keyframes.Concat()})
	body.AppendChild(style)
}

// DOM helpers

func walk(n *html.Node, visit func(*html.Node)) {
	if n.Type == html.ElementNode {
		visit(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, found := getAttr(n, key)
	return found
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func appendClass(n *html.Node, class string) {
	for i, a := range n.Attr {
		if a.Key == "class" {
			if strings.TrimSpace(a.Val) == "" {
				n.Attr[i].Val = class
			} else {
				n.Attr[i].Val = a.Val + " " + class
			}
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
}

func remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func urlPath(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	return src
}
