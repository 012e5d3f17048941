// Package htmlusage extracts the class names a document actually uses.
package htmlusage

import (
	"strings"

	"golang.org/x/net/html"
)

// Info is the used-classes set of one document, computed once before any
// shaking happens.
type Info struct {
	Seen map[string]struct{}
}

// Has reports whether a class name occurs in the document.
func (i *Info) Has(class string) bool {
	_, found := i.Seen[class]
	return found
}

func (i *Info) Merge(other *Info) {
	if i.Seen == nil {
		i.Seen = make(map[string]struct{})
	}
	for k := range other.Seen {
		i.Seen[k] = struct{}{}
	}
}

// Extract scans every class attribute under n, splitting on whitespace.
func Extract(n *html.Node) *Info {
	info := &Info{Seen: make(map[string]struct{})}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key != "class" {
					continue
				}
				for _, c := range strings.Fields(a.Val) {
					info.Seen[c] = struct{}{}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return info
}
