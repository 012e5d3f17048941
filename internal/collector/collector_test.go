package collector

import (
	"strings"
	"testing"

	"github.com/daaku/ensure"
	"golang.org/x/net/html"
)

func TestInlineClass(t *testing.T) {
	class := InlineClass("color:red")
	ensure.True(t, strings.HasPrefix(class, InlineClassPrefix))
	// prefix plus the first 7 hex digits of the value's md5
	ensure.DeepEqual(t, len(class), len(InlineClassPrefix)+7)
	// stable for identical values, distinct otherwise
	ensure.DeepEqual(t, InlineClass("color:red"), class)
	if InlineClass("color:blue") == class {
		t.Fatal("distinct values must not collide on the happy path")
	}
}

func TestAppendClass(t *testing.T) {
	n := &html.Node{Type: html.ElementNode, Data: "p"}
	appendClass(n, "a")
	v, _ := getAttr(n, "class")
	ensure.DeepEqual(t, v, "a")
	appendClass(n, "b")
	v, _ = getAttr(n, "class")
	ensure.DeepEqual(t, v, "a b")
}

func TestURLPath(t *testing.T) {
	ensure.DeepEqual(t, urlPath("/a.css?v=1"), "/a.css")
	ensure.DeepEqual(t, urlPath("/a.css#frag"), "/a.css")
	ensure.DeepEqual(t, urlPath("/a.css"), "/a.css")
}
