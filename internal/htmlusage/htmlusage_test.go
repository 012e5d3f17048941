package htmlusage

import (
	"strings"
	"testing"

	"github.com/daaku/ensure"
	"golang.org/x/net/html"
)

func parse(t *testing.T, s string) *html.Node {
	doc, err := html.Parse(strings.NewReader(s))
	ensure.Nil(t, err)
	return doc
}

func TestExtract(t *testing.T) {
	cases := []struct {
		name    string
		html    string
		classes []string
	}{
		{
			"single class",
			`<p class="foo">x</p>`,
			[]string{"foo"},
		},
		{
			"whitespace split",
			`<p class="foo  bar baz">x</p>`,
			[]string{"foo", "bar", "baz"},
		},
		{
			"nested elements",
			`<div class="a"><span class="b">x</span></div>`,
			[]string{"a", "b"},
		},
		{
			"no classes",
			`<p id="x">x</p>`,
			nil,
		},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			info := Extract(parse(t, c.html))
			ensure.DeepEqual(t, len(info.Seen), len(c.classes))
			for _, class := range c.classes {
				ensure.True(t, info.Has(class))
			}
		})
	}
}

func TestHas(t *testing.T) {
	info := Extract(parse(t, `<p class="foo">x</p>`))
	ensure.True(t, info.Has("foo"))
	ensure.False(t, info.Has("bar"))
}

func TestMerge(t *testing.T) {
	a := Extract(parse(t, `<p class="foo">x</p>`))
	b := Extract(parse(t, `<p class="bar">x</p>`))
	a.Merge(b)
	ensure.True(t, a.Has("foo"))
	ensure.True(t, a.Has("bar"))
}
