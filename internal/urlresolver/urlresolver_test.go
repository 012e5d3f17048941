package urlresolver

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/daaku/ensure"
)

func TestResolve(t *testing.T) {
	root := t.TempDir()
	ensure.Nil(t, os.MkdirAll(filepath.Join(root, "css"), 0o755))
	target := filepath.Join(root, "css", "s.css")
	ensure.Nil(t, os.WriteFile(target, []byte(".a{}"), 0o644))

	d := New(root)
	p, err := d.Resolve("/css/s.css")
	ensure.Nil(t, err)
	ensure.DeepEqual(t, p, target)
}

func TestResolveWithQueryString(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "s.css")
	ensure.Nil(t, os.WriteFile(target, []byte(".a{}"), 0o644))

	p, err := New(root).Resolve("/s.css?ver=1.2")
	ensure.Nil(t, err)
	ensure.DeepEqual(t, p, target)
}

func TestResolveNotFound(t *testing.T) {
	_, err := New(t.TempDir()).Resolve("/missing.css")
	ensure.Err(t, err, regexp.MustCompile("not found"))
}

func TestResolveTraversalRejected(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "secret.css")
	ensure.Nil(t, os.WriteFile(outside, []byte(".a{}"), 0o644))
	defer os.Remove(outside)

	_, err := New(root).Resolve("/../secret.css")
	ensure.Err(t, err, regexp.MustCompile("not found"))
}

func TestResolveMultipleRoots(t *testing.T) {
	r1, r2 := t.TempDir(), t.TempDir()
	target := filepath.Join(r2, "s.css")
	ensure.Nil(t, os.WriteFile(target, []byte(".a{}"), 0o644))

	p, err := New(r1, r2).Resolve("/s.css")
	ensure.Nil(t, err)
	ensure.DeepEqual(t, p, target)
}
