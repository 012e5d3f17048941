// Package urlresolver maps site-relative stylesheet URLs onto local files
// beneath a set of known roots, rejecting anything that escapes them.
package urlresolver

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Dir resolves URLs against one or more local root directories, first match
// wins.
type Dir struct {
	roots []string
}

func New(roots ...string) *Dir {
	return &Dir{roots: roots}
}

// Resolve returns the validated local path for src, or an error when the
// path escapes every root or no root contains the file.
func (d *Dir) Resolve(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", errors.WithStack(err)
	}
	clean := path.Clean("/" + u.Path)
	for _, root := range d.roots {
		full := filepath.Join(root, filepath.FromSlash(clean))
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		absFull, err := filepath.Abs(full)
		if err != nil {
			continue
		}
		if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
			continue
		}
		if fi, err := os.Stat(absFull); err == nil && fi.Mode().IsRegular() {
			return absFull, nil
		}
	}
	return "", errors.Errorf("urlresolver: %q not found", src)
}
