// Command ampcss sanitizes the CSS of AMP HTML documents on disk.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/daaku/ampcss"
	"github.com/daaku/ampcss/internal/urlresolver"

	"github.com/facebookgo/errgroup"
	"github.com/jpillora/opts"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

type app struct {
	HTMLGlobs []string `opts:"name=html,short=h,help=Globs targeting HTML documents"`
	Roots     []string `opts:"name=root,short=r,help=Directories serving site-relative stylesheet URLs"`
	Stdout    bool     `opts:"help=Write sanitized documents to stdout instead of .amp.html files"`
	Verbose   bool     `opts:"short=v,help=Log validation findings"`

	log       *zap.Logger
	sanitizer *ampcss.Sanitizer
}

func (a *app) sink(e ampcss.Error, _ *html.Node) {
	a.log.Info("validation finding",
		zap.String("code", string(e.Code)),
		zap.String("message", e.Message),
		zap.String("property", e.PropertyName),
		zap.String("at_rule", e.AtRuleName),
		zap.String("url", e.URL),
		zap.Int("overage_bytes", e.OverageBytes),
	)
}

func (a *app) processFile(filename string) (err error) {
	a.log.Debug("processing document", zap.String("file", filename))
	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		err = multierr.Append(err, errors.WithStack(f.Close()))
	}()

	doc, err := html.Parse(f)
	if err != nil {
		return errors.WithMessagef(err, "parsing %s", filename)
	}
	if err := a.sanitizer.Sanitize(doc); err != nil {
		return errors.WithMessagef(err, "sanitizing %s", filename)
	}

	if a.Stdout {
		return errors.WithStack(html.Render(os.Stdout, doc))
	}
	outName := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".amp.html"
	out, err := os.Create(outName)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		err = multierr.Append(err, errors.WithStack(out.Close()))
	}()
	return errors.WithStack(html.Render(out, doc))
}

func (a *app) run() error {
	sink := ampcss.Sink(nil)
	if a.Verbose {
		sink = a.sink
	}
	a.sanitizer = ampcss.New(ampcss.Config{
		Resolver: urlresolver.New(a.Roots...),
		Sink:     sink,
		Log:      a.log,
		Telemetry: func(name string, seconds float64, description string) {
			a.log.Debug("telemetry", zap.String("name", name), zap.Float64("seconds", seconds))
		},
	})

	var eg errgroup.Group
	for _, glob := range a.HTMLGlobs {
		matches, err := filepath.Glob(glob)
		if err != nil {
			return errors.WithStack(err)
		}
		for _, match := range matches {
			match := match
			eg.Add(1)
			go func() {
				defer eg.Done()
				if err := a.processFile(match); err != nil {
					eg.Error(err)
				}
			}()
		}
	}
	return eg.Wait()
}

func main() {
	a := &app{}
	opts.Parse(a)
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	if !a.Verbose {
		log = zap.NewNop()
	}
	a.log = log
	if err := a.run(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
