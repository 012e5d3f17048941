// Package ampcss sanitizes and rewrites the CSS of AMP-constrained HTML
// documents: it collects every reachable stylesheet, filters it against the
// platform rules, shakes unused class selectors, rewrites !important into
// higher-specificity clones, normalizes font sources, and emits a single
// byte-capped amp-custom stylesheet plus a separate amp-keyframes one.
package ampcss

import (
	"github.com/daaku/ampcss/internal/amperr"
	"github.com/daaku/ampcss/internal/ampspec"
	"github.com/daaku/ampcss/internal/collector"
	"github.com/daaku/ampcss/internal/parsecache"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Re-exported collaborator types. The sanitizer consumes these as abstract
// interfaces; the host framework supplies the implementations.
type (
	// Error is a single validation finding.
	Error = amperr.Error
	// Code identifies a class of validation finding.
	Code = amperr.Code
	// Sink receives validation findings tagged with their origin node.
	Sink = amperr.Sink
	// URLResolver maps a stylesheet URL onto a validated local path.
	URLResolver = collector.URLResolver
	// Telemetry receives one timing report per pass.
	Telemetry = collector.Telemetry
	// Cache is the external parse cache service.
	Cache = parsecache.Cache
	// Spec is the set of platform rules a pass runs under.
	Spec = ampspec.Spec
)

// Config wires a Sanitizer. Every field is optional: nil fields fall back to
// the platform defaults, an in-process cache, a discarding sink, and a nop
// logger. A nil Resolver rejects with amp_css_path_not_found every linked
// stylesheet that is not an allowed font provider and has an allowed file
// extension.
type Config struct {
	Spec      *Spec
	Cache     Cache
	Resolver  URLResolver
	Sink      Sink
	Telemetry Telemetry
	Log       *zap.Logger
}

// Sanitizer runs sanitization passes. It is safe for concurrent use; each
// pass owns its document exclusively while the shared parse cache is
// concurrency-safe on its own.
type Sanitizer struct {
	spec      *Spec
	cache     Cache
	resolver  URLResolver
	sink      Sink
	telemetry Telemetry
	log       *zap.Logger
}

func New(c Config) *Sanitizer {
	s := &Sanitizer{
		spec:      c.Spec,
		cache:     c.Cache,
		resolver:  c.Resolver,
		sink:      c.Sink,
		telemetry: c.Telemetry,
		log:       c.Log,
	}
	if s.spec == nil {
		s.spec = ampspec.Default()
	}
	if s.cache == nil {
		s.cache = parsecache.NewMemory()
	}
	if s.sink == nil {
		s.sink = amperr.Discard
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Sanitize runs one full pass over doc, mutating it in place. Validation
// findings flow through the configured sink; no finding is fatal to the
// pass.
func (s *Sanitizer) Sanitize(doc *html.Node) error {
	col := collector.New(s.spec, s.cache, s.resolver, s.sink, s.log)
	err := col.Run(doc)
	if s.telemetry != nil {
		s.telemetry("amp_css_parse", col.ParseTime().Seconds(),
			"cumulative CSS parse time for the document pass")
	}
	return err
}
