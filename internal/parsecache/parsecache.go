// Package parsecache memoizes parsed-and-filtered stylesheets. Entries are
// immutable plain data keyed by a canonical hash of the stylesheet text and
// its options, so the cache can be shared process-wide across documents.
package parsecache

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/daaku/ampcss/internal/amperr"
	"github.com/daaku/ampcss/internal/cssfilter"

	"go.uber.org/zap"
)

// Entry is one cached parse result. The recorded findings are part of the
// result and are replayed on every hit.
type Entry struct {
	Parts  []cssfilter.Part
	Errors []amperr.Error
}

// Cache is the external cache service interface. Implementations must be
// safe for concurrent Get and Set.
type Cache interface {
	Get(key string) (*Entry, bool)
	Set(key string, e *Entry)
}

func setString(s map[string]struct{}) string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Key derives the cache key from the stylesheet text and every option except
// the tree-shaking flag: shaking runs after lookup against the current
// document's class set, which is not part of the key. The encoding is a
// sorted key=value list so the key stays portable across processes.
func Key(text string, o cssfilter.Options) string {
	pairs := []string{
		"at=" + setString(o.AllowedAtRules),
		"blacklist=" + setString(o.PropertyBlacklist),
		"keyframes=" + strconv.FormatBool(o.ValidateKeyframes),
		"path=" + o.StylesheetPath,
		"text=" + text,
		"url=" + o.StylesheetURL,
		"whitelist=" + setString(o.PropertyWhitelist),
		"width=" + strconv.FormatBool(o.ConvertWidthToMaxWidth),
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(sum[:])
}

// Memory is a mutex-guarded in-process Cache.
type Memory struct {
	mu sync.RWMutex
	m  map[string]*Entry
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]*Entry)}
}

func (c *Memory) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.m[key]
	return e, found
}

func (c *Memory) Set(key string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = e
}

// Parse runs text through the filter via the cache. A parse failure becomes
// a cached css_parse_error entry with an empty part sequence.
func Parse(c Cache, text string, o cssfilter.Options, log *zap.Logger) *Entry {
	if log == nil {
		log = zap.NewNop()
	}
	key := Key(text, o)
	if e, found := c.Get(key); found {
		log.Debug("stylesheet cache hit", zap.String("key", key))
		return e
	}
	var e *Entry
	res, err := cssfilter.Filter(text, o, log)
	if err != nil {
		e = &Entry{Errors: []amperr.Error{{
			Code:    amperr.ParseError,
			Message: err.Error(),
		}}}
	} else {
		e = &Entry{Parts: res.Parts, Errors: res.Errors}
	}
	c.Set(key, e)
	return e
}
