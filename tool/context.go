package tool

import (
	"github.com/marketlens/marketagent/toolcache"
)

// CallerContext holds pre-fetched tool values supplied by the caller for a
// single request. It is the first resolution layer: a hit costs no cache
// lookup and no live call. Entries are keyed by the same canonical
// (tool, args) key the server cache uses, so context hits require exact
// semantic argument equality. The context is per-request and never
// populates the server cache.
type CallerContext struct {
	values map[string]any
}

// NewCallerContext constructs an empty caller context.
func NewCallerContext() *CallerContext {
	return &CallerContext{values: make(map[string]any)}
}

// Put stores a pre-fetched value for the given tool and arguments.
func (c *CallerContext) Put(tool string, args map[string]any, value any) {
	c.values[toolcache.Key(tool, args)] = value
}

// Len reports the number of supplied values.
func (c *CallerContext) Len() int {
	if c == nil {
		return 0
	}
	return len(c.values)
}

// lookup returns the value for a canonical key if the caller supplied one.
// nil receivers behave as an empty context so callers may omit it entirely.
func (c *CallerContext) lookup(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}
