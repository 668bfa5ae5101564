package toolcache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// tickerArgs lists argument names whose values are case-normalized during
// canonicalization. Ticker symbols arrive in whatever casing the model or
// caller produced; "aapl" and "AAPL" must map to the same cache entry.
var tickerArgs = map[string]bool{
	"ticker": true,
	"symbol": true,
}

// CanonicalArgs returns a normalized copy of args: string values are
// trimmed, ticker-like values are upper-cased, and JSON integral floats are
// collapsed to integers. The input map is never mutated.
func CanonicalArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	canonical := make(map[string]any, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			s := strings.TrimSpace(val)
			if tickerArgs[k] {
				s = strings.ToUpper(s)
			}
			canonical[k] = s
		case float64:
			// JSON decoding yields float64 for every number; fold integral
			// values so 10 and 10.0 canonicalize identically.
			if val == float64(int64(val)) {
				canonical[k] = int64(val)
				continue
			}
			canonical[k] = val
		default:
			canonical[k] = v
		}
	}
	return canonical
}

// Key computes the canonical cache key for a (tool, args) pair. Argument
// keys are sorted so map iteration order cannot leak into the key, and
// every field is length-prefixed before hashing so distinct argument maps
// cannot collide through delimiter characters in their values.
func Key(tool string, args map[string]any) string {
	canonical := CanonicalArgs(args)
	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	writeField := func(s string) {
		_, _ = fmt.Fprintf(h, "%d:%s", len(s), s)
	}
	writeField(tool)
	for _, k := range keys {
		writeField(k)
		writeField(fmt.Sprintf("%v", canonical[k]))
	}
	return fmt.Sprintf("%s:%x", tool, h.Sum64())
}
