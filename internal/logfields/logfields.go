// Package logfields gives the pipeline and status synchronizer a
// consistent structured-logging shape (doc_id, stage, request_id...) on top
// of the teacher's plain log.Printf idiom, per spec.md §4.5's requirement
// for a "structured log record" without pulling in a logging framework the
// teacher never adopted itself.
package logfields

import (
	"fmt"
	"sort"
	"strings"
)

// Fields is an ordered-for-printing set of key/value pairs.
type Fields map[string]any

// String renders fields as "key=value key2=value2", sorted by key so log
// lines are diffable.
func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f[k]))
	}
	return strings.Join(parts, " ")
}

// Line formats a human message followed by its structured fields, e.g.
// "sync-ok doc_id=abc status=fully_processed".
func Line(msg string, f Fields) string {
	if rendered := f.String(); rendered != "" {
		return msg + " " + rendered
	}
	return msg
}
