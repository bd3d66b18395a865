// Package query provides the default immutable query value for keyed record
// repositories.
package query

import (
	"maps"
	"slices"
)

// Keyed filters records by key and, optionally, by top-level attributes of the
// stored record. The zero value matches every record.
type Keyed[K comparable] struct {
	keys  []K
	attrs map[string]any
}

// ByKeys returns a query restricted to keys.
func ByKeys[K comparable](keys ...K) Keyed[K] {
	return Keyed[K]{keys: slices.Clone(keys)}
}

// All returns a query matching every record.
func All[K comparable]() Keyed[K] {
	return Keyed[K]{}
}

// Where returns a copy of q that additionally requires attribute attr to equal value.
func (q Keyed[K]) Where(attr string, value any) Keyed[K] {
	attrs := make(map[string]any, len(q.attrs)+1)
	maps.Copy(attrs, q.attrs)
	attrs[attr] = value
	return Keyed[K]{keys: q.keys, attrs: attrs}
}

// Keys returns the key restriction, or nil when the query is not restricted by key.
func (q Keyed[K]) Keys() []K {
	return slices.Clone(q.keys)
}

// Attributes returns the attribute filters.
func (q Keyed[K]) Attributes() map[string]any {
	return maps.Clone(q.attrs)
}

// RestrictedToKeys reports whether the query is a pure key lookup, which any
// backend can answer with point reads.
func (q Keyed[K]) RestrictedToKeys() bool {
	return len(q.keys) > 0 && len(q.attrs) == 0
}
