// Package reconcile matches spreadsheet headers against a destination table
// schema and projects sheet rows into the destination column order.
package reconcile

import (
	"sort"
	"strings"
)

// ColumnKey is the canonical form of a column name used for matching.
//
// Two names refer to the same column iff their keys are equal. Keys are only
// used for comparison; the destination's original casing is what gets written.
type ColumnKey string

// Normalize maps a raw column name to its ColumnKey.
//
// The rules are applied in order:
//  1. trim leading/trailing whitespace
//  2. lowercase
//  3. every space becomes "_"
//  4. every "#" becomes "."
//
// Edge cases:
//   - Nothing else is touched: no unicode folding, no punctuation stripping.
//     "Order-ID" and "order_id" stay distinct.
//   - Normalize is idempotent: Normalize(string(Normalize(x))) == Normalize(x).
//   - An all-whitespace name normalizes to the empty key.
func Normalize(raw string) ColumnKey {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "#", ".")
	return ColumnKey(s)
}

// KeySet is a sorted, duplicate-free list of column keys.
type KeySet []ColumnKey

func newKeySet(m map[ColumnKey]struct{}) KeySet {
	if len(m) == 0 {
		return nil
	}
	out := make(KeySet, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether k is in the set.
func (s KeySet) Contains(k ColumnKey) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= k })
	return i < len(s) && s[i] == k
}

// String joins the keys with ", " for user-facing messages.
func (s KeySet) String() string {
	parts := make([]string, len(s))
	for i, k := range s {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
