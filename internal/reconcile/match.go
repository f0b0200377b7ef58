package reconcile

import (
	"fmt"
)

// Column is one destination column: its name as declared in the database and
// its normalized key.
type Column struct {
	Name string
	Key  ColumnKey
}

// DestinationSchema is the ordered column list of the load target.
type DestinationSchema struct {
	columns []Column
	byKey   map[ColumnKey]int
}

// KeyCollisionError reports two destination columns that normalize to the same
// key. Such a table cannot be matched unambiguously, so it is refused up front.
type KeyCollisionError struct {
	Key   ColumnKey
	First string
	Other string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("reconcile: destination columns %q and %q both normalize to %q", e.First, e.Other, e.Key)
}

// NewDestinationSchema builds a schema from the destination's column names in
// ordinal order.
//
// Errors:
//   - *KeyCollisionError if two names share a key (for example "Total" and "TOTAL ").
func NewDestinationSchema(names []string) (DestinationSchema, error) {
	s := DestinationSchema{
		columns: make([]Column, 0, len(names)),
		byKey:   make(map[ColumnKey]int, len(names)),
	}
	for _, n := range names {
		k := Normalize(n)
		if i, dup := s.byKey[k]; dup {
			return DestinationSchema{}, &KeyCollisionError{Key: k, First: s.columns[i].Name, Other: n}
		}
		s.byKey[k] = len(s.columns)
		s.columns = append(s.columns, Column{Name: n, Key: k})
	}
	return s, nil
}

// Columns returns the destination columns in ordinal order.
func (s DestinationSchema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Names returns the destination column names in ordinal order.
func (s DestinationSchema) Names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// Len is the number of destination columns.
func (s DestinationSchema) Len() int { return len(s.columns) }

// Lookup returns the destination column for key k.
func (s DestinationSchema) Lookup(k ColumnKey) (Column, bool) {
	i, ok := s.byKey[k]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// Mapping renames source column names to destination column names. Only
// source columns whose key exists in the destination appear.
type Mapping map[string]string

// MatchResult is the outcome of comparing a sheet header against a
// destination schema.
type MatchResult struct {
	Mapping Mapping
	// Missing holds destination keys that no source column provides.
	Missing KeySet
	// Extra holds source keys with no destination column.
	Extra KeySet
}

// Match compares the source header with the destination columns.
//
// Edge cases:
//   - Several source columns with the same key all appear in Mapping; the
//     projector keeps the first one.
//   - An empty source header leaves every destination key in Missing.
func (s DestinationSchema) Match(source []string) MatchResult {
	res := MatchResult{Mapping: make(Mapping, len(source))}

	seen := make(map[ColumnKey]struct{}, len(source))
	extra := map[ColumnKey]struct{}{}
	for _, name := range source {
		k := Normalize(name)
		seen[k] = struct{}{}
		if c, ok := s.Lookup(k); ok {
			res.Mapping[name] = c.Name
			continue
		}
		extra[k] = struct{}{}
	}

	missing := map[ColumnKey]struct{}{}
	for _, c := range s.columns {
		if _, ok := seen[c.Key]; !ok {
			missing[c.Key] = struct{}{}
		}
	}

	res.Missing = newKeySet(missing)
	res.Extra = newKeySet(extra)
	return res
}

// Match builds a DestinationSchema from destination and matches source
// against it.
func Match(destination, source []string) (MatchResult, error) {
	s, err := NewDestinationSchema(destination)
	if err != nil {
		return MatchResult{}, err
	}
	return s.Match(source), nil
}
