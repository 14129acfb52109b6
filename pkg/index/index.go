// Package index maps (namespace, key) to the flash location of the
// authoritative record of one partition.
//
// An Index is not synchronized. The record log that owns it serializes
// mutations and holds its partition lock while reading.
package index

import "sort"

// Location identifies where a record lives inside a partition.
type Location struct {
	Unit   uint32 // erase unit, relative to the partition start
	Offset uint32 // byte offset of the record header inside the unit
	Span   uint32 // bytes the record occupies on flash, padding included
	Size   uint32 // logical value length returned to callers
	Seq    uint64 // record sequence number
}

// Index is a two-level map: namespace, then key.
type Index struct {
	spaces map[string]map[string]Location
	count  int
}

// New creates an empty index.
func New() *Index {
	return &Index{spaces: make(map[string]map[string]Location)}
}

// Lookup returns the location of the authoritative record.
func (ix *Index) Lookup(ns, key string) (Location, bool) {
	keys, ok := ix.spaces[ns]
	if !ok {
		return Location{}, false
	}
	loc, ok := keys[key]
	return loc, ok
}

// Put records loc as authoritative and returns the location it replaced.
func (ix *Index) Put(ns, key string, loc Location) (prev Location, replaced bool) {
	keys, ok := ix.spaces[ns]
	if !ok {
		keys = make(map[string]Location)
		ix.spaces[ns] = keys
	}
	prev, replaced = keys[key]
	keys[key] = loc
	if !replaced {
		ix.count++
	}
	return prev, replaced
}

// Remove drops a key. A namespace disappears with its last key.
func (ix *Index) Remove(ns, key string) (Location, bool) {
	keys, ok := ix.spaces[ns]
	if !ok {
		return Location{}, false
	}
	loc, ok := keys[key]
	if !ok {
		return Location{}, false
	}
	delete(keys, key)
	ix.count--
	if len(keys) == 0 {
		delete(ix.spaces, ns)
	}
	return loc, true
}

// Namespaces returns the namespaces holding at least one key, sorted.
func (ix *Index) Namespaces() []string {
	out := make([]string, 0, len(ix.spaces))
	for ns := range ix.spaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Keys returns the keys of a namespace, sorted.
func (ix *Index) Keys(ns string) []string {
	keys := ix.spaces[ns]
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of keys across all namespaces.
func (ix *Index) Len() int { return ix.count }

// NamespaceLen returns the number of keys in one namespace.
func (ix *Index) NamespaceLen(ns string) int { return len(ix.spaces[ns]) }

// Range calls fn for every entry until fn returns false. Order is
// unspecified; fn must not mutate the index.
func (ix *Index) Range(fn func(ns, key string, loc Location) bool) {
	for ns, keys := range ix.spaces {
		for k, loc := range keys {
			if !fn(ns, k, loc) {
				return
			}
		}
	}
}

// Reset drops every entry.
func (ix *Index) Reset() {
	ix.spaces = make(map[string]map[string]Location)
	ix.count = 0
}
