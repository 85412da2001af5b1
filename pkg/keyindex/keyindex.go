// Package keyindex tracks which keys of a fixed key set have been seen.
//
// Keys are placed with a minimal perfect hash (bbhash) so every key owns a
// dense position; seen positions live in a roaring bitmap.
package keyindex

import (
	"fmt"
	"hash/fnv"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/relab/bbhash"
)

// Index maps a fixed set of keys to dense positions and records which were found.
// It is not safe for concurrent use.
type Index struct {
	mph   *bbhash.BBHash2
	keys  []string // keys[pos]
	order []uint32 // input order -> pos
	found *roaring.Bitmap
}

// Build creates an index over keys. Duplicate keys are collapsed; the first
// occurrence fixes the input order.
func Build(keys []string) (*Index, error) {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	ix := &Index{found: roaring.New()}
	if len(unique) == 0 {
		return ix, nil
	}

	hashes := make([]uint64, len(unique))
	for i, k := range unique {
		hashes[i] = hashKey(k)
	}
	mph, err := bbhash.New(hashes, bbhash.Gamma(2.0))
	if err != nil {
		return nil, fmt.Errorf("build key hash over %d keys: %w", len(unique), err)
	}

	ix.mph = mph
	ix.keys = make([]string, len(unique))
	ix.order = make([]uint32, len(unique))
	for i, k := range unique {
		v := mph.Find(hashes[i])
		if v == 0 || v > uint64(len(unique)) {
			return nil, fmt.Errorf("key hash lookup failed for %q", k)
		}
		pos := uint32(v - 1)
		ix.keys[pos] = k
		ix.order[i] = pos
	}
	return ix, nil
}

// Len returns the number of distinct keys.
func (ix *Index) Len() int {
	return len(ix.keys)
}

// Lookup returns the position of key, or false if key is not in the set.
func (ix *Index) Lookup(key string) (uint32, bool) {
	if ix.mph == nil {
		return 0, false
	}
	v := ix.mph.Find(hashKey(key))
	if v == 0 || v > uint64(len(ix.keys)) {
		return 0, false
	}
	pos := uint32(v - 1)
	if ix.keys[pos] != key {
		return 0, false
	}
	return pos, true
}

// Contains reports whether key is in the set.
func (ix *Index) Contains(key string) bool {
	_, ok := ix.Lookup(key)
	return ok
}

// Mark records key as found. It returns false for keys outside the set.
func (ix *Index) Mark(key string) bool {
	pos, ok := ix.Lookup(key)
	if ok {
		ix.found.Add(pos)
	}
	return ok
}

// Found reports whether key was marked.
func (ix *Index) Found(key string) bool {
	pos, ok := ix.Lookup(key)
	return ok && ix.found.Contains(pos)
}

// FoundCount returns how many distinct keys were marked.
func (ix *Index) FoundCount() int {
	return int(ix.found.GetCardinality())
}

// Missing returns the unmarked keys in input order.
func (ix *Index) Missing() []string {
	out := make([]string, 0, len(ix.keys)-ix.FoundCount())
	for _, pos := range ix.order {
		if !ix.found.Contains(pos) {
			out = append(out, ix.keys[pos])
		}
	}
	return out
}

// Keys returns the distinct keys in input order.
func (ix *Index) Keys() []string {
	out := make([]string, len(ix.order))
	for i, pos := range ix.order {
		out[i] = ix.keys[pos]
	}
	return out
}

func hashKey(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
