package generics

import (
	"maps"
	"slices"
)

// Set is a map[T]struct{}-backed unique set of items.
type Set[T comparable] map[T]struct{}

// NewSet returns a new Set with elements `es`.
func NewSet[T comparable](es ...T) Set[T] {
	s := make(Set[T], len(es))
	s.Add(es...)
	return s
}

// Add adds elements `es` to the Set.
func (s Set[T]) Add(es ...T) {
	for _, e := range es {
		s[e] = struct{}{}
	}
}

// Contains returns true if the Set contains `e`.
func (s Set[T]) Contains(e T) bool {
	_, ok := s[e]
	return ok
}

// Members returns the unique elements of the Set in indeterminate order.
func (s Set[T]) Members() []T {
	return slices.Collect(maps.Keys(s))
}

// Multiset counts occurrences, so equal items are matched one for one.
type Multiset[T comparable] map[T]int

// NewMultiset returns a Multiset holding every element of `es`, duplicates
// included.
func NewMultiset[T comparable](es ...T) Multiset[T] {
	m := make(Multiset[T], len(es))
	for _, e := range es {
		m[e]++
	}
	return m
}

// Take removes one occurrence of `e` and reports whether there was one.
func (m Multiset[T]) Take(e T) bool {
	n := m[e]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(m, e)
	} else {
		m[e] = n - 1
	}
	return true
}

// Len is the total number of occurrences held.
func (m Multiset[T]) Len() int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// Without returns the items of `es`, in order, with one occurrence removed for
// every occurrence in `remove`.
func Without[T comparable](es []T, remove []T) []T {
	pending := NewMultiset(remove...)
	out := make([]T, 0, len(es))
	for _, e := range es {
		if pending.Take(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}
