// Package content aggregates branch-scoped and globally promoted content into
// the lists shown for a branch.
package content

import (
	"slices"
	"strings"
	"time"
)

// Item is a record that can be merged by identity and ordered by recency.
type Item interface {
	Key() string
	Created() time.Time
}

// Searchable is an Item with free-text fields.
type Searchable interface {
	Item
	SearchText() []string
}

// Merge concatenates result sets, keeps the first occurrence of each id and
// sorts the union newest first. Items with equal creation times keep their
// input order.
func Merge[T Item](sets ...[]T) []T {
	n := 0
	for _, set := range sets {
		n += len(set)
	}
	seen := make(map[string]struct{}, n)
	out := make([]T, 0, n)
	for _, set := range sets {
		for _, it := range set {
			if _, dup := seen[it.Key()]; dup {
				continue
			}
			seen[it.Key()] = struct{}{}
			out = append(out, it)
		}
	}
	SortNewest(out)
	return out
}

// SortNewest sorts items by creation time, newest first, stable.
func SortNewest[T Item](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		return b.Created().Compare(a.Created())
	})
}

// Filter returns the items for which keep returns true, preserving order.
func Filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Truncate returns at most n leading items.
func Truncate[T any](items []T, n int) []T {
	if n >= 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// Search keeps items with a case-insensitive substring match of term in any
// search field, newest first, truncated to limit.
func Search[T Searchable](items []T, term string, limit int) []T {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return []T{}
	}
	matched := Filter(items, func(it T) bool {
		for _, field := range it.SearchText() {
			if strings.Contains(strings.ToLower(field), needle) {
				return true
			}
		}
		return false
	})
	SortNewest(matched)
	return Truncate(matched, limit)
}
