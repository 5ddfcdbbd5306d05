// Package utils holds small generic helpers shared by the services and the
// HTTP layer: a sharded concurrent map and page arithmetic.
package utils

import "strconv"

// ParseBounded parses s as a base-10 int and clamps it into [lo, hi].
// Empty or malformed input yields def, which is clamped too. A hi below lo
// disables the upper bound.
func ParseBounded(s string, def, lo, hi int) int {
	n := def
	if s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			n = v
		}
	}
	if n < lo {
		n = lo
	}
	if hi >= lo && n > hi {
		n = hi
	}
	return n
}

// PageWindow returns the half-open range [start, end) covered by the
// 1-based page of the given size over n items. Pages past the end give an
// empty range at n.
func PageWindow(n, page, size int) (start, end int) {
	if n <= 0 || page < 1 || size < 1 {
		return 0, 0
	}
	start = (page - 1) * size
	if start >= n || start < 0 {
		return n, n
	}
	end = start + size
	if end > n {
		end = n
	}
	return start, end
}

// TotalPages is the number of pages of the given size needed for n items.
func TotalPages(n int64, size int) int {
	if n <= 0 || size < 1 {
		return 0
	}
	return int((n + int64(size) - 1) / int64(size))
}
