// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage validates a (page, size) pair from query parameters: page is
// floored at 1, size is floored at 1 and capped at max. A max <= 0 disables
// the cap.
func ClampPage(page, size, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 1
	}
	if max > 0 && size > max {
		size = max
	}
	return page, size
}

// PageBounds returns the half-open slice bounds [start, end) of the given
// page within a list of n items. Pages past the end collapse to the empty
// slice at n, so callers can index without further checks.
func PageBounds(page, size, n int) (start, end int) {
	start = (page - 1) * size
	if start > n {
		start = n
	}
	end = start + size
	if end > n {
		end = n
	}
	return start, end
}
