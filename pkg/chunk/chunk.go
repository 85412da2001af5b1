// Package chunk splits ordered sequences into fixed-size contiguous groups.
package chunk

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when a chunk size is not positive.
var ErrInvalidArgument = errors.New("invalid argument")

// Split divides items into contiguous groups of at most size elements.
// Every group except the last has exactly size elements. The groups share
// the backing array of items.
func Split[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be > 0, got %d", ErrInvalidArgument, size)
	}

	groups := make([][]T, 0, Count(len(items), size))
	for _, b := range Bounds(len(items), size) {
		groups = append(groups, items[b[0]:b[1]:b[1]])
	}
	return groups, nil
}

// Count returns how many groups of size are needed to cover n elements.
// Size must be positive.
func Count(n, size int) int {
	if n <= 0 {
		return 0
	}
	groups := n / size
	if n%size > 0 {
		groups++
	}
	return groups
}

// Bounds returns the [start, end) index pairs of each group covering n elements.
func Bounds(n, size int) [][2]int {
	total := Count(n, size)
	bounds := make([][2]int, total)
	for i := range total {
		start := i * size
		end := min(start+size, n)
		bounds[i] = [2]int{start, end}
	}
	return bounds
}
