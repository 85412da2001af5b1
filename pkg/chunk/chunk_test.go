package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "exact multiple", n: 20, size: 10, sizes: []int{10, 10}},
		{name: "remainder", n: 25, size: 10, sizes: []int{10, 10, 5}},
		{name: "smaller than size", n: 3, size: 10, sizes: []int{3}},
		{name: "size one", n: 3, size: 1, sizes: []int{1, 1, 1}},
		{name: "empty", n: 0, size: 4, sizes: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.n)
			for i := range items {
				items[i] = i
			}

			groups, err := Split(items, tt.size)
			require.NoError(t, err)
			require.NotNil(t, groups)
			require.Len(t, groups, len(tt.sizes))

			var flat []int
			for i, g := range groups {
				assert.Len(t, g, tt.sizes[i])
				flat = append(flat, g...)
			}
			if tt.n == 0 {
				assert.Empty(t, flat)
				return
			}
			assert.Equal(t, items, flat)
		})
	}
}

func TestSplit_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Split([]string{"a"}, size)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestSplit_AppendDoesNotClobberNextGroup(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	groups, err := Split(items, 2)
	require.NoError(t, err)

	_ = append(groups[0], "x")
	assert.Equal(t, []string{"c", "d"}, groups[1])
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(0, 10))
	assert.Equal(t, 1, Count(1, 10))
	assert.Equal(t, 3, Count(25, 10))
	assert.Equal(t, 4, Count(37, 10))
	assert.Equal(t, 100, Count(100000, 1000))
}

func TestBounds(t *testing.T) {
	bounds := Bounds(25, 10)
	require.Len(t, bounds, 3)
	assert.Equal(t, [2]int{0, 10}, bounds[0])
	assert.Equal(t, [2]int{10, 20}, bounds[1])
	assert.Equal(t, [2]int{20, 25}, bounds[2])
	assert.Empty(t, Bounds(0, 10))
}
