package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundaries(t *testing.T) {
	t.Run("evenly divisible", func(t *testing.T) {
		ranges, err := Boundaries(300, 10)
		require.NoError(t, err)
		require.Len(t, ranges, 10)
		require.Equal(t, RowRange{Start: 0, End: 30}, ranges[0])
		require.Equal(t, RowRange{Start: 270, End: 300}, ranges[9])
		for _, r := range ranges {
			require.EqualValues(t, 30, r.Count())
		}
	})

	t.Run("fewer rows than slices", func(t *testing.T) {
		ranges, err := Boundaries(5, 30)
		require.NoError(t, err)
		require.Equal(t, []RowRange{{Start: 0, End: 5}}, ranges)
	})

	t.Run("zero rows", func(t *testing.T) {
		ranges, err := Boundaries(0, 4)
		require.NoError(t, err)
		require.Equal(t, []RowRange{{Start: 0, End: 0}}, ranges)
	})

	t.Run("invalid slices", func(t *testing.T) {
		_, err := Boundaries(10, 0)
		require.Error(t, err)
		_, err = Boundaries(10, -3)
		require.Error(t, err)
	})

	t.Run("invalid row count", func(t *testing.T) {
		_, err := Boundaries(-1, 4)
		require.Error(t, err)
	})

	t.Run("covers all rows without gaps or overlaps", func(t *testing.T) {
		for _, tc := range []struct {
			rowCount int64
			slices   int
		}{
			{1, 1}, {7, 3}, {10, 3}, {100, 7}, {101, 7}, {1000, 13},
			{12345, 32}, {64, 64}, {65, 64}, {2, 100},
		} {
			ranges, err := Boundaries(tc.rowCount, tc.slices)
			require.NoError(t, err)
			require.NotEmpty(t, ranges)

			require.EqualValues(t, 0, ranges[0].Start)
			require.Equal(t, tc.rowCount, ranges[len(ranges)-1].End)
			for i, r := range ranges {
				require.Greater(t, r.End, r.Start, "rowCount=%d slices=%d range=%d", tc.rowCount, tc.slices, i)
				if i > 0 {
					require.Equal(t, ranges[i-1].End, r.Start)
				}
			}
			if tc.rowCount > int64(tc.slices) {
				require.Len(t, ranges, tc.slices)
			} else {
				require.Len(t, ranges, 1)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		first, err := Boundaries(12345, 17)
		require.NoError(t, err)
		second, err := Boundaries(12345, 17)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})
}
