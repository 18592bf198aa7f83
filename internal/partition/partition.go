package partition

import (
	"fmt"
	"math"
)

// RowRange is a half-open [Start, End) index range over an exported row
// sequence.
type RowRange struct {
	Start int64
	End   int64
}

// Count returns the number of rows covered by the range.
func (r RowRange) Count() int64 {
	return r.End - r.Start
}

// Boundaries splits rowCount rows into slices contiguous, ordered,
// non-overlapping ranges whose union is exactly [0, rowCount). Interior cut
// points are evenly spaced and floored to integers; the final range always
// ends at rowCount. If rowCount <= slices a single range covering everything
// is returned, so that no empty ranges are produced.
func Boundaries(rowCount int64, slices int) ([]RowRange, error) {
	if slices < 1 {
		return nil, fmt.Errorf("invalid slices %d: must be at least 1", slices)
	}
	if rowCount < 0 {
		return nil, fmt.Errorf("invalid row count %d: must be non-negative", rowCount)
	}
	if rowCount <= int64(slices) {
		return []RowRange{{Start: 0, End: rowCount}}, nil
	}

	starts := linspace(0, rowCount, slices)
	ranges := make([]RowRange, 0, len(starts))
	for i, start := range starts {
		end := rowCount
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		ranges = append(ranges, RowRange{Start: start, End: end})
	}
	return ranges, nil
}

// linspace computes num evenly spaced integer cut points in [start, stop),
// flooring each interior point.
func linspace(start, stop int64, num int) []int64 {
	step := float64(stop-start) / float64(num)
	cuts := []int64{start}
	accum := float64(start)
	for i := 1; i < num; i++ {
		accum += step
		if accum > float64(stop) {
			break
		}
		cuts = append(cuts, int64(math.Floor(accum)))
	}
	return cuts
}
