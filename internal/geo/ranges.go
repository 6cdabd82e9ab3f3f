package geo

import "fmt"

// rangeShift re-expresses a low-resolution cell id as a high-resolution
// interval: each low-res cell covers 2^(2*(HighSteps-LowSteps)) high-res
// cells with numerically contiguous ids.
const rangeShift = 2 * (HighSteps - LowSteps)

// neighborCount is an invariant of the two-ring neighbor scheme. A range
// builder that silently under-covers would produce wrong proximity results,
// so any other count is treated as a fatal encoding error.
const neighborCount = 16

// Range is a half-open interval [Lower, Upper) of high-resolution cell ids.
type Range struct {
	Lower uint64
	Upper uint64
}

// Contains reports whether a high-resolution cell id falls inside the range.
func (r Range) Contains(cell uint64) bool {
	return cell >= r.Lower && cell < r.Upper
}

// ProximityRanges derives the 17 high-resolution ranges whose union covers
// the low-resolution cell and its 16 neighbors. Adjacency at low resolution
// does not imply numeric adjacency of high-resolution ids, so the
// neighborhood is enumerated explicitly and each cell becomes one bounded
// range scan.
func ProximityRanges(lowCell uint64) ([]Range, error) {
	neighbors := Neighbors(lowCell, LowSteps)
	if len(neighbors) != neighborCount {
		return nil, fmt.Errorf("unexpected neighbor count: got %d, want %d", len(neighbors), neighborCount)
	}

	cells := append(neighbors, lowCell)
	ranges := make([]Range, 0, len(cells))
	for _, cell := range cells {
		ranges = append(ranges, Range{
			Lower: cell << rangeShift,
			Upper: (cell + 1) << rangeShift,
		})
	}
	return ranges, nil
}
