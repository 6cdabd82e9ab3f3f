package geo

const (
	// HighSteps is the per-axis bit precision used to store a message's
	// exact cell.
	HighSteps = 26

	// LowSteps is the per-axis bit precision used for neighborhood lookup.
	// At 19 steps a cell side is 2*MercatorMax/2^19 ≈ 76.4 m.
	LowSteps = 19

	xMask = 0xAAAAAAAAAAAAAAAA // longitude bits, odd positions
	yMask = 0x5555555555555555 // latitude bits, even positions
)

// Encode quantizes a projected point into an interleaved integer cell id at
// the given resolution. Longitude bits occupy the odd positions, latitude
// bits the even ones. Deterministic: the same point at the same resolution
// always yields the same id.
func Encode(x, y float64, steps uint) uint64 {
	var bits uint64
	xmin, xmax := -MercatorMax, MercatorMax
	ymin, ymax := -MercatorMax, MercatorMax

	for i := uint(0); i < steps; i++ {
		bits <<= 1
		if mid := (xmin + xmax) / 2; x >= mid {
			bits |= 1
			xmin = mid
		} else {
			xmax = mid
		}
		bits <<= 1
		if mid := (ymin + ymax) / 2; y >= mid {
			bits |= 1
			ymin = mid
		} else {
			ymax = mid
		}
	}

	return bits
}

// EncodePoint projects a WGS84 coordinate and encodes it in one call.
func EncodePoint(lon, lat float64, steps uint) uint64 {
	x, y := Project(lon, lat)
	return Encode(x, y, steps)
}

// Neighbors returns the 16 cells surrounding the given cell: the eight
// compass-direction neighbors and, for each direction, the second-ring cell
// reached by applying the same unit move twice. Two rings are needed
// because a 76 m disc around a point near a cell edge can reach past the
// immediately adjacent cell.
func Neighbors(cell uint64, steps uint) []uint64 {
	dirs := [8][2]int{
		{0, 1},   // N
		{1, 0},   // E
		{-1, 0},  // W
		{0, -1},  // S
		{-1, -1}, // SW
		{1, -1},  // SE
		{-1, 1},  // NW
		{1, 1},   // NE
	}

	out := make([]uint64, 0, 16)
	for _, d := range dirs {
		first := moveCell(cell, steps, d[0], d[1])
		out = append(out, first, moveCell(first, steps, d[0], d[1]))
	}
	return out
}

func moveCell(cell uint64, steps uint, dx, dy int) uint64 {
	return moveY(moveX(cell, steps, dx), steps, dy)
}

// moveX shifts a cell one column east (d>0) or west (d<0). The trick is to
// fill the interleaved gap bits with ones so that a single integer add
// carries across them, then mask the result back to the longitude bits.
func moveX(cell uint64, steps uint, d int) uint64 {
	if d == 0 {
		return cell
	}
	x := cell & xMask
	y := cell & yMask
	zz := uint64(yMask) >> (64 - steps*2)
	if d > 0 {
		x += zz + 1
	} else {
		x |= zz
		x -= zz + 1
	}
	x &= uint64(xMask) >> (64 - steps*2)
	return x | y
}

// moveY shifts a cell one row north (d>0) or south (d<0).
func moveY(cell uint64, steps uint, d int) uint64 {
	if d == 0 {
		return cell
	}
	x := cell & xMask
	y := cell & yMask
	zz := uint64(xMask) >> (64 - steps*2)
	if d > 0 {
		y += zz + 1
	} else {
		y |= zz
		y -= zz + 1
	}
	y &= uint64(yMask) >> (64 - steps*2)
	return x | y
}
