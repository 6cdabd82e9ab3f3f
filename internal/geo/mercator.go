package geo

import "math"

const (
	// MercatorMax is the half-side of the square Web Mercator bounding box
	// in meters. The projected plane spans [-MercatorMax, MercatorMax] on
	// both axes.
	MercatorMax = 20037726.37

	degToRad = math.Pi / 180.0
)

// Project converts WGS84 longitude/latitude into planar Mercator meters.
// Registration, posting and querying all go through this one function so
// that every caller lands in the same grid.
func Project(lon, lat float64) (x, y float64) {
	x = lon * MercatorMax / 180.0
	y = (MercatorMax / 180.0) * math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / degToRad
	return x, y
}
