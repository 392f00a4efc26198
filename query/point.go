package query

import "math"

// Point is a geographic location in the request's own coordinate system,
// before longitude wrapping.
type Point struct {
	Lat float64
	Lng float64
}

// wrapLng folds lng into [-180, 180), treating 180 and -180 as the same
// meridian so that a query at 181° and one at -179° return identical
// results (§8's longitude-wrap equivalence property).
func wrapLng(lng float64) float64 {
	if lng >= -180 && lng < 180 {
		return lng
	}
	w := math.Mod(lng+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

// validLat reports whether lat is within the engine's accepted range.
// Values outside [-90, 90] have no sensible raster row and are rejected
// per-point rather than wrapped.
func validLat(lat float64) bool {
	return lat >= -90 && lat <= 90
}
