// Package tiling resolves a geographic point to the single raster file
// that covers it within a dataset, for each of the three tiling schemes a
// dataset may declare.
package tiling

// Scheme maps a lat/lng to the path of the raster file covering it. A
// Scheme is built once at dataset load and is safe for concurrent reads
// thereafter; it is never mutated by Locate.
type Scheme interface {
	// Locate returns the path of the raster covering (lat, lng), or ok=false
	// if the point falls outside the dataset's coverage.
	Locate(lat, lng float64) (path string, ok bool)
}
