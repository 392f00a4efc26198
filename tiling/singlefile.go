package tiling

// SingleFile is a Scheme backed by exactly one raster covering the whole
// dataset extent; it does not check the point against the raster's own
// bounds, since raster.Reader.ReadWindow already clips and fills out-of-
// bounds reads with NODATA.
type SingleFile struct {
	Path string
}

func (s SingleFile) Locate(lat, lng float64) (path string, ok bool) {
	return s.Path, true
}
