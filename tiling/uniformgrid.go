package tiling

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/maypok86/otter/v2"

	"github.com/haugland/terrainquery/metrics"
)

// gridCoord is the integer-degree southwest corner of a uniform-grid tile.
type gridCoord struct {
	lat, lng int
}

// UniformGrid is a Scheme for SRTM-style datasets: each raster covers a
// fixed-size integer-degree tile, and its filename encodes the tile's
// southwest corner. Locate is a pure arithmetic computation (floor(lat),
// floor(lng)) followed by a filesystem existence check, whose result is
// remembered in a bounded negative cache so repeated misses on the same
// coordinate don't repeatedly stat the filesystem.
type UniformGrid struct {
	Dir             string
	TileSizeDegrees int // commonly 1.
	// Filename returns the filename (not full path) for the tile whose
	// southwest corner is (swLat, swLng), e.g. "N34W118.hgt".
	Filename func(swLat, swLng int) string

	existsCache *otter.Cache[gridCoord, bool]
}

// NewUniformGrid returns a Scheme over files in dir named by filename, with
// a cache of up to cacheSize existence lookups (default 4096).
func NewUniformGrid(dir string, tileSizeDegrees int, filename func(swLat, swLng int) string, cacheSize int) (*UniformGrid, error) {
	if tileSizeDegrees <= 0 {
		tileSizeDegrees = 1
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := otter.New(&otter.Options[gridCoord, bool]{MaximumSize: cacheSize})
	if err != nil {
		return nil, err
	}
	return &UniformGrid{
		Dir:             dir,
		TileSizeDegrees: tileSizeDegrees,
		Filename:        filename,
		existsCache:     cache,
	}, nil
}

func (g *UniformGrid) Locate(lat, lng float64) (path string, ok bool) {
	size := float64(g.TileSizeDegrees)
	swLat := int(math.Floor(lat/size)) * g.TileSizeDegrees
	swLng := int(math.Floor(lng/size)) * g.TileSizeDegrees
	coord := gridCoord{lat: swLat, lng: swLng}

	name := g.Filename(swLat, swLng)
	full := filepath.Join(g.Dir, name)

	if _, ok := g.existsCache.GetIfPresent(coord); ok {
		metrics.GridNegativeCacheHits.Inc()
	} else {
		metrics.GridNegativeCacheMisses.Inc()
	}

	exists, err := g.existsCache.Get(context.Background(), coord, otter.LoaderFunc[gridCoord, bool](func(context.Context, gridCoord) (bool, error) {
		_, statErr := os.Stat(full)
		return statErr == nil, nil
	}))
	if err != nil || !exists {
		return "", false
	}
	return full, true
}

// SRTMFilename is the canonical SRTM .hgt naming convention: southwest
// corner encoded as N/S and E/W with zero-padded degrees, e.g. N34W118.hgt.
func SRTMFilename(swLat, swLng int) string {
	ns, lat := 'N', swLat
	if swLat < 0 {
		ns, lat = 'S', -swLat
	}
	ew, lng := 'E', swLng
	if swLng < 0 {
		ew, lng = 'W', -swLng
	}
	return fmt.Sprintf("%c%02d%c%03d.hgt", ns, lat, ew, lng)
}

// PathTemplateFilename builds a uniform-grid Filename func from a
// configured template substituting {N|S}, {E|W}, {lat}, and {lng} for the
// tile's southwest corner, e.g. "{N|S}{lat}{E|W}{lng}.hgt" reproduces
// SRTMFilename. lat is zero-padded to 2 digits, lng to 3, matching the SRTM
// convention this scheme is normally used for.
func PathTemplateFilename(template string) func(swLat, swLng int) string {
	return func(swLat, swLng int) string {
		ns, lat := "N", swLat
		if swLat < 0 {
			ns, lat = "S", -swLat
		}
		ew, lng := "E", swLng
		if swLng < 0 {
			ew, lng = "W", -swLng
		}
		r := strings.NewReplacer(
			"{N|S}", ns,
			"{E|W}", ew,
			"{lat}", fmt.Sprintf("%02d", lat),
			"{lng}", fmt.Sprintf("%03d", lng),
		)
		return r.Replace(template)
	}
}
