package raster

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Open opens path, dispatching on its extension. For .hgt files the
// southwest corner is parsed from the filename's N/S/E/W convention (e.g.
// "N34W118.hgt"); callers with a manifest-provided corner should use
// NewHGT directly instead.
func Open(path string, options ...GeoTIFFOption) (Reader, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".tif", ".tiff":
		return NewGeoTIFF(path, options...)
	case ".hgt":
		swLat, swLng, err := ParseHGTFilename(filepath.Base(path))
		if err != nil {
			return nil, err
		}
		return NewHGT(path, swLat, swLng)
	default:
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
}

// ParseHGTFilename parses the SRTM southwest-corner naming convention, e.g.
// "N34W118.hgt" -> (34, -118), "S01E010.hgt" -> (-1, 10).
func ParseHGTFilename(name string) (swLat, swLng float64, err error) {
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".hgt"), ".HGT")
	if len(name) != 7 {
		return 0, 0, fmt.Errorf("%w: malformed .hgt filename %q", ErrUnsupportedFormat, name)
	}
	ns, latDigits, ew, lngDigits := name[0], name[1:3], name[3], name[4:7]

	lat, err := strconv.Atoi(latDigits)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed .hgt filename %q", ErrUnsupportedFormat, name)
	}
	lng, err := strconv.Atoi(lngDigits)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed .hgt filename %q", ErrUnsupportedFormat, name)
	}

	switch ns {
	case 'N':
	case 'S':
		lat = -lat
	default:
		return 0, 0, fmt.Errorf("%w: malformed .hgt filename %q", ErrUnsupportedFormat, name)
	}
	switch ew {
	case 'E':
	case 'W':
		lng = -lng
	default:
		return 0, 0, fmt.Errorf("%w: malformed .hgt filename %q", ErrUnsupportedFormat, name)
	}
	return float64(lat), float64(lng), nil
}
