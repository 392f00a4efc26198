package api

import (
	"fmt"
	"strings"

	"github.com/haugland/terrainquery/query"
)

// polylinePrecision is Google's standard encoded-polyline scale factor.
const polylinePrecision = 1e5

// decodePolyline decodes Google's encoded polyline algorithm format: a
// run-length, delta-coded, base-64-like varint encoding of a path of
// (lat, lng) points. No ecosystem library in the example pack implements
// this narrow format, so it is hand-rolled against the published algorithm
// (the same one opentopodata's Python `polyline` dependency implements).
func decodePolyline(encoded string) ([]query.Point, error) {
	var points []query.Point
	var lat, lng int
	index := 0
	for index < len(encoded) {
		dlat, next, err := decodePolylineValue(encoded, index)
		if err != nil {
			return nil, err
		}
		lat += dlat
		index = next

		dlng, next, err := decodePolylineValue(encoded, index)
		if err != nil {
			return nil, err
		}
		lng += dlng
		index = next

		points = append(points, query.Point{
			Lat: float64(lat) / polylinePrecision,
			Lng: float64(lng) / polylinePrecision,
		})
	}
	return points, nil
}

// decodePolylineValue decodes one delta-coded signed value starting at
// index, returning the value and the index just past it.
func decodePolylineValue(encoded string, index int) (value int, next int, err error) {
	shift := 0
	result := 0
	for {
		if index >= len(encoded) {
			return 0, 0, fmt.Errorf("unable to parse locations as polyline: truncated value")
		}
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		value = ^(result >> 1)
	} else {
		value = result >> 1
	}
	return value, index, nil
}

// parsePolylineLocations parses the "locations" argument in Google polyline
// format, stripping the optional "enc:" prefix Google Maps APIs use.
func parsePolylineLocations(locations string, maxLocations int) ([]query.Point, error) {
	locations = strings.TrimPrefix(locations, "enc:")
	points, err := decodePolyline(locations)
	if err != nil {
		return nil, clientError("unable to parse locations as polyline")
	}
	if len(points) > maxLocations {
		return nil, clientError(fmt.Sprintf("too many locations provided (%d), the limit is %d", len(points), maxLocations))
	}
	return points, nil
}
