package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/haugland/terrainquery/query"
)

// clientError is a request the adapter itself rejects before the engine
// ever sees it: an unparseable or malformed input. It always maps to
// statusInvalid.
type clientError string

func (e clientError) Error() string { return string(e) }

// parseLocations parses the "locations" request parameter, dispatching
// between the "lat,lng|lat,lng" format and Google's encoded-polyline
// format by the presence of a comma — the same heuristic
// opentopodata/api.py's _parse_locations uses.
func parseLocations(locations string, maxLocations int) ([]query.Point, error) {
	if locations == "" {
		return nil, clientError("no locations provided; add locations in a query string: ?locations=lat1,lng1|lat2,lng2")
	}
	if strings.Contains(locations, ",") {
		return parseLatLngLocations(locations, maxLocations)
	}
	return parsePolylineLocations(locations, maxLocations)
}

func parseLatLngLocations(locations string, maxLocations int) ([]query.Point, error) {
	parts := strings.Split(strings.Trim(locations, "|"), "|")
	if len(parts) > maxLocations {
		return nil, clientError(fmt.Sprintf("too many locations provided (%d), the limit is %d", len(parts), maxLocations))
	}

	points := make([]query.Point, len(parts))
	for i, part := range parts {
		lat, lng, ok := strings.Cut(part, ",")
		if !ok {
			return nil, clientError(fmt.Sprintf("unable to parse location %q in position %d; add locations like lat1,lng1|lat2,lng2", part, i+1))
		}
		latVal, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil {
			return nil, clientError(fmt.Sprintf("unable to parse location %q in position %d", part, i+1))
		}
		lngVal, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
		if err != nil {
			return nil, clientError(fmt.Sprintf("unable to parse location %q in position %d", part, i+1))
		}
		points[i] = query.Point{Lat: latVal, Lng: lngVal}
	}
	return points, nil
}
