package api

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestDecodePolylineKnownExample(t *testing.T) {
	// The canonical Google Maps polyline algorithm example:
	// (38.5,-120.2),(40.7,-120.95),(43.252,-126.453).
	points, err := decodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	assert.NoError(t, err)
	want := [][2]float64{
		{38.5, -120.2},
		{40.7, -120.95},
		{43.252, -126.453},
	}
	assert.Equal(t, len(want), len(points))
	for i, w := range want {
		assert.True(t, abs(points[i].Lat-w[0]) <= 1e-5)
		assert.True(t, abs(points[i].Lng-w[1]) <= 1e-5)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestParsePolylineLocationsStripsEncPrefix(t *testing.T) {
	points, err := parsePolylineLocations("enc:_p~iF~ps|U_ulLnnqC_mqNvxq`@", 10)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(points))
}

func TestParsePolylineLocationsRejectsTooMany(t *testing.T) {
	_, err := parsePolylineLocations("_p~iF~ps|U_ulLnnqC_mqNvxq`@", 1)
	assert.Error(t, err)
}
