package query

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gopkg.in/yaml.v2"

	"github.com/haugland/terrainquery/dataset"
	"github.com/haugland/terrainquery/interpolate"
)

func writeHGTConstant(t *testing.T, path string, size int, value int16) {
	t.Helper()
	writeHGTGrid(t, path, size, func(row, col int) int16 { return value })
}

func writeHGTGrid(t *testing.T, path string, size int, value func(row, col int) int16) {
	t.Helper()
	f, err := os.Create(path)
	assert.NoError(t, err)
	defer f.Close()
	row := make([]byte, size*2)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			binary.BigEndian.PutUint16(row[c*2:c*2+2], uint16(value(r, c)))
		}
		_, err := f.Write(row)
		assert.NoError(t, err)
	}
}

func writeYAML(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := yaml.Marshal(v)
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(path, data, 0o644))
}

func loadRegistry(t *testing.T, datasets []dataset.DatasetConfig) *dataset.Registry {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeYAML(t, configPath, dataset.Config{Datasets: datasets})
	registry, err := dataset.Load(configPath)
	assert.NoError(t, err)
	return registry
}

func TestQueryNearestSinglePoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N00E000.hgt")
	writeHGTConstant(t, path, 1201, 42)

	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "test", Tiling: dataset.TilingSingle, Path: path, Interpolation: "nearest"},
	})
	engine := NewEngine(registry)

	resp, err := engine.Query(context.Background(), "test", []Point{{Lat: 0.5, Lng: 0.5}}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(resp.Results))
	r := resp.Results[0]
	assert.Equal(t, "", r.Error)
	assert.True(t, r.Elevation != nil)
	assert.Equal(t, float64(42), *r.Elevation)
}

func TestQueryUnknownDatasetFailsWholeBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N00E000.hgt")
	writeHGTConstant(t, path, 1201, 1)
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "test", Tiling: dataset.TilingSingle, Path: path},
	})
	engine := NewEngine(registry)

	_, err := engine.Query(context.Background(), "nope", []Point{{Lat: 0, Lng: 0}}, nil)
	assert.Error(t, err)
}

func TestQueryInvalidLatitudeDoesNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N00E000.hgt")
	writeHGTConstant(t, path, 1201, 7)
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "test", Tiling: dataset.TilingSingle, Path: path, Interpolation: "nearest"},
	})
	engine := NewEngine(registry)

	resp, err := engine.Query(context.Background(), "test", []Point{
		{Lat: 91, Lng: 0},
		{Lat: 0.5, Lng: 0.5},
	}, nil)
	assert.NoError(t, err)
	assert.True(t, resp.Results[0].Error != "")
	assert.Equal(t, "", resp.Results[1].Error)
	assert.True(t, resp.Results[1].Elevation != nil)
	assert.Equal(t, float64(7), *resp.Results[1].Elevation)
}

func TestQueryUncoveredUnderNullPolicy(t *testing.T) {
	dir := t.TempDir()
	writeHGTConstant(t, filepath.Join(dir, "N34W118.hgt"), 1201, 500)
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "srtm", Tiling: dataset.TilingUniformGrid, Dir: dir, NoDataPolicy: dataset.NoDataPolicyNull},
	})
	engine := NewEngine(registry)

	resp, err := engine.Query(context.Background(), "srtm", []Point{
		{Lat: 34.5, Lng: -117.5},
		{Lat: 0.1, Lng: 0.1},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "", resp.Results[0].Error)
	assert.True(t, resp.Results[0].Elevation != nil)
	assert.Equal(t, "", resp.Results[1].Error)
	assert.True(t, resp.Results[1].Elevation == nil)
	assert.Equal(t, 0.1, resp.Results[1].Location.Lat)
	assert.Equal(t, 0.1, resp.Results[1].Location.Lng)
}

func TestQueryUncoveredUnderErrorPolicy(t *testing.T) {
	dir := t.TempDir()
	writeHGTConstant(t, filepath.Join(dir, "N34W118.hgt"), 1201, 500)
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "srtm", Tiling: dataset.TilingUniformGrid, Dir: dir, NoDataPolicy: dataset.NoDataPolicyError},
	})
	engine := NewEngine(registry)

	resp, err := engine.Query(context.Background(), "srtm", []Point{{Lat: 0.1, Lng: 0.1}}, nil)
	assert.NoError(t, err)
	assert.True(t, resp.Results[0].Error != "")
}

func TestQueryNoDataPropagation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N00E000.hgt")
	writeHGTGrid(t, path, 1201, func(row, col int) int16 {
		if row == 600 && col == 601 {
			return -32768
		}
		return 100
	})
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "test", Tiling: dataset.TilingSingle, Path: path, Interpolation: "bilinear"},
	})
	engine := NewEngine(registry)

	// Row 600 is lat = 1 - 600/1200 = 0.5; col 600.5 sits between pixel
	// columns 600 and 601, so its bilinear footprint includes (600,601).
	lat := 1.0 - 600.0/1200.0
	lng := 600.5 / 1200.0
	resp, err := engine.Query(context.Background(), "test", []Point{{Lat: lat, Lng: lng}}, nil)
	assert.NoError(t, err)
	assert.True(t, resp.Results[0].Elevation == nil)
}

func TestQueryBatchGroupingMatchesPerPointQueries(t *testing.T) {
	dir := t.TempDir()
	writeHGTGrid(t, filepath.Join(dir, "N34W118.hgt"), 1201, func(row, col int) int16 {
		return int16(2*row + col)
	})
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "srtm", Tiling: dataset.TilingUniformGrid, Dir: dir, Interpolation: "bilinear"},
	})
	engine := NewEngine(registry)

	points := []Point{
		{Lat: 34.500, Lng: -117.500},
		{Lat: 34.501, Lng: -117.499},
		{Lat: 34.499, Lng: -117.501},
	}
	batch, err := engine.Query(context.Background(), "srtm", points, nil)
	assert.NoError(t, err)
	for i, p := range points {
		single, err := engine.Query(context.Background(), "srtm", []Point{p}, nil)
		assert.NoError(t, err)
		assert.Equal(t, *single.Results[0].Elevation, *batch.Results[i].Elevation)
	}
}

func TestQuerySparseGroupFallbackMatchesDenseGroup(t *testing.T) {
	dir := t.TempDir()
	writeHGTGrid(t, filepath.Join(dir, "N34W118.hgt"), 1201, func(row, col int) int16 {
		return int16(2*row + col)
	})
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "srtm", Tiling: dataset.TilingUniformGrid, Dir: dir, Interpolation: "nearest"},
	})
	engine := NewEngine(registry)

	// Two points at opposite corners of the tile: their nearest-neighbor
	// bounding box spans nearly the whole tile, past the sparseness
	// threshold, forcing the per-point fallback path.
	corners := []Point{
		{Lat: 34.001, Lng: -117.999},
		{Lat: 34.999, Lng: -117.001},
	}
	resp, err := engine.Query(context.Background(), "srtm", corners, nil)
	assert.NoError(t, err)
	for i, p := range corners {
		single, err := engine.Query(context.Background(), "srtm", []Point{p}, nil)
		assert.NoError(t, err)
		assert.Equal(t, *single.Results[0].Elevation, *resp.Results[i].Elevation)
	}
}

func TestQueryLongitudeWrapEquivalence(t *testing.T) {
	dir := t.TempDir()
	writeHGTConstant(t, filepath.Join(dir, "N00W180.hgt"), 1201, 9)
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "test", Tiling: dataset.TilingUniformGrid, Dir: dir, Interpolation: "nearest"},
	})
	engine := NewEngine(registry)

	a, err := engine.Query(context.Background(), "test", []Point{{Lat: 0.5, Lng: 180.5}}, nil)
	assert.NoError(t, err)
	b, err := engine.Query(context.Background(), "test", []Point{{Lat: 0.5, Lng: -179.5}}, nil)
	assert.NoError(t, err)
	assert.True(t, a.Results[0].Elevation != nil)
	assert.True(t, b.Results[0].Elevation != nil)
	assert.Equal(t, *b.Results[0].Elevation, *a.Results[0].Elevation)
}

// writeGeoTIFFGrid2x2 writes a minimal, single-strip, uncompressed classic
// little-endian GeoTIFF covering the spec's 2x2 example scenario, enough to
// drive the engine end to end (tags 256/257/258/259/262/273/277/278/279/284
// /339/33550/33922; raster.NewGeoTIFF treats the predictor, tile and
// GDAL_NODATA tags it also reads as optional).
func writeGeoTIFFGrid2x2(t *testing.T, path string, grid [2][2]int16, originLat, originLng float64) {
	t.Helper()

	raw := make([]byte, 2*2*2)
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			binary.LittleEndian.PutUint16(raw[(r*2+c)*2:], uint16(grid[r][c]))
		}
	}

	u16 := func(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
	u32 := func(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
	f64 := func(vs ...float64) []byte {
		b := make([]byte, 8*len(vs))
		for i, v := range vs {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
		}
		return b
	}

	type tag struct {
		id, typ uint16
		count   uint32
		value   []byte
	}
	const (
		typShort  = 3
		typLong   = 4
		typDouble = 12
	)
	tags := []tag{
		{256, typLong, 1, u32(2)},       // ImageWidth.
		{257, typLong, 1, u32(2)},       // ImageLength.
		{258, typShort, 1, u16(16)},     // BitsPerSample.
		{259, typShort, 1, u16(1)},      // Compression: none.
		{262, typShort, 1, u16(1)},      // PhotometricInterpretation.
		{273, typLong, 1, nil},          // StripOffsets, patched below.
		{277, typShort, 1, u16(1)},      // SamplesPerPixel.
		{278, typLong, 1, u32(2)},       // RowsPerStrip.
		{279, typLong, 1, u32(uint32(len(raw)))}, // StripByteCounts.
		{284, typShort, 1, u16(1)},      // PlanarConfiguration.
		{339, typShort, 1, u16(2)},      // SampleFormat: signed integer.
		{33550, typDouble, 3, f64(1, 1, 0)},
		{33922, typDouble, 6, f64(0, 0, 0, originLng, originLat, 0)},
	}

	const ifdOffset = 8
	ifdSize := 2 + 12*len(tags) + 4
	externalStart := ifdOffset + ifdSize
	offsets := make([]uint32, len(tags))
	offset := externalStart
	for i, tg := range tags {
		if len(tg.value) > 4 {
			offsets[i] = uint32(offset)
			offset += len(tg.value)
		}
	}
	stripOffset := uint32(offset)
	tags[5].value = u32(stripOffset)

	var buf []byte
	put := func(b []byte) { buf = append(buf, b...) }
	buf = append(buf, 'I', 'I')
	put(u16(42))
	put(u32(uint32(ifdOffset)))
	put(u16(uint16(len(tags))))
	for i, tg := range tags {
		put(u16(tg.id))
		put(u16(tg.typ))
		put(u32(tg.count))
		field := make([]byte, 4)
		if len(tg.value) > 4 {
			binary.LittleEndian.PutUint32(field, offsets[i])
		} else {
			copy(field, tg.value)
		}
		put(field)
	}
	put(u32(0))
	for _, tg := range tags {
		if len(tg.value) > 4 {
			put(tg.value)
		}
	}
	put(raw)

	assert.NoError(t, os.WriteFile(path, buf, 0o644))
}

// TestQueryGeoTIFFNearestAndBilinear exercises the engine end to end over a
// GeoTIFF dataset, reproducing the 2x2 nearest/bilinear scenario: row/col
// derive from originLat=57/originLng=122, pixelWidth=1, pixelHeight=-1, so
// row = 57-lat and col = lng-122.
func TestQueryGeoTIFFNearestAndBilinear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.tif")
	grid := [2][2]int16{{815, 820}, {810, 805}}
	writeGeoTIFFGrid2x2(t, path, grid, 57, 122)

	nearest := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "nearest", Tiling: dataset.TilingSingle, Path: path, Interpolation: "nearest"},
	})
	engine := NewEngine(nearest)

	// row=0.3, col=0.2: both round to the (0,0) pixel under nearest.
	resp, err := engine.Query(context.Background(), "nearest", []Point{{Lat: 56.7, Lng: 122.2}}, nil)
	assert.NoError(t, err)
	assert.True(t, resp.Results[0].Elevation != nil)
	assert.Equal(t, float64(815), *resp.Results[0].Elevation)

	bilinear := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "bilinear", Tiling: dataset.TilingSingle, Path: path, Interpolation: "bilinear"},
	})
	engine = NewEngine(bilinear)

	// row=0.5, col=0.99: a blend of all four corners, strictly between the
	// grid's min (805) and max (820).
	resp, err = engine.Query(context.Background(), "bilinear", []Point{{Lat: 56.5, Lng: 122.99}}, nil)
	assert.NoError(t, err)
	assert.True(t, resp.Results[0].Elevation != nil)
	got := *resp.Results[0].Elevation
	assert.True(t, got > 805 && got < 820)
}

func TestQueryKernelOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N00E000.hgt")
	writeHGTGrid(t, path, 1201, func(row, col int) int16 { return int16(2*row + col) })
	registry := loadRegistry(t, []dataset.DatasetConfig{
		{Name: "test", Tiling: dataset.TilingSingle, Path: path, Interpolation: "nearest"},
	})
	engine := NewEngine(registry)

	override := interpolate.KernelBilinear
	resp, err := engine.Query(context.Background(), "test", []Point{{Lat: 0.5, Lng: 0.5}}, &override)
	assert.NoError(t, err)
	assert.True(t, resp.Results[0].Elevation != nil)
}
