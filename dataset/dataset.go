package dataset

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haugland/terrainquery/interpolate"
	"github.com/haugland/terrainquery/metrics"
	"github.com/haugland/terrainquery/raster"
	"github.com/haugland/terrainquery/tiling"
)

// DefaultRasterCacheSize is the default bound on open raster file handles
// pooled per dataset (§5 of the specification this package implements).
const DefaultRasterCacheSize = 64

// DefaultOutputDecimals preserves one decimal place, i.e. 1-meter
// precision, matching the spec's default rounding.
const DefaultOutputDecimals = 1

// Dataset is a named, ready-to-query collection of rasters. It is
// immutable once built by Load and safe for concurrent queries.
type Dataset struct {
	Name            string
	Scheme          tiling.Scheme
	DefaultKernel   interpolate.Kernel
	NoDataPolicy    NoDataPolicy
	OutputDecimals  int

	mu          sync.Mutex
	rasterCache *lru.Cache[string, raster.Reader]
}

// newDataset builds a Dataset with a bounded raster handle cache. Evicted
// entries are closed, so callers never leak file descriptors even under
// cache pressure.
func newDataset(name string, scheme tiling.Scheme, kernel interpolate.Kernel, policy NoDataPolicy, outputDecimals, cacheSize int) (*Dataset, error) {
	d := &Dataset{
		Name:           name,
		Scheme:         scheme,
		DefaultKernel:  kernel,
		NoDataPolicy:   policy,
		OutputDecimals: outputDecimals,
	}
	if cacheSize <= 0 {
		cacheSize = DefaultRasterCacheSize
	}
	cache, err := lru.NewWithEvict[string, raster.Reader](cacheSize, func(_ string, r raster.Reader) {
		metrics.RasterCacheEvictions.Inc()
		_ = r.Close()
	})
	if err != nil {
		return nil, err
	}
	d.rasterCache = cache
	return d, nil
}

// OpenRaster returns a Reader for path, opening it if it is not already
// pooled. The returned Reader must not be closed by the caller; it remains
// owned by the dataset's cache until evicted.
func (d *Dataset) OpenRaster(path string) (raster.Reader, error) {
	if r, ok := d.rasterCache.Get(path); ok {
		metrics.RasterCacheHits.Inc()
		return r, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rasterCache.Get(path); ok {
		metrics.RasterCacheHits.Inc()
		return r, nil
	}

	metrics.RasterCacheMisses.Inc()
	r, err := raster.Open(path)
	if err != nil {
		return nil, err
	}
	d.rasterCache.Add(path, r)
	return r, nil
}

// Close releases every pooled raster handle. Intended for tests and clean
// process shutdown; a running server normally lets handles live for the
// process lifetime.
func (d *Dataset) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, path := range d.rasterCache.Keys() {
		if r, ok := d.rasterCache.Peek(path); ok {
			_ = r.Close()
		}
	}
	d.rasterCache.Purge()
}
