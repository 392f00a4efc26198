// Package query implements the dataset query engine: the orchestration
// that turns a batch of geographic points into elevations by resolving
// tiles, grouping points that share a tile, reading each tile's pixels
// once, and interpolating per point. This is the system's core; the HTTP
// request adapter in package api is a thin translation layer in front of
// it.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/haugland/terrainquery/dataset"
	"github.com/haugland/terrainquery/interpolate"
	"github.com/haugland/terrainquery/raster"
)

// ErrDatasetNotFound aborts the whole batch: the named dataset is not
// registered. Per-point failures never use this error.
var ErrDatasetNotFound = errors.New("query: dataset not found")

// DefaultBoundingAreaFraction is the fraction of a tile's pixel area past
// which a group's bounding window is considered too sparse to read as one
// block; the engine falls back to one small read per point instead.
const DefaultBoundingAreaFraction = 0.5

// outOfBoundsSentinel fills window cells that fall outside a raster's
// bounds when the raster itself declares no NODATA value, so those cells
// still poison any kernel footprint that touches them rather than silently
// extrapolating past the tile edge.
const outOfBoundsSentinel = -3.4028234663852886e38

// Result is one point's outcome. Elevation is nil whenever Error is set,
// and also, with Error empty, when the point resolved to NODATA or no
// coverage under the permissive policy; Error is set for InvalidPoint and
// for NODATA/uncovered points under the strict policy.
type Result struct {
	Location Point
	Elevation *float64
	Error     string
}

// Response is the engine's reply to one batch query, in input order.
type Response struct {
	Results []Result
}

// Engine is the dataset query engine. The zero value uses
// DefaultBoundingAreaFraction.
type Engine struct {
	Registry *dataset.Registry

	// BoundingAreaFraction overrides DefaultBoundingAreaFraction when > 0.
	BoundingAreaFraction float64
}

// NewEngine builds an Engine over registry.
func NewEngine(registry *dataset.Registry) *Engine {
	return &Engine{Registry: registry}
}

func (e *Engine) boundingAreaFraction() float64 {
	if e.BoundingAreaFraction > 0 {
		return e.BoundingAreaFraction
	}
	return DefaultBoundingAreaFraction
}

type pendingPoint struct {
	index int
	lat   float64
	lng   float64
}

// Query resolves points against the named dataset and returns one Result
// per point in input order. A non-nil error means the whole batch failed
// (unknown dataset, corrupt raster, I/O error); per-point failures are
// reported inside Response.Results instead.
func (e *Engine) Query(ctx context.Context, datasetName string, points []Point, kernelOverride *interpolate.Kernel) (Response, error) {
	ds, ok := e.Registry.Get(datasetName)
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, datasetName)
	}

	kernel := ds.DefaultKernel
	if kernelOverride != nil {
		kernel = *kernelOverride
	}

	results := make([]Result, len(points))
	groups := make(map[string][]pendingPoint)

	for i, p := range points {
		lng := wrapLng(p.Lng)
		if !validLat(p.Lat) {
			results[i] = Result{
				Location: Point{Lat: p.Lat, Lng: lng},
				Error:    "InvalidPoint: latitude out of range",
			}
			continue
		}
		path, ok := ds.Scheme.Locate(p.Lat, lng)
		if !ok {
			results[i] = e.policyResult(ds, Point{Lat: p.Lat, Lng: lng}, "Uncovered: no tile covers this point")
			continue
		}
		groups[path] = append(groups[path], pendingPoint{index: i, lat: p.Lat, lng: lng})
	}

	for path, members := range groups {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		if err := e.queryGroup(ctx, ds, path, kernel, members, results); err != nil {
			return Response{}, err
		}
	}

	return Response{Results: results}, nil
}

// queryGroup reads the tile at path once (or, past the sparseness
// threshold, once per point) and fills results for every member.
func (e *Engine) queryGroup(ctx context.Context, ds *dataset.Dataset, path string, kernel interpolate.Kernel, members []pendingPoint, results []Result) error {
	r, err := ds.OpenRaster(path)
	if err != nil {
		return fmt.Errorf("opening raster %q: %w", path, err)
	}
	meta := r.Metadata()
	footprint := kernel.Footprint()

	fill := outOfBoundsSentinel
	nodata := &fill
	if meta.NoData != nil {
		fill = *meta.NoData
		nodata = meta.NoData
	}

	type anchor struct {
		row, col         int
		fracRow, fracCol float64
	}
	anchors := make([]anchor, len(members))

	minRow, minCol := math.MaxInt, math.MaxInt
	maxRow, maxCol := math.MinInt, math.MinInt
	for i, m := range members {
		row, col := meta.Transform.RowCol(m.lat, m.lng)
		anchorRow, anchorCol, fracRow, fracCol := kernel.Anchor(row, col)
		anchors[i] = anchor{row: anchorRow, col: anchorCol, fracRow: fracRow, fracCol: fracCol}
		if anchorRow < minRow {
			minRow = anchorRow
		}
		if anchorCol < minCol {
			minCol = anchorCol
		}
		if anchorRow+footprint > maxRow {
			maxRow = anchorRow + footprint
		}
		if anchorCol+footprint > maxCol {
			maxCol = anchorCol + footprint
		}
	}

	boundingRows := maxRow - minRow
	boundingCols := maxCol - minCol
	boundingArea := float64(boundingRows) * float64(boundingCols)
	tileArea := float64(meta.Width) * float64(meta.Height)
	sparse := tileArea > 0 && boundingArea > e.boundingAreaFraction()*tileArea

	if sparse {
		for i, m := range members {
			a := anchors[i]
			window, err := r.ReadWindow(ctx, a.row, a.col, footprint, footprint, fill)
			if err != nil {
				return fmt.Errorf("reading %q: %w", path, err)
			}
			e.emit(ds, results, m, window, kernel, a.fracRow, a.fracCol, nodata)
		}
		return nil
	}

	window, err := r.ReadWindow(ctx, minRow, minCol, boundingRows, boundingCols, fill)
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	for i, m := range members {
		a := anchors[i]
		sub := window.Sub(a.row-minRow, a.col-minCol, footprint, footprint)
		e.emit(ds, results, m, sub, kernel, a.fracRow, a.fracCol, nodata)
	}
	return nil
}

func (e *Engine) emit(ds *dataset.Dataset, results []Result, m pendingPoint, window raster.Window, kernel interpolate.Kernel, fracRow, fracCol float64, nodata *float64) {
	loc := Point{Lat: m.lat, Lng: m.lng}
	value, isNoData := interpolate.Sample(window, kernel, fracRow, fracCol, nodata)
	if isNoData {
		results[m.index] = e.policyResult(ds, loc, "NoData: interpolation footprint contains a NODATA sample")
		return
	}
	rounded := roundTo(value, ds.OutputDecimals)
	results[m.index] = Result{Location: loc, Elevation: &rounded}
}

// policyResult builds the per-point result for an Uncovered or NoData
// outcome, honoring the dataset's configured policy.
func (e *Engine) policyResult(ds *dataset.Dataset, loc Point, reason string) Result {
	if ds.NoDataPolicy == dataset.NoDataPolicyError {
		return Result{Location: loc, Error: reason}
	}
	return Result{Location: loc}
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
