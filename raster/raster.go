// Package raster opens single geospatial raster files and reads rectangular
// pixel windows from them, decoding NODATA and honoring each file's own
// affine transform. It never reprojects and never writes.
package raster

import (
	"context"
	"errors"
	"fmt"
)

// DType is a closed set of sample encodings a Reader may report.
type DType int

const (
	DTypeInt16 DType = iota
	DTypeUint16
	DTypeInt32
	DTypeUint32
	DTypeFloat32
)

func (d DType) String() string {
	switch d {
	case DTypeInt16:
		return "int16"
	case DTypeUint16:
		return "uint16"
	case DTypeInt32:
		return "int32"
	case DTypeUint32:
		return "uint32"
	case DTypeFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// Transform is the affine mapping from pixel (row, col) to geographic
// (lat, lng). PixelHeight is usually negative (row 0 is northmost) but the
// reader must honor whatever sign the file declares.
type Transform struct {
	OriginLat   float64 // lat of pixel (0, 0)'s northwest corner.
	OriginLng   float64 // lng of pixel (0, 0)'s northwest corner.
	PixelWidth  float64 // lng delta per column, positive eastward.
	PixelHeight float64 // lat delta per row, negative southward in the common case.
}

// RowCol returns the fractional pixel (row, col) for a geographic point.
func (t Transform) RowCol(lat, lng float64) (row, col float64) {
	row = (lat - t.OriginLat) / t.PixelHeight
	col = (lng - t.OriginLng) / t.PixelWidth
	return row, col
}

// Metadata describes an opened raster without reading any pixels.
type Metadata struct {
	Transform Transform
	Width     int
	Height    int
	DType     DType
	NoData    *float64 // nil means the raster defines no NODATA sentinel.
	Path      string
}

// A Window holds a rectangular block of decoded samples, already expressed
// as float64 so that callers never branch on DType after reading.
type Window struct {
	Rows, Cols int
	Data       []float64 // row-major, len == Rows*Cols.
}

// At returns the sample at (row, col) within the window.
func (w Window) At(row, col int) float64 {
	return w.Data[row*w.Cols+col]
}

// Sub extracts a rows x cols sub-window anchored at (rowOffset, colOffset)
// within w, repacking it into its own contiguous buffer so the result can
// be indexed independently of w's stride.
func (w Window) Sub(rowOffset, colOffset, rows, cols int) Window {
	data := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data[r*cols+c] = w.At(rowOffset+r, colOffset+c)
		}
	}
	return Window{Rows: rows, Cols: cols, Data: data}
}

// Reader is the contract every raster format implements. A Reader's
// lifetime is owned by its caller; ReadWindow may be called many times
// between Open and Close.
type Reader interface {
	Metadata() Metadata
	// ReadWindow returns an nrows x ncols window anchored at (row0, col0) in
	// pixel space. Rows/cols outside [0,Height)x[0,Width) are filled with
	// fill (NODATA when the raster defines one, the caller's fill value
	// otherwise). The returned window always has shape nrows x ncols.
	ReadWindow(ctx context.Context, row0, col0, nrows, ncols int, fill float64) (Window, error)
	Close() error
}

// Sentinel errors for the taxonomy in §7 of the specification this package
// implements. Corrupt-file and unsupported-format errors wrap these via %w;
// failures while reading samples are reported as *IOError instead.
var (
	// ErrCorrupt means a file claims to be a supported format but its
	// structure is inconsistent or truncated.
	ErrCorrupt = errors.New("raster: corrupt file")
	// ErrUnsupportedFormat means the file is not one of the formats this
	// package knows how to decode.
	ErrUnsupportedFormat = errors.New("raster: unsupported format")
)

// IOError wraps a lower-level error encountered while reading a raster's
// samples, always fatal to the request (never a coverage miss). Errors from
// opening the file are returned unwrapped.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("raster %q: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
